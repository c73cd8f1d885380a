package bgzf

import (
	"bytes"
	"io"
	"sync"

	"github.com/grailbio/pbgzf/perrors"
	"v.io/x/lib/vlog"
)

// Options configures a Writer. The zero value is not usable directly; call
// NewWriter, which fills in defaults for zero fields, the way the teacher's
// SortOptions / ShardedBAMWriter constructors do.
type Options struct {
	// CompressionLevel is passed to the deflater. Default 5. A value of 0
	// counts as unset and is replaced by DefaultCompressionLevel, so level 0
	// (no compression) cannot be selected; 1 through 9 pass through as is.
	CompressionLevel int
	// Parallelism sizes the DeflaterPool. Default DefaultParallelism.
	Parallelism int
	// NoTerminator, if true, suppresses the canonical BGZF EOF block that
	// Close would otherwise append. Default false (terminator is
	// written); set true when this Writer produces one shard of a larger
	// BGZF stream assembled by concatenation (the teacher's "multiple
	// compression shards" usage pattern), where only the last shard
	// should carry the terminator.
	NoTerminator bool
	// Indexer, if non-nil, is notified as each block is placed so it can
	// rewrite any buffered record's preliminary pointers. Usually a
	// *bamindex.DeferredIndexer.
	Indexer blockNotifier
}

// DefaultCompressionLevel is the deflate level used when
// Options.CompressionLevel is zero. It is an explicit level 5, not
// gzip.DefaultCompression (-1).
const DefaultCompressionLevel = 5

func (o Options) withDefaults() Options {
	if o.CompressionLevel == 0 {
		o.CompressionLevel = DefaultCompressionLevel
	}
	if o.Parallelism <= 0 {
		o.Parallelism = DefaultParallelism
	}
	return o
}

// Writer is the public byte-stream façade of the parallel BGZF encoder. It
// accumulates uncompressed bytes into a block buffer, hands full blocks to
// a DeflaterPool, and lets orderedSink place the resulting compressed
// blocks on the underlying writer in producer order. See spec section 4.5.
type Writer struct {
	opts Options
	w    io.Writer

	mu           sync.Mutex // protects buf/fill/nextBlockIdx against concurrent Write+GetFilePointer
	buf          []byte
	fill         int
	nextBlockIdx uint32

	sink           *orderedSink
	pool           *DeflaterPool
	closed         bool
	terminatorDone bool
	closeErr       error // set once Close (or a failed Write/Flush) fails; re-raised by subsequent calls
}

// NewWriter creates a Writer that emits a BGZF stream to w.
func NewWriter(w io.Writer, opts Options) *Writer {
	opts = opts.withDefaults()
	bw := &Writer{
		opts: opts,
		w:    w,
		buf:  make([]byte, DefaultUncompressedBlockSize),
	}
	bw.sink = newOrderedSink(w, opts.Parallelism, opts.Indexer)
	bw.pool = newDeflaterPool(opts.Parallelism, opts.CompressionLevel, bw.sink)
	return bw
}

// Write appends bytes to the uncompressed payload, submitting a block to
// the DeflaterPool (and possibly blocking on backpressure) whenever the
// block buffer fills.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closeErr != nil {
		return 0, w.closeErr
	}
	total := 0
	for len(p) > 0 {
		n := copy(w.buf[w.fill:], p)
		w.fill += n
		p = p[n:]
		total += n
		if w.fill == len(w.buf) {
			if err := w.emitCurrentBlockLocked(); err != nil {
				w.closeErr = err
				return total, err
			}
		}
	}
	return total, nil
}

// emitCurrentBlockLocked submits the current block buffer to the pool, if
// non-empty, and advances nextBlockIdx. Caller must hold w.mu.
func (w *Writer) emitCurrentBlockLocked() error {
	if w.fill == 0 {
		return nil
	}
	if err := w.pool.Submit(w.nextBlockIdx, w.buf[:w.fill]); err != nil {
		return perrors.E(perrors.IOFailure, "bgzf.Writer.emitCurrentBlock", err)
	}
	w.nextBlockIdx++
	w.fill = 0
	return nil
}

// Flush submits the current (possibly partial) block, then waits for every
// dispatched block to be compressed and handed to the orderedSink. It does
// not wait for the sink to write those blocks to the underlying writer;
// Close and CloseWithoutTerminator do.
func (w *Writer) Flush() error {
	w.mu.Lock()
	if w.closeErr != nil {
		w.mu.Unlock()
		return w.closeErr
	}
	err := w.emitCurrentBlockLocked()
	w.mu.Unlock()
	if err != nil {
		w.mu.Lock()
		w.closeErr = err
		w.mu.Unlock()
		return err
	}
	if err := w.pool.Flush(); err != nil {
		wrapped := perrors.E(perrors.IOFailure, "bgzf.Writer.Flush", err)
		w.mu.Lock()
		w.closeErr = wrapped
		w.mu.Unlock()
		return wrapped
	}
	return nil
}

// GetFilePointer returns the virtual pointer for the next byte to be
// written: the logical index of the block currently being filled, and the
// intra-block offset within it. This is a *preliminary* pointer (spec
// section 4.5) -- its blockAddress field is a logical block index, not a
// byte offset, and remains so until a DeferredIndexer rewrites it once the
// block is placed.
func (w *Writer) GetFilePointer() (uint32, uint16) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextBlockIdx, uint16(w.fill)
}

// CloseWithoutTerminator flushes all pending data but does not append the
// BGZF EOF block. Used when this Writer produces one shard of a larger
// BGZF stream assembled by concatenating shards (the teacher's
// "multiple compression shards" pattern).
func (w *Writer) CloseWithoutTerminator() error {
	w.mu.Lock()
	if w.closed {
		err := w.closeErr
		w.mu.Unlock()
		return err
	}
	w.closed = true
	w.mu.Unlock()

	if err := w.Flush(); err != nil {
		return err
	}
	if err := w.pool.Close(); err != nil {
		wrapped := perrors.E(perrors.IOFailure, "bgzf.Writer.Close", err)
		w.mu.Lock()
		w.closeErr = wrapped
		w.mu.Unlock()
		return wrapped
	}
	if err := w.sink.close(); err != nil {
		wrapped := perrors.E(perrors.IOFailure, "bgzf.Writer.Close", err)
		w.mu.Lock()
		w.closeErr = wrapped
		w.mu.Unlock()
		return wrapped
	}
	return nil
}

// Close finishes the stream: it flushes and stops the pool and sink (as
// CloseWithoutTerminator does) and then, unless Options.NoTerminator is
// set, appends the canonical 28-byte BGZF EOF block. Close is idempotent
// after a successful call; calling Close again after a failure re-raises
// the original error, per spec section 4.5.
func (w *Writer) Close() error {
	if err := w.CloseWithoutTerminator(); err != nil {
		return err
	}
	w.mu.Lock()
	if w.opts.NoTerminator || w.terminatorDone {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	if _, err := w.w.Write(EmptyGzipBlock); err != nil {
		wrapped := perrors.E(perrors.IOFailure, "bgzf.Writer.Close", err)
		w.mu.Lock()
		w.closeErr = wrapped
		w.mu.Unlock()
		return wrapped
	}
	w.mu.Lock()
	w.terminatorDone = true
	w.mu.Unlock()
	return nil
}

// CheckTerminator reads the last len(EmptyGzipBlock) bytes from a regular
// file and reports whether they match the canonical BGZF EOF terminator.
// Per spec section 6, this check is meaningful only for seekable sinks;
// callers writing to a pipe should skip it.
func CheckTerminator(r io.ReaderAt, size int64) error {
	n := int64(len(EmptyGzipBlock))
	if size < n {
		return perrors.E(perrors.MissingTerminator, "bgzf.CheckTerminator", nil, "file shorter than terminator")
	}
	tail := make([]byte, n)
	if _, err := r.ReadAt(tail, size-n); err != nil {
		return perrors.E(perrors.IOFailure, "bgzf.CheckTerminator", err)
	}
	if !bytes.Equal(tail, EmptyGzipBlock) {
		vlog.VI(1).Infof("bgzf: terminator mismatch, got % x", tail)
		return perrors.E(perrors.MissingTerminator, "bgzf.CheckTerminator", nil, "terminator bytes do not match")
	}
	return nil
}

package bgzf

import (
	"runtime"
	"sync"

	"github.com/grailbio/base/errors"
)

// DefaultParallelism is the default DeflaterPool size: one worker per
// hardware thread.
var DefaultParallelism = runtime.NumCPU()

// job is one unit of work dispatched to a DeflaterPool worker: the
// compress-and-place of a single uncompressed block.
type job struct {
	blockIdx uint32
	payload  []byte
}

// DeflaterPool is a fixed-size set of compressor workers. Submit dispatches
// an uncompressed block to the next available worker, blocking the caller
// when every worker is busy (spec section 4.3's backpressure requirement).
// Ordering of *dispatch* is FIFO because there is a single submitting
// goroutine (the Writer); ordering of *placement* on the output is enforced
// downstream by orderedSink, not by this pool.
type DeflaterPool struct {
	tasks chan job
	sink  *orderedSink
	level int

	wg       sync.WaitGroup // outstanding submitted jobs not yet handed to the sink
	workerWG sync.WaitGroup // live worker goroutines, for Close
	once     sync.Once
	errOnce  errors.Once
}

// newDeflaterPool starts parallelism long-lived workers, each compressing
// with its own blockCodec (no cross-worker deflate state, per spec section
// 4.2) and publishing through sink.
func newDeflaterPool(parallelism, level int, sink *orderedSink) *DeflaterPool {
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	if parallelism <= 0 {
		parallelism = 1
	}
	p := &DeflaterPool{
		tasks: make(chan job),
		sink:  sink,
		level: level,
	}
	p.workerWG.Add(parallelism)
	for i := 0; i < parallelism; i++ {
		go p.runWorker()
	}
	return p
}

func (p *DeflaterPool) runWorker() {
	defer p.workerWG.Done()
	codec := newBlockCodec(p.level)
	for j := range p.tasks {
		p.compressAndPublish(codec, j)
	}
}

func (p *DeflaterPool) compressAndPublish(codec *blockCodec, j job) {
	defer p.wg.Done()
	if p.errOnce.Err() != nil {
		return
	}
	compressed, err := codec.encode(j.payload)
	if err != nil {
		p.errOnce.Set(err)
		p.sink.abort(err)
		return
	}
	// Publishing: this may block until the sink's placement order reaches
	// j.blockIdx. The worker state machine of spec section 4.3
	// (Idle -> Busy -> Publishing -> Idle) is exactly this call stack: the
	// goroutine is "Busy" inside encode above and "Publishing" here.
	if err := p.sink.emit(j.blockIdx, compressed); err != nil {
		p.errOnce.Set(err)
	}
}

// Submit dispatches an uncompressed block at the given sequence index.
// Submit copies payload into a fresh buffer before returning, so the caller
// may reuse its block buffer immediately.
func (p *DeflaterPool) Submit(blockIdx uint32, payload []byte) error {
	if err := p.errOnce.Err(); err != nil {
		return err
	}
	cp := append([]byte(nil), payload...)
	p.wg.Add(1)
	p.tasks <- job{blockIdx: blockIdx, payload: cp}
	return p.errOnce.Err()
}

// Flush blocks until every dispatched job has been compressed and handed to
// the orderedSink's queue. It does not wait for the sink's placement
// goroutine to write those blocks out; some may still be unwritten when
// Flush returns. orderedSink.close is what waits for them.
func (p *DeflaterPool) Flush() error {
	p.wg.Wait()
	return p.errOnce.Err()
}

// Close stops all workers and releases resources. Idempotent.
func (p *DeflaterPool) Close() error {
	p.once.Do(func() {
		close(p.tasks)
		p.workerWG.Wait()
	})
	return p.errOnce.Err()
}

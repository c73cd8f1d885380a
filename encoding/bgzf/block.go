// Package bgzf implements a parallel BGZF (Blocked GZIP) encoder. BGZF is a
// concatenation of independent deflate blocks, each carrying a "BC" extra
// header field with the total block length; see the SAM/BAM specification.
//
// Unlike a serial encoder, Writer distributes compression of each
// DefaultUncompressedBlockSize chunk across a fixed pool of worker
// goroutines while preserving producer order on the compressed output, and
// hands off virtual-pointer rewriting to a bamindex.DeferredIndexer as each
// block's final compressed offset becomes known.
package bgzf

import (
	"bytes"
	"fmt"

	"github.com/grailbio/pbgzf/perrors"
	"github.com/klauspost/compress/gzip"
)

const (
	// DefaultUncompressedBlockSize is the default size of an uncompressed
	// block. This matches the value used by sambamba and biogo.
	DefaultUncompressedBlockSize = 0xff00

	// MaxUncompressedBlockSize is the largest legal uncompressedBlockSize.
	MaxUncompressedBlockSize = 0x10000

	// MaxCompressedBlockSize is the maximum total size (header + payload +
	// footer) of a single BGZF block.
	MaxCompressedBlockSize = 0x10000

	// BlockHeaderLength is the size, in bytes, of the BGZF block header
	// (through the BSIZE field, exclusive of the deflate payload).
	BlockHeaderLength = 18

	// BlockFooterLength is the size, in bytes, of the BGZF block footer
	// (CRC32 + ISIZE).
	BlockFooterLength = 8
)

var (
	// bgzfExtra is the gzip Extra subfield BGZF blocks carry: subfield id
	// 'B','C', length 2, followed by BSIZE-1 (patched in after compression).
	bgzfExtra       = []byte{66, 67, 2, 0, 0, 0}
	bgzfExtraPrefix = bgzfExtra[:4]

	// EmptyGzipBlock is the canonical 28-byte BGZF EOF terminator: a gzip
	// block containing zero bytes of uncompressed payload.
	EmptyGzipBlock = []byte{
		0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0x06, 0x00, 0x42, 0x43,
		0x02, 0x00, 0x1b, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
)

// compressedBlock is the result of deflating one uncompressed block.
type compressedBlock struct {
	bytes []byte
}

func (c *compressedBlock) length() int { return len(c.bytes) }

// blockCodec deflates uncompressed payloads into BGZF-framed blocks. A
// blockCodec is not safe for concurrent use; DeflaterPool gives each worker
// its own codec so that no deflate state is shared across goroutines (spec
// section 4.2: "each worker owns its own codec state").
type blockCodec struct {
	level   int
	gz      *gzip.Writer
	gzLevel int // level the live gz writer was constructed with
	buf     bytes.Buffer
}

func newBlockCodec(level int) *blockCodec {
	return &blockCodec{level: level}
}

// encode deflates uncompressed into a BGZF block. If the deflated payload at
// the configured level would overflow the maximum block size, it retries at
// gzip.NoCompression (the "expansion" case of spec section 4.2), which is
// guaranteed to fit because DefaultUncompressedBlockSize leaves enough
// headroom for stored-block framing overhead.
func (c *blockCodec) encode(uncompressed []byte) ([]byte, error) {
	b, err := c.encodeAtLevel(uncompressed, c.level)
	if err != nil {
		return nil, err
	}
	if len(b) <= MaxCompressedBlockSize {
		return b, nil
	}
	b, err = c.encodeAtLevel(uncompressed, gzip.NoCompression)
	if err != nil {
		return nil, err
	}
	if len(b) > MaxCompressedBlockSize {
		return nil, perrors.E(perrors.BlockOverflow, "bgzf.blockCodec.encode", nil,
			fmt.Sprintf("stored block %d bytes exceeds max %d", len(b), MaxCompressedBlockSize))
	}
	return b, nil
}

func (c *blockCodec) encodeAtLevel(uncompressed []byte, level int) ([]byte, error) {
	c.buf.Reset()
	if c.gz == nil || level != c.gzLevel {
		w, err := gzip.NewWriterLevel(&c.buf, level)
		if err != nil {
			return nil, perrors.E(perrors.CodecFailure, "bgzf.blockCodec.encode", err)
		}
		c.gz = w
		c.gzLevel = level
	} else {
		c.gz.Reset(&c.buf)
	}
	c.gz.Header = gzip.Header{
		Extra: append([]byte(nil), bgzfExtra...),
		OS:    0xff, // unknown OS, per the BGZF spec
	}
	if len(uncompressed) > 0 {
		if _, err := c.gz.Write(uncompressed); err != nil {
			return nil, perrors.E(perrors.CodecFailure, "bgzf.blockCodec.encode", err)
		}
	}
	if err := c.gz.Close(); err != nil {
		return nil, perrors.E(perrors.CodecFailure, "bgzf.blockCodec.encode", err)
	}

	out := c.buf.Bytes()
	bsize := len(out) - 1
	if bsize >= MaxCompressedBlockSize {
		// Let the caller decide whether to retry at NoCompression.
		return append([]byte(nil), out...), nil
	}
	if len(out) < BlockHeaderLength {
		return nil, perrors.E(perrors.CodecFailure, "bgzf.blockCodec.encode", nil, "compressed block shorter than BGZF header")
	}
	if !bytes.Equal(out[12:12+len(bgzfExtraPrefix)], bgzfExtraPrefix) {
		return nil, perrors.E(perrors.CodecFailure, "bgzf.blockCodec.encode", nil, "missing BGZF extra subfield")
	}
	out[12+4] = byte(bsize)
	out[12+5] = byte(bsize >> 8)
	return append([]byte(nil), out...), nil
}

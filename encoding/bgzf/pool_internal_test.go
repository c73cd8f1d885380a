package bgzf

import (
	"bytes"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grailbio/testutil/expect"
	"github.com/klauspost/compress/gzip"
)

func decompressBytes(t *testing.T, buf []byte) []byte {
	t.Helper()
	r, err := gzip.NewReader(bytes.NewReader(buf))
	expect.NoError(t, err)
	r.Multistream(true)
	out, err := io.ReadAll(r)
	expect.NoError(t, err)
	return out
}

// TestDeflaterPoolBackpressure runs two back-to-back Submits against a pool
// with a single worker, where the second Submit can only be accepted once
// the worker has taken and finished the first job. It checks that both
// Submits, Flush and Close succeed without deadlock; it does not measure
// how long the second Submit blocked.
func TestDeflaterPoolBackpressure(t *testing.T) {
	var out bytes.Buffer
	sink := newOrderedSink(&out, 1, nil)
	defer sink.close()

	var inFlight int32
	pool := newDeflaterPool(1, 1, sink)

	done := make(chan struct{})
	go func() {
		defer close(done)
		atomic.AddInt32(&inFlight, 1)
		expect.NoError(t, pool.Submit(0, []byte("first block")))
		atomic.AddInt32(&inFlight, -1)
	}()

	// Give the first Submit a chance to occupy the sole worker before the
	// second Submit call, below, would otherwise race ahead of it.
	time.Sleep(10 * time.Millisecond)

	expect.NoError(t, pool.Submit(1, []byte("second block")))
	<-done
	expect.NoError(t, pool.Flush())
	expect.NoError(t, pool.Close())
}

// TestDeflaterPoolOrdersOutputDespiteWorkerCompletionOrder submits blocks in
// an order a slow-then-fast pair of workers would naturally finish out of
// order, and checks the sink still places them by blockIdx.
func TestDeflaterPoolOrdersOutputDespiteWorkerCompletionOrder(t *testing.T) {
	var out bytes.Buffer
	sink := newOrderedSink(&out, 4, nil)
	pool := newDeflaterPool(4, 1, sink)

	// Block 0 is large (slower to deflate) and blocks 1..3 are tiny, so
	// with 4 workers the small blocks likely finish compressing first; the
	// sink must still place block 0 before blocks 1..3 on the wire.
	large := bytes.Repeat([]byte{'a'}, 0xff00)
	expect.NoError(t, pool.Submit(0, large))
	expect.NoError(t, pool.Submit(1, []byte("b")))
	expect.NoError(t, pool.Submit(2, []byte("c")))
	expect.NoError(t, pool.Submit(3, []byte("d")))
	expect.NoError(t, pool.Flush())
	expect.NoError(t, pool.Close())
	expect.NoError(t, sink.close())

	decoded := decompressBytes(t, out.Bytes())
	expect.True(t, bytes.HasPrefix(decoded, large), "block 0 must be placed first")
}

package bamindex

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/grailbio/pbgzf/perrors"
	"github.com/grailbio/pbgzf/vptr"
	"v.io/x/lib/vlog"
)

// DelegateIndexBuilder consumes records whose chunk endpoints have already
// been rewritten to real compressed byte offsets, and folds them into
// whatever index structure it maintains. It is the "external collaborator"
// of spec section 2; this package does not specify its internals beyond the
// interface.
type DelegateIndexBuilder interface {
	// Add is called once per record, in the order records were originally
	// submitted to DeferredIndexer.ProcessAlignment, after every chunk
	// endpoint has been rewritten to byte-offset form.
	Add(r Record)
	// Finish is called once, after every buffered record has been
	// forwarded via Add.
	Finish()
}

// DeferredIndexer buffers alignment records whose chunk endpoints reference
// logical block indices rather than byte offsets, and rewrites them in
// place as bgzf.Writer's orderedSink reports each block's placement. See
// spec section 4.6 for the exact rewrite rule.
type DeferredIndexer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pending  *list.List // of Record
	delegate DelegateIndexBuilder
}

// NewDeferredIndexer creates a DeferredIndexer forwarding fully-resolved
// records to delegate.
func NewDeferredIndexer(delegate DelegateIndexBuilder) *DeferredIndexer {
	idx := &DeferredIndexer{
		pending:  list.New(),
		delegate: delegate,
	}
	idx.cond = sync.NewCond(&idx.mu)
	return idx
}

// ProcessAlignment enqueues record. Its chunk endpoints must, at this point,
// be in "preliminary" form: blockAddress equal to the logical block index
// that was in effect when the caller obtained its virtual pointer (spec
// section 3, invariant 4).
func (idx *DeferredIndexer) ProcessAlignment(record Record) {
	idx.mu.Lock()
	idx.pending.PushBack(record)
	idx.mu.Unlock()
}

// RewriteBlock is called by bgzf's orderedSink exactly once per block, in
// ascending blockIdx order, as each block is placed at blockAddress. It
// drains and rewrites every record at the head of the FIFO that becomes
// fully resolvable at this block, then forwards the drained batch to the
// delegate in order.
//
// Per spec section 4.6, RewriteBlock executes synchronously in the caller's
// goroutine (the sink's single placement goroutine); acquiring idx.mu here,
// strictly after whatever serializes the sink itself, is what realizes the
// sinkMonitor > indexerMonitor lock order of spec section 5.
func (idx *DeferredIndexer) RewriteBlock(blockIdx uint32, blockAddress uint64) {
	idx.mu.Lock()
	var resolved []Record
	for e := idx.pending.Front(); e != nil; e = idx.pending.Front() {
		record := e.Value.(Record)
		if !rewriteRecord(record, blockIdx, blockAddress) {
			break
		}
		resolved = append(resolved, record)
		idx.pending.Remove(e)
	}
	// Forward before waking Finish, so that Finish never observes an empty
	// queue while a drained batch is still on its way to the delegate.
	for _, record := range resolved {
		idx.delegate.Add(record)
	}
	if len(resolved) > 0 {
		idx.cond.Broadcast()
	}
	idx.mu.Unlock()
}

// rewriteRecord applies the spec section 4.6 rewrite rule to record given
// the just-placed (blockIdx, blockAddress). It returns true if record is now
// fully resolved (every chunk endpoint is in byte-offset form) and should be
// drained; false if record must remain at the head of the queue.
func rewriteRecord(record Record, blockIdx uint32, blockAddress uint64) bool {
	chunks := record.Chunks()
	if len(chunks) == 0 {
		vlog.Fatalf("bamindex: record with no chunks reached RewriteBlock")
	}
	first := chunks[0]
	if first.Start.BlockAddress() > uint64(blockIdx) && first.End.BlockAddress() > uint64(blockIdx) {
		// Not yet addressed by this block; FIFO ordering means later
		// records cannot be resolvable either.
		return false
	}

	for _, c := range chunks {
		if c.Start.BlockAddress() == uint64(blockIdx) {
			c.Start = vptr.MustMake(blockAddress, c.Start.IntraOffset())
		}
		if c.End.BlockAddress() == uint64(blockIdx) {
			c.End = vptr.MustMake(blockAddress, c.End.IntraOffset())
		} else if c.End != 0 {
			// c.End still references a block other than the one just
			// placed: it crosses into a later block and the record is
			// not yet fully resolved. The zero check is the escape
			// clause that lets block 0 (blockAddress 0) correctly
			// handle chunk endpoints that are legitimately exactly
			// zero (see spec section 4.6).
			return false
		}
	}
	return true
}

// Finish blocks until every record accepted by ProcessAlignment has been
// forwarded to the delegate, then invokes the delegate's Finish. The caller
// must have already closed the owning bgzf.Writer (so that no further
// blocks will ever be placed); calling Finish before that risks waiting
// forever on a block that will never arrive, which is an open question the
// original design left unresolved (spec section 9) and this implementation
// resolves by pushing the obligation onto the caller instead of guessing.
func (idx *DeferredIndexer) Finish() error {
	idx.mu.Lock()
	for idx.pending.Len() > 0 {
		idx.cond.Wait()
	}
	idx.mu.Unlock()
	idx.delegate.Finish()
	return nil
}

// PendingLen returns the number of records still buffered, awaiting
// resolution. Exposed for tests and diagnostics.
func (idx *DeferredIndexer) PendingLen() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.pending.Len()
}

// FinishNow does not wait: it fails with UnresolvedRecordsAtFinish if any
// record remains buffered, and otherwise invokes the delegate's Finish. It
// forwards nothing itself; records reach the delegate only through
// RewriteBlock. Use
// this instead of Finish when the caller already knows, from its own
// bookkeeping, that no more RewriteBlock calls are coming (for example,
// right after bgzf.Writer.Close returns) and wants a usage-violation error
// rather than a hang if that assumption turns out to be wrong.
func (idx *DeferredIndexer) FinishNow() error {
	idx.mu.Lock()
	remaining := idx.pending.Len()
	idx.mu.Unlock()
	if remaining > 0 {
		return perrors.E(perrors.UnresolvedRecordsAtFinish, "bamindex.DeferredIndexer.FinishNow", nil,
			fmt.Sprintf("%d records still pending", remaining))
	}
	idx.delegate.Finish()
	return nil
}

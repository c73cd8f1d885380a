package bamindex_test

import (
	"testing"

	"github.com/grailbio/pbgzf/encoding/bamindex"
	"github.com/grailbio/pbgzf/vptr"
	"github.com/grailbio/testutil/expect"
)

// fakeRecord is the minimal bamindex.Record stand-in these tests need: one
// chunk, with a refID for LinearIndexBuilder bucketing.
type fakeRecord struct {
	name   string
	refID  int
	chunks []*bamindex.Chunk
}

func (r *fakeRecord) Chunks() []*bamindex.Chunk { return r.chunks }

func oneChunkRecord(name string, refID int, startBlock uint32, startOff, endOff uint16, endBlock uint32) *fakeRecord {
	return &fakeRecord{
		name:  name,
		refID: refID,
		chunks: []*bamindex.Chunk{{
			Start: vptr.MustMake(uint64(startBlock), startOff),
			End:   vptr.MustMake(uint64(endBlock), endOff),
		}},
	}
}

type recordingDelegate struct {
	added    []bamindex.Record
	finished bool
}

func (d *recordingDelegate) Add(r bamindex.Record) { d.added = append(d.added, r) }
func (d *recordingDelegate) Finish()                { d.finished = true }

// TestDeferredIndexerResolvesAllRecordsInSingleBlock mirrors spec scenario
// S1: five records whose chunks all reference block 0 must all resolve, in
// submission order, the moment block 0 is placed.
func TestDeferredIndexerResolvesAllRecordsInSingleBlock(t *testing.T) {
	delegate := &recordingDelegate{}
	idx := bamindex.NewDeferredIndexer(delegate)

	var records []*fakeRecord
	for i := 0; i < 5; i++ {
		r := oneChunkRecord("r", 0, 0, uint16(10*i), uint16(10*i+5), 0)
		records = append(records, r)
		idx.ProcessAlignment(r)
	}
	expect.EQ(t, idx.PendingLen(), 5)

	idx.RewriteBlock(0, 0x1000)

	expect.EQ(t, idx.PendingLen(), 0)
	expect.EQ(t, len(delegate.added), 5)
	for i, r := range records {
		expect.True(t, delegate.added[i] == bamindex.Record(r), "resolved out of submission order at %d", i)
		expect.EQ(t, r.chunks[0].Start.BlockAddress(), uint64(0x1000))
		expect.EQ(t, r.chunks[0].End.BlockAddress(), uint64(0x1000))
	}
}

// TestDeferredIndexerResolvesOneRecordPerBlock mirrors spec scenario S2:
// three records at distinct logical block indices resolve one at a time as
// RewriteBlock is called in ascending order, the pending queue shrinking
// 3 -> 2 -> 1 -> 0.
func TestDeferredIndexerResolvesOneRecordPerBlock(t *testing.T) {
	delegate := &recordingDelegate{}
	idx := bamindex.NewDeferredIndexer(delegate)

	r0 := oneChunkRecord("r0", 0, 0, 0, 5, 0)
	r1 := oneChunkRecord("r1", 0, 1, 0, 5, 1)
	r2 := oneChunkRecord("r2", 0, 2, 0, 5, 2)
	idx.ProcessAlignment(r0)
	idx.ProcessAlignment(r1)
	idx.ProcessAlignment(r2)
	expect.EQ(t, idx.PendingLen(), 3)

	idx.RewriteBlock(0, 100)
	expect.EQ(t, idx.PendingLen(), 2)
	expect.EQ(t, len(delegate.added), 1)

	idx.RewriteBlock(1, 250)
	expect.EQ(t, idx.PendingLen(), 1)
	expect.EQ(t, len(delegate.added), 2)

	idx.RewriteBlock(2, 400)
	expect.EQ(t, idx.PendingLen(), 0)
	expect.EQ(t, len(delegate.added), 3)

	expect.EQ(t, r0.chunks[0].Start.BlockAddress(), uint64(100))
	expect.EQ(t, r1.chunks[0].Start.BlockAddress(), uint64(250))
	expect.EQ(t, r2.chunks[0].Start.BlockAddress(), uint64(400))
}

// TestDeferredIndexerBoundaryChunkSpansTwoBlocks mirrors spec scenario S3: a
// chunk whose Start is in block 0 but whose End is in block 1 must stay
// queued after RewriteBlock(0, ...) and only resolve after RewriteBlock(1,
// ...).
func TestDeferredIndexerBoundaryChunkSpansTwoBlocks(t *testing.T) {
	delegate := &recordingDelegate{}
	idx := bamindex.NewDeferredIndexer(delegate)

	r := oneChunkRecord("spanning", 0, 0, 0xfffa, 5, 1)
	idx.ProcessAlignment(r)
	expect.EQ(t, idx.PendingLen(), 1)

	idx.RewriteBlock(0, 0x2000)
	expect.EQ(t, idx.PendingLen(), 1, "boundary chunk must stay queued until its End block is placed")
	expect.EQ(t, len(delegate.added), 0)
	expect.EQ(t, r.chunks[0].Start.BlockAddress(), uint64(0x2000), "Start half should already be rewritten")

	idx.RewriteBlock(1, 0x2000+0x1000)
	expect.EQ(t, idx.PendingLen(), 0)
	expect.EQ(t, len(delegate.added), 1)
	expect.EQ(t, r.chunks[0].End.BlockAddress(), uint64(0x2000+0x1000))
}

// TestDeferredIndexerDrainsQueueBehindBoundaryRecord checks that a record
// queued behind a still-unresolved, block-boundary-crossing record drains
// together with it in the same RewriteBlock call, once that block is
// placed: alignment records are submitted in non-decreasing block-index
// order (spec section 3, invariant 4), so nothing behind an unresolved head
// can reference an earlier, already-placed block -- it is only ever waiting
// on the same or a later one.
func TestDeferredIndexerDrainsQueueBehindBoundaryRecord(t *testing.T) {
	delegate := &recordingDelegate{}
	idx := bamindex.NewDeferredIndexer(delegate)

	spanning := oneChunkRecord("spanning", 0, 0, 0xfff0, 10, 1) // block 0 -> block 1
	within := oneChunkRecord("within", 0, 1, 10, 20, 1)         // entirely in block 1
	idx.ProcessAlignment(spanning)
	idx.ProcessAlignment(within)

	idx.RewriteBlock(0, 500)
	expect.EQ(t, len(delegate.added), 0, "spanning record's End is still unresolved")
	expect.EQ(t, idx.PendingLen(), 2)

	idx.RewriteBlock(1, 900)
	expect.EQ(t, idx.PendingLen(), 0)
	expect.EQ(t, len(delegate.added), 2)
	expect.True(t, delegate.added[0] == bamindex.Record(spanning))
	expect.True(t, delegate.added[1] == bamindex.Record(within))
	expect.EQ(t, spanning.chunks[0].End.BlockAddress(), uint64(900))
	expect.EQ(t, within.chunks[0].Start.BlockAddress(), uint64(900))
}

func TestFinishNowFailsWithRecordsPending(t *testing.T) {
	delegate := &recordingDelegate{}
	idx := bamindex.NewDeferredIndexer(delegate)
	idx.ProcessAlignment(oneChunkRecord("r", 0, 0, 0, 5, 0))

	err := idx.FinishNow()
	if err == nil {
		t.Fatal("expected UnresolvedRecordsAtFinish")
	}
	expect.False(t, delegate.finished)
}

func TestFinishNowSucceedsWhenDrained(t *testing.T) {
	delegate := &recordingDelegate{}
	idx := bamindex.NewDeferredIndexer(delegate)
	r := oneChunkRecord("r", 0, 0, 0, 5, 0)
	idx.ProcessAlignment(r)
	idx.RewriteBlock(0, 10)

	expect.NoError(t, idx.FinishNow())
	expect.True(t, delegate.finished)
}

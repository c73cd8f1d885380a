package bamindex

import (
	"sort"
	"sync"

	"github.com/biogo/hts/bgzf"
	"github.com/grailbio/pbgzf/vptr"
)

// ToOffset converts a resolved vptr.Pointer into the two-field
// github.com/biogo/hts/bgzf.Offset form .bai-style readers expect: File is
// the compressed byte offset, Block is the intra-block offset. This mirrors
// encoding/bam/index.go's toOffset, generalized from a raw uint64 voffset to
// vptr.Pointer.
func ToOffset(p vptr.Pointer) bgzf.Offset {
	return bgzf.Offset{File: int64(p.BlockAddress()), Block: p.IntraOffset()}
}

// LinearIndexBuilder is a minimal concrete DelegateIndexBuilder: it buckets
// every forwarded record's chunks by a caller-supplied reference id and
// keeps them in submission order. It generalizes the Chunk/Reference
// plumbing of the teacher's encoding/bam/index.go (which reads a full .bai
// file) down to just the part this spec actually builds: a place for
// fully-resolved chunks to land. Bin assignment and the linear index proper
// (BAM's 16kbp-bucket array) are full BAM index structure, out of scope per
// spec section 1.
type LinearIndexBuilder struct {
	refIDOf func(Record) int

	mu       sync.Mutex
	byRef    map[int][]Chunk
	finished bool
}

// NewLinearIndexBuilder creates a LinearIndexBuilder. refIDOf extracts the
// reference id a record belongs to; it is called once per record, after
// that record's chunks are already fully resolved.
func NewLinearIndexBuilder(refIDOf func(Record) int) *LinearIndexBuilder {
	return &LinearIndexBuilder{
		refIDOf: refIDOf,
		byRef:   make(map[int][]Chunk),
	}
}

// Add implements DelegateIndexBuilder.
func (b *LinearIndexBuilder) Add(r Record) {
	ref := b.refIDOf(r)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range r.Chunks() {
		b.byRef[ref] = append(b.byRef[ref], Chunk{Start: c.Start, End: c.End})
	}
}

// Finish implements DelegateIndexBuilder.
func (b *LinearIndexBuilder) Finish() {
	b.mu.Lock()
	b.finished = true
	b.mu.Unlock()
}

// AllChunks returns every chunk forwarded for refID, sorted by Start. It is
// only meaningful after Finish has been called.
func (b *LinearIndexBuilder) AllChunks(refID int) []Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()
	chunks := append([]Chunk(nil), b.byRef[refID]...)
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Start < chunks[j].Start })
	return chunks
}

// RefIDs returns the set of reference ids that have at least one chunk.
func (b *LinearIndexBuilder) RefIDs() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]int, 0, len(b.byRef))
	for id := range b.byRef {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

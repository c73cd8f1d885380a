// Package bamindex implements the virtual-pointer rewriting portion of BAM
// index construction: DeferredIndexer buffers alignment records handed to
// it before their enclosing BGZF block has been placed, and rewrites their
// chunk endpoints in place once bgzf.Writer reports the block's real
// compressed offset. The full bin/linear-index structure of a .bai file is
// out of scope; LinearIndexBuilder is a minimal concrete delegate.
package bamindex

import "github.com/grailbio/pbgzf/vptr"

// Chunk is a half-open range of virtual pointers describing where a record
// lives in a BGZF stream. Chunk is mutable: DeferredIndexer rewrites Start
// and End in place, each exactly once, as the blocks they reference are
// placed.
type Chunk struct {
	Start vptr.Pointer
	End   vptr.Pointer
}

// Record is the opaque alignment record the core operates on: the only
// thing it exposes is an ordered, non-empty list of Chunks, returned by
// pointer so the indexer can rewrite endpoints in place.
type Record interface {
	Chunks() []*Chunk
}

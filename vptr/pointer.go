// Package vptr implements the BGZF virtual file pointer: a 64-bit value
// packing a 48-bit compressed block address and a 16-bit intra-block
// uncompressed offset. It is the FilePointer codec of spec section 4.1.
package vptr

import (
	"fmt"

	"github.com/grailbio/pbgzf/perrors"
)

const (
	intraOffsetBits = 16
	intraOffsetMask = (uint64(1) << intraOffsetBits) - 1
	maxBlockAddress = uint64(1) << 48
)

// Pointer is a packed (blockAddress, intraOffset) virtual file pointer.
// Equality and ordering are bitwise on the underlying uint64, as required by
// spec section 3.
type Pointer uint64

// Make packs blockAddress and intraOffset into a Pointer. blockAddress must
// fit in 48 bits; intraOffset is a uint16 and always fits in 16 bits by
// construction.
func Make(blockAddress uint64, intraOffset uint16) (Pointer, error) {
	if blockAddress >= maxBlockAddress {
		return 0, perrors.E(perrors.InvalidPointerFields, "vptr.Make", nil,
			fmt.Sprintf("blockAddress %d exceeds 48 bits", blockAddress))
	}
	return Pointer(blockAddress<<intraOffsetBits | uint64(intraOffset)), nil
}

// MustMake is like Make but panics via a Kind-tagged error instead of
// returning one; for callers that already know blockAddress to be in range
// (bamindex uses it when rewriting chunk endpoints).
func MustMake(blockAddress uint64, intraOffset uint16) Pointer {
	p, err := Make(blockAddress, intraOffset)
	if err != nil {
		panic(err)
	}
	return p
}

// BlockAddress returns the upper 48 bits of p.
func (p Pointer) BlockAddress() uint64 {
	return uint64(p) >> intraOffsetBits
}

// IntraOffset returns the lower 16 bits of p.
func (p Pointer) IntraOffset() uint16 {
	return uint16(uint64(p) & intraOffsetMask)
}

// WithBlockAddress returns a Pointer with the same intra-block offset as p
// but blockAddress replacing the upper 48 bits: the rewrite of a
// preliminary (logical-index) pointer into its final byte-offset form.
// bamindex.DeferredIndexer performs the same rewrite through MustMake.
func (p Pointer) WithBlockAddress(blockAddress uint64) (Pointer, error) {
	return Make(blockAddress, p.IntraOffset())
}

// String renders p as blockAddress:intraOffset, useful in log lines.
func (p Pointer) String() string {
	return fmt.Sprintf("%d:%d", p.BlockAddress(), p.IntraOffset())
}

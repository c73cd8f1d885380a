package perrors_test

import (
	"errors"
	"testing"

	"github.com/grailbio/pbgzf/perrors"
	"github.com/grailbio/testutil/expect"
)

func TestEWrapsCauseAndReportsKind(t *testing.T) {
	cause := errors.New("disk full")
	err := perrors.E(perrors.IOFailure, "bgzf.orderedSink.run", cause)

	expect.True(t, perrors.Is(perrors.IOFailure, err))
	expect.False(t, perrors.Is(perrors.CodecFailure, err))

	var pe *perrors.Error
	expect.True(t, errors.As(err, &pe))
	expect.EQ(t, pe.Op, "bgzf.orderedSink.run")
}

func TestEWithoutCause(t *testing.T) {
	err := perrors.E(perrors.BlockOverflow, "bgzf.blockCodec.encode", nil, "stored block too large")
	expect.True(t, perrors.Is(perrors.BlockOverflow, err))
}

func TestIsReturnsFalseForForeignErrors(t *testing.T) {
	expect.False(t, perrors.Is(perrors.IOFailure, errors.New("plain error")))
}

func TestKindString(t *testing.T) {
	expect.EQ(t, perrors.CodecFailure.String(), "CodecFailure")
	expect.EQ(t, perrors.Other.String(), "Other")
}

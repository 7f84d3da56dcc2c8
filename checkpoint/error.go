package checkpoint

import (
	"fmt"

	"github.com/canopy-network/pulse/lib"
)

func ErrCorruptCheckpoint(reason string) lib.ErrorI {
	return lib.NewError(lib.CodeCorruptCheckpoint, lib.CheckpointModule, fmt.Sprintf("corrupt checkpoint: %s", reason))
}

func ErrCheckpointThreshold(signed, total uint64) lib.ErrorI {
	return lib.NewError(lib.CodeCheckpointThreshold, lib.CheckpointModule, fmt.Sprintf("checkpoint signed by %d of %d stake, below threshold", signed, total))
}

func ErrInvalidCheckpointSig(validatorID string) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidCheckpointSig, lib.CheckpointModule, fmt.Sprintf("invalid checkpoint signature from %s", validatorID))
}

func ErrAggregateSignature(err error) lib.ErrorI {
	return lib.NewError(lib.CodeAggregateSignature, lib.CheckpointModule, fmt.Sprintf("aggregateSignature() failed with err: %s", err.Error()))
}

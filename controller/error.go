package controller

import (
	"fmt"

	"github.com/canopy-network/pulse/lib"
)

func ErrHalted(reason string) lib.ErrorI {
	return lib.NewError(lib.CodeHalted, lib.ConsensusModule, fmt.Sprintf("scheduler halted: %s", reason))
}

func ErrScoreReports() lib.ErrorI {
	return lib.NewError(lib.CodeScoreReports, lib.ConsensusModule, "the fitness scorer doesn't accept reported scores")
}

func ErrStaleHead(height uint64) lib.ErrorI {
	return lib.NewError(lib.CodeStaleHead, lib.ConsensusModule, fmt.Sprintf("block at height %d doesn't extend the head", height))
}

func ErrKeyMismatch(validatorID string) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidPublicKey, lib.RegistryModule, fmt.Sprintf("the private key doesn't match the public key of %s", validatorID))
}

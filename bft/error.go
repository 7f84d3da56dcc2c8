package bft

import (
	"fmt"

	"github.com/canopy-network/pulse/lib"
)

func ErrInsufficientCommittee(eligible, required int) lib.ErrorI {
	return lib.NewError(lib.CodeInsufficientCommittee, lib.ConsensusModule, fmt.Sprintf("insufficient committee: %d eligible validators, %d required", eligible, required))
}

func ErrPhaseTimeout(phase string) lib.ErrorI {
	return lib.NewError(lib.CodePhaseTimeout, lib.ConsensusModule, fmt.Sprintf("phase %s timed out", phase))
}

func ErrByzantineDetected(validatorID, offense string) lib.ErrorI {
	return lib.NewError(lib.CodeByzantineDetected, lib.ConsensusModule, fmt.Sprintf("byzantine behavior detected: %s committed %s", validatorID, offense))
}

func ErrQuorumNotReached(approvals, committee uint64) lib.ErrorI {
	return lib.NewError(lib.CodeQuorumNotReached, lib.ConsensusModule, fmt.Sprintf("quorum not reached: %d of %d approvals", approvals, committee))
}

func ErrDuplicateVote() lib.ErrorI {
	return lib.NewError(lib.CodeDuplicateVote, lib.ConsensusModule, "duplicate vote")
}

func ErrValidatorNotInCommittee(validatorID string) lib.ErrorI {
	return lib.NewError(lib.CodeValidatorNotInCommittee, lib.ConsensusModule, fmt.Sprintf("validator %s is not in the committee", validatorID))
}

func ErrWrongEpoch(got, expected uint64) lib.ErrorI {
	return lib.NewError(lib.CodeWrongEpoch, lib.ConsensusModule, fmt.Sprintf("wrong epoch: got %d, expected %d", got, expected))
}

func ErrWrongRound(got, expected uint64) lib.ErrorI {
	return lib.NewError(lib.CodeWrongRound, lib.ConsensusModule, fmt.Sprintf("wrong round: got %d, expected %d", got, expected))
}

func ErrNoActiveRound() lib.ErrorI {
	return lib.NewError(lib.CodeNoActiveRound, lib.ConsensusModule, "no active round")
}

func ErrRoundCancelled() lib.ErrorI {
	return lib.NewError(lib.CodeRoundCancelled, lib.ConsensusModule, "round cancelled")
}

func ErrWrongProposer(got, expected string) lib.ErrorI {
	return lib.NewError(lib.CodeWrongProposer, lib.ConsensusModule, fmt.Sprintf("wrong proposer: got %s, expected %s", got, expected))
}

func ErrWrongHeight(got, expected uint64) lib.ErrorI {
	return lib.NewError(lib.CodeWrongHeight, lib.ConsensusModule, fmt.Sprintf("wrong height: got %d, expected %d", got, expected))
}

func ErrWrongPhase(phase string) lib.ErrorI {
	return lib.NewError(lib.CodeWrongPhase, lib.ConsensusModule, fmt.Sprintf("message not accepted during phase %s", phase))
}

func ErrForkRejected(reason string) lib.ErrorI {
	return lib.NewError(lib.CodeForkRejected, lib.ConsensusModule, fmt.Sprintf("fork candidate rejected: %s", reason))
}

func ErrNoParticipant(validatorID string) lib.ErrorI {
	return lib.NewError(lib.CodeNoParticipant, lib.ConsensusModule, fmt.Sprintf("no local participant for validator %s", validatorID))
}

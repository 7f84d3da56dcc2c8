package lib

import (
	"errors"
	"fmt"
	"math"
)

type ErrorI interface {
	Code() ErrorCode     // Returns the error code
	Module() ErrorModule // Returns the error module
	error                // Implements the built-in error interface
}

var _ ErrorI = &Error{} // Ensures *Error implements ErrorI

type ErrorCode uint32 // Defines a type for error codes

type ErrorModule string // Defines a type for error modules

type Error struct {
	ECode   ErrorCode   `json:"code"`   // Error code
	EModule ErrorModule `json:"module"` // Error module
	Msg     string      `json:"msg"`    // Error message
}

func NewError(code ErrorCode, module ErrorModule, msg string) *Error {
	// Constructs a new Error instance
	return &Error{ECode: code, EModule: module, Msg: msg}
}

// Code() returns the associated error code
func (p *Error) Code() ErrorCode { return p.ECode }

// Module() returns module field
func (p *Error) Module() ErrorModule { return p.EModule }

// String() calls Error()
func (p *Error) String() string { return p.Error() }

// Error() returns a formatted string including module, code and message
func (p *Error) Error() string {
	return fmt.Sprintf("\nModule:  %s\nCode:    %d\nMessage: %s", p.EModule, p.ECode, p.Msg)
}

// Is() allows errors.Is() to match two errors of the same module and code
func (p *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.ECode == p.ECode && t.EModule == p.EModule
}

// IsCode() returns true if the error is non-nil and matches both the module and the code
func IsCode(err ErrorI, module ErrorModule, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return err.Module() == module && err.Code() == code
}

const (
	NoCode ErrorCode = math.MaxUint32

	// Main Module
	MainModule ErrorModule = "main"

	// Main Module Error Codes
	CodeJSONMarshal          ErrorCode = 1
	CodeJSONUnmarshal        ErrorCode = 2
	CodeStringToBytes        ErrorCode = 3
	CodeMerkleTree           ErrorCode = 4
	CodeNewPubKeyFromBytes   ErrorCode = 5
	CodeWriteFile            ErrorCode = 6
	CodeReadFile             ErrorCode = 7
	CodeInvalidArgument      ErrorCode = 8
	CodeConfig               ErrorCode = 9
	CodePanic                ErrorCode = 10
	CodeNilBlock             ErrorCode = 11
	CodeInvalidTransaction   ErrorCode = 12
	CodeDuplicateTransaction ErrorCode = 13
	CodeMempoolFull          ErrorCode = 14
	CodeNewMultiPubKey       ErrorCode = 15
	CodeKeyFile              ErrorCode = 16

	// Consensus Module
	ConsensusModule ErrorModule = "consensus"

	// Consensus Module Error Codes
	CodeInsufficientCommittee   ErrorCode = 1
	CodePhaseTimeout            ErrorCode = 2
	CodeInvalidBlock            ErrorCode = 3
	CodeInvalidVote             ErrorCode = 4
	CodeByzantineDetected       ErrorCode = 5
	CodeQuorumNotReached        ErrorCode = 6
	CodeDuplicateVote           ErrorCode = 7
	CodeValidatorNotInCommittee ErrorCode = 8
	CodeWrongEpoch              ErrorCode = 9
	CodeWrongRound              ErrorCode = 10
	CodeInvalidSignature        ErrorCode = 11
	CodeInvalidFitnessProof     ErrorCode = 12
	CodeNoActiveRound           ErrorCode = 13
	CodeAlreadyRunning          ErrorCode = 14
	CodeNotRunning              ErrorCode = 15
	CodeRoundCancelled          ErrorCode = 16
	CodeWrongProposer           ErrorCode = 17
	CodeWrongHeight             ErrorCode = 18
	CodeWrongPhase              ErrorCode = 19
	CodeForkRejected            ErrorCode = 20
	CodeNoParticipant           ErrorCode = 21
	CodeHalted                  ErrorCode = 22
	CodeScoreReports            ErrorCode = 23
	CodeStaleHead               ErrorCode = 24

	// Registry Module
	RegistryModule ErrorModule = "registry"

	// Registry Module Error Codes
	CodeInsufficientStake  ErrorCode = 1
	CodeValidatorExists    ErrorCode = 2
	CodeValidatorNotExists ErrorCode = 3
	CodeInvalidPublicKey   ErrorCode = 4
	CodeInvalidScore       ErrorCode = 5
	CodeEmptyValidatorID   ErrorCode = 6
	CodeInvalidCommission  ErrorCode = 7

	// Checkpoint Module
	CheckpointModule ErrorModule = "checkpoint"

	// Checkpoint Module Error Codes
	CodeCorruptCheckpoint    ErrorCode = 1
	CodeCorruptState         ErrorCode = 2
	CodeCheckpointThreshold  ErrorCode = 3
	CodeInvalidCheckpointSig ErrorCode = 4
	CodeAggregateSignature   ErrorCode = 5

	// Staking Module
	StakingModule ErrorModule = "staking"

	// Staking Module Error Codes
	CodeUnknownOffense    ErrorCode = 1
	CodeSlashNonValidator ErrorCode = 2

	// Storage Module
	StorageModule ErrorModule = "store"

	// Storage Module Error Codes
	CodeOpenDB             ErrorCode = 1
	CodeCloseDB            ErrorCode = 2
	CodeStoreSet           ErrorCode = 3
	CodeStoreGet           ErrorCode = 4
	CodeStoreDelete        ErrorCode = 5
	CodePersistenceFailure ErrorCode = 6
	CodeInvalidKey         ErrorCode = 7
	CodeGarbageCollectDB   ErrorCode = 8
	CodeFlushBatch         ErrorCode = 9

	// RPC Module
	RPCModule ErrorModule = "rpc"

	// RPC Module Error Codes
	CodeRPCTimeout    ErrorCode = 1
	CodeInvalidParams ErrorCode = 2
	CodePostRequest   ErrorCode = 3
	CodeGetRequest    ErrorCode = 4
	CodeHttpStatus    ErrorCode = 5
	CodeReadBody      ErrorCode = 6
	CodeNotFound      ErrorCode = 7
	CodeNotSupported  ErrorCode = 8
)

// error implementations below for the `lib` package
func newLogError(err error) ErrorI {
	return NewError(NoCode, MainModule, err.Error())
}

func ErrJSONMarshal(err error) ErrorI {
	return NewError(CodeJSONMarshal, MainModule, fmt.Sprintf("json.marshal() failed with err: %s", err.Error()))
}

func ErrJSONUnmarshal(err error) ErrorI {
	return NewError(CodeJSONUnmarshal, MainModule, fmt.Sprintf("json.unmarshal() failed with err: %s", err.Error()))
}

func ErrStringToBytes(err error) ErrorI {
	return NewError(CodeStringToBytes, MainModule, fmt.Sprintf("stringToBytes() failed with err: %s", err.Error()))
}

func ErrMerkleTree(err error) ErrorI {
	return NewError(CodeMerkleTree, MainModule, fmt.Sprintf("merkleTree() failed with err: %s", err.Error()))
}

func ErrPubKeyFromBytes(err error) ErrorI {
	return NewError(CodeNewPubKeyFromBytes, MainModule, fmt.Sprintf("publicKeyFromBytes() failed with err: %s", err.Error()))
}

func ErrNewMultiPubKey(err error) ErrorI {
	return NewError(CodeNewMultiPubKey, MainModule, fmt.Sprintf("newMultiPubKey() failed with err: %s", err.Error()))
}

func ErrWriteFile(err error) ErrorI {
	return NewError(CodeWriteFile, MainModule, fmt.Sprintf("os.WriteFile() failed with err: %s", err.Error()))
}

func ErrReadFile(err error) ErrorI {
	return NewError(CodeReadFile, MainModule, fmt.Sprintf("os.ReadFile() failed with err: %s", err.Error()))
}

func ErrKeyFile(err error) ErrorI {
	return NewError(CodeKeyFile, MainModule, fmt.Sprintf("validator key file failed with err: %s", err.Error()))
}

func ErrInvalidArgument() ErrorI {
	return NewError(CodeInvalidArgument, MainModule, "invalid argument")
}

func ErrConfig(msg string) ErrorI {
	return NewError(CodeConfig, MainModule, fmt.Sprintf("invalid configuration: %s", msg))
}

func ErrPanic() ErrorI {
	return NewError(CodePanic, MainModule, "panic recovery")
}

func ErrNilBlock() ErrorI {
	return NewError(CodeNilBlock, MainModule, "block is nil")
}

func ErrInvalidTransaction(reason string) ErrorI {
	return NewError(CodeInvalidTransaction, MainModule, fmt.Sprintf("invalid transaction: %s", reason))
}

func ErrDuplicateTransaction() ErrorI {
	return NewError(CodeDuplicateTransaction, MainModule, "transaction already in pool")
}

func ErrMempoolFull() ErrorI {
	return NewError(CodeMempoolFull, MainModule, "pending transaction pool is full")
}

func ErrPersistenceFailure(err error) ErrorI {
	return NewError(CodePersistenceFailure, StorageModule, fmt.Sprintf("persistence failed with err: %s", err.Error()))
}

func ErrServerTimeout() ErrorI {
	return NewError(CodeRPCTimeout, RPCModule, "server timeout")
}

func ErrInvalidParams(err error) ErrorI {
	return NewError(CodeInvalidParams, RPCModule, fmt.Sprintf("invalid params: %s", err.Error()))
}

func ErrPostRequest(err error) ErrorI {
	return NewError(CodePostRequest, RPCModule, fmt.Sprintf("http.Post() failed with err: %s", err.Error()))
}

func ErrGetRequest(err error) ErrorI {
	return NewError(CodeGetRequest, RPCModule, fmt.Sprintf("http.Get() failed with err: %s", err.Error()))
}

func ErrHttpStatus(status string, code int, body []byte) ErrorI {
	return NewError(CodeHttpStatus, RPCModule, fmt.Sprintf("http response bad status %s with code %d and body %s", status, code, body))
}

func ErrReadBody(err error) ErrorI {
	return NewError(CodeReadBody, RPCModule, fmt.Sprintf("io.ReadAll(http.ResponseBody) failed with err: %s", err.Error()))
}

// CONSENSUS ERRORS BELOW

func ErrInvalidBlock(reason string) ErrorI {
	return NewError(CodeInvalidBlock, ConsensusModule, fmt.Sprintf("invalid block: %s", reason))
}

func ErrInvalidVote(reason string) ErrorI {
	return NewError(CodeInvalidVote, ConsensusModule, fmt.Sprintf("invalid vote: %s", reason))
}

func ErrInvalidSignature() ErrorI {
	return NewError(CodeInvalidSignature, ConsensusModule, "invalid signature")
}

func ErrInvalidFitnessProof(reason string) ErrorI {
	return NewError(CodeInvalidFitnessProof, ConsensusModule, fmt.Sprintf("invalid fitness proof: %s", reason))
}

func ErrAlreadyRunning() ErrorI {
	return NewError(CodeAlreadyRunning, ConsensusModule, "consensus is already running")
}

func ErrNotRunning() ErrorI {
	return NewError(CodeNotRunning, ConsensusModule, "consensus is not running")
}

// REGISTRY ERRORS BELOW

func ErrInsufficientStake(stake, minimum uint64) ErrorI {
	return NewError(CodeInsufficientStake, RegistryModule, fmt.Sprintf("insufficient stake: %d is below the minimum %d", stake, minimum))
}

func ErrValidatorExists(validatorID string) ErrorI {
	return NewError(CodeValidatorExists, RegistryModule, fmt.Sprintf("validator %s already exists", validatorID))
}

func ErrValidatorNotExists(validatorID string) ErrorI {
	return NewError(CodeValidatorNotExists, RegistryModule, fmt.Sprintf("validator %s does not exist", validatorID))
}

func ErrInvalidPublicKey(err error) ErrorI {
	return NewError(CodeInvalidPublicKey, RegistryModule, fmt.Sprintf("invalid public key: %s", err.Error()))
}

func ErrInvalidScore(score uint64) ErrorI {
	return NewError(CodeInvalidScore, RegistryModule, fmt.Sprintf("invalid fitness score %d", score))
}

func ErrEmptyValidatorID() ErrorI {
	return NewError(CodeEmptyValidatorID, RegistryModule, "empty validator id")
}

func ErrInvalidCommission(commission uint64) ErrorI {
	return NewError(CodeInvalidCommission, RegistryModule, fmt.Sprintf("commission %d exceeds the maximum %d", commission, MaxCommission))
}

// CHECKPOINT ERRORS BELOW

func ErrCorruptState(reason string) ErrorI {
	return NewError(CodeCorruptState, CheckpointModule, fmt.Sprintf("corrupt state: %s", reason))
}

// STAKING ERRORS BELOW

func ErrUnknownOffense(kind string) ErrorI {
	return NewError(CodeUnknownOffense, StakingModule, fmt.Sprintf("unknown offense %s", kind))
}

// STORAGE ERRORS BELOW

func ErrOpenDB(err error) ErrorI {
	return NewError(CodeOpenDB, StorageModule, fmt.Sprintf("openDB() failed with err: %s", err.Error()))
}

func ErrCloseDB(err error) ErrorI {
	return NewError(CodeCloseDB, StorageModule, fmt.Sprintf("closeDB() failed with err: %s", err.Error()))
}

func ErrStoreSet(err error) ErrorI {
	return NewError(CodeStoreSet, StorageModule, fmt.Sprintf("store.set() failed with err: %s", err.Error()))
}

func ErrStoreGet(err error) ErrorI {
	return NewError(CodeStoreGet, StorageModule, fmt.Sprintf("store.get() failed with err: %s", err.Error()))
}

func ErrStoreDelete(err error) ErrorI {
	return NewError(CodeStoreDelete, StorageModule, fmt.Sprintf("store.delete() failed with err: %s", err.Error()))
}

func ErrInvalidKey() ErrorI {
	return NewError(CodeInvalidKey, StorageModule, "invalid key")
}

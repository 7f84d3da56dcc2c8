package rpc

import (
	"github.com/canopy-network/pulse/lib"
)

// =====================================================
// Query Request Types
// =====================================================

type idRequest struct {
	ID string `json:"id"`
}

type heightRequest struct {
	Height uint64 `json:"height"`
}

type epochRequest struct {
	Epoch uint64 `json:"epoch"`
}

// epochsRequest compares the checkpoint of Epoch against the one of StartEpoch (default: the previous checkpoint)
type epochsRequest struct {
	epochRequest
	StartEpoch uint64 `json:"startEpoch"`
}

type pageRequest struct {
	From  uint64 `json:"from"`  // return blocks above this height
	Limit int    `json:"limit"` // maximum blocks returned
}

type countRequest struct {
	Count int `json:"count"`
}

// =====================================================
// Admin Request Types
// =====================================================

type registerRequest struct {
	ID         string       `json:"id"`
	Stake      uint64       `json:"stake"`
	Commission uint64       `json:"commission"`
	PublicKey  lib.HexBytes `json:"publicKey,omitempty"`  // required without a private key
	PrivateKey string       `json:"privateKey,omitempty"` // optional hex key, the validator then participates in process
}

type scoreRequest struct {
	ID    string `json:"id"`
	Score uint64 `json:"score"`
}

// =====================================================
// Response Types
// =====================================================

type heightResponse struct {
	Height   uint64       `json:"height"`
	HeadHash lib.HexBytes `json:"headHash"`
}

type txResponse struct {
	Hash lib.HexBytes `json:"hash"`
}

type runningResponse struct {
	Running bool `json:"running"`
}

type ProcessResourceUsage struct {
	Name          string  `json:"name"`
	Status        string  `json:"status"`
	CreateTime    string  `json:"createTime"`
	ThreadCount   uint64  `json:"threadCount"`
	MemoryPercent float64 `json:"usedMemoryPercent"`
	CPUPercent    float64 `json:"usedCPUPercent"`
}

type SystemResourceUsage struct {
	// ram
	TotalRAM       uint64  `json:"totalRAM"`
	AvailableRAM   uint64  `json:"availableRAM"`
	UsedRAM        uint64  `json:"usedRAM"`
	UsedRAMPercent float64 `json:"usedRAMPercent"`
	FreeRAM        uint64  `json:"freeRAM"`
	// CPU
	UsedCPUPercent float64 `json:"usedCPUPercent"`
	UserCPU        float64 `json:"userCPU"`
	SystemCPU      float64 `json:"systemCPU"`
	IdleCPU        float64 `json:"idleCPU"`
	// disk
	TotalDisk       uint64  `json:"totalDisk"`
	UsedDisk        uint64  `json:"usedDisk"`
	UsedDiskPercent float64 `json:"usedDiskPercent"`
	FreeDisk        uint64  `json:"freeDisk"`
}

type ResourceUsage struct {
	Process ProcessResourceUsage `json:"process"`
	System  SystemResourceUsage  `json:"system"`
}

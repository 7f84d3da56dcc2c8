package lib

/* This file defines the records of contested heights and their deterministic resolution */

// ForkRule names the criterion that decided a fork
type ForkRule string

const (
	ForkRuleFitness ForkRule = "average-fitness" // the committee with the higher average fitness won
	ForkRuleStake   ForkRule = "total-stake"     // equal fitness, the committee with the higher stake won
	ForkRuleHash    ForkRule = "smaller-hash"    // equal fitness and stake, the lexicographically smaller hash won
)

// ForkCandidate is the set of competing finalized or finalization-candidate blocks seen at one height
type ForkCandidate struct {
	Height uint64   `json:"height"`
	Blocks []*Block `json:"blocks"`
}

// ForkResolution is the outcome of resolving a fork candidate
type ForkResolution struct {
	Height      uint64     `json:"height"`
	Winner      HexBytes   `json:"winner"`
	Losers      []HexBytes `json:"losers"`
	Rule        ForkRule   `json:"rule"`
	Replaced    bool       `json:"replaced"`    // the winner displaced the canonical block
	ReturnedTxs int        `json:"returnedTxs"` // transactions handed back to the pending pool
	Time        uint64     `json:"time"`        // unix milliseconds
}

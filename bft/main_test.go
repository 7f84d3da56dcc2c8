package bft

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// every round must wait for its proposer and voter goroutines
	goleak.VerifyTestMain(m)
}

package lib

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestMempool(maxCount uint32) *Mempool {
	config := DefaultMempoolConfig()
	config.MaxTransactionCount = maxCount
	return NewMempool(config)
}

func TestMempoolOrdering(t *testing.T) {
	m := newTestMempool(10)
	low := NewTransaction("a", "b", 1, 1, nil)
	high := NewTransaction("a", "b", 2, 9, nil)
	mid := NewTransaction("a", "b", 3, 5, nil)
	for _, tx := range []*Transaction{low, high, mid} {
		require.NoError(t, m.Add(tx))
	}
	// the highest fee comes first
	got := m.Select(10)
	require.Equal(t, []*Transaction{high, mid, low}, got)
	// select is capped and doesn't remove
	require.Len(t, m.Select(2), 2)
	require.Equal(t, 3, m.Len())
	// duplicates are rejected
	require.Equal(t, CodeDuplicateTransaction, m.Add(mid).Code())
}

func TestMempoolFull(t *testing.T) {
	m := newTestMempool(2)
	a := NewTransaction("a", "b", 1, 5, nil)
	b := NewTransaction("a", "b", 2, 6, nil)
	require.NoError(t, m.Add(a))
	require.NoError(t, m.Add(b))
	// a cheaper transaction cannot evict
	cheap := NewTransaction("a", "b", 3, 1, nil)
	require.Equal(t, CodeMempoolFull, m.Add(cheap).Code())
	// a pricier transaction evicts the cheapest
	rich := NewTransaction("a", "b", 4, 10, nil)
	require.NoError(t, m.Add(rich))
	require.Equal(t, 2, m.Len())
	require.False(t, m.Contains(a.Hash.String()))
	require.True(t, m.Contains(rich.Hash.String()))
}

func TestMempoolRemoveReturnExpire(t *testing.T) {
	m := newTestMempool(10)
	a := NewTransaction("a", "b", 1, 1, nil)
	b := NewTransaction("a", "b", 2, 2, nil)
	require.NoError(t, m.Add(a))
	require.NoError(t, m.Add(b))
	bytesBefore := m.TxsBytes()
	// finalized transactions leave the pool
	m.Remove([]*Transaction{a})
	require.Equal(t, 1, m.Len())
	require.Equal(t, bytesBefore-a.Size(), m.TxsBytes())
	// a discarded block returns its transactions; the one still pending is skipped
	require.Equal(t, 1, m.Return([]*Transaction{a, b}))
	require.Equal(t, 2, m.Len())
	// nothing expires before the ttl
	require.Zero(t, m.Expire(time.Now()))
	// everything expires after the ttl
	ttl := time.Duration(DefaultMempoolConfig().TxTTLMS) * time.Millisecond
	require.Equal(t, 2, m.Expire(time.Now().Add(ttl)))
	require.Zero(t, m.Len())
	require.Zero(t, m.TxsBytes())
}

func TestMempoolRejectsInvalid(t *testing.T) {
	m := newTestMempool(10)
	tx := NewTransaction("a", "b", 1, 1, nil)
	tx.Amount = 2
	require.Equal(t, CodeInvalidTransaction, m.Add(tx).Code())
	// oversize data
	big := NewTransaction("a", "b", 1, 1, make([]byte, 8*1024))
	require.Equal(t, CodeInvalidTransaction, m.Add(big).Code())
	require.Zero(t, m.Len())
}

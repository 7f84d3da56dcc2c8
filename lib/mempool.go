package lib

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

/* This file implements the pending transaction pool: an in-memory, fee ordered list of valid transactions waiting for a block */

var _ TxPoolI = &Mempool{} // TxPoolI interface enforcement for the Mempool implementation

// Mempool prioritizes transactions with the highest fees and expires those that wait longer than the ttl
type Mempool struct {
	l        sync.RWMutex             // for thread safety
	list     *list.List               // pending transactions ordered from the highest to the lowest fee
	index    map[string]*list.Element // tx hash -> list element for O(1) de-duplication and deletion
	txsBytes int                      // collective number of bytes in the pool
	config   MempoolConfig            // user configuration of the pool
}

// mempoolTx is a pending transaction with the time it entered the pool
type mempoolTx struct {
	tx    *Transaction
	added time.Time
}

// NewMempool() creates an empty pool
func NewMempool(config MempoolConfig) *Mempool {
	return &Mempool{
		list:   list.New(),
		index:  make(map[string]*list.Element),
		config: config,
	}
}

// Add() validates and inserts a new pending transaction; when the pool is full the lowest fee transaction is evicted
// only if the new transaction pays more
func (m *Mempool) Add(tx *Transaction) ErrorI {
	// stateless validation first
	if err := tx.Check(); err != nil {
		return err
	}
	// ensure the size of the transaction doesn't exceed the individual limit
	if size := tx.Size(); uint32(size) > m.config.IndividualMaxTxSize {
		return ErrInvalidTransaction(fmt.Sprintf("size %d exceeds the max %d", size, m.config.IndividualMaxTxSize))
	}
	m.l.Lock()
	defer m.l.Unlock()
	return m.add(tx, time.Now())
}

// add() inserts the transaction under lock
func (m *Mempool) add(tx *Transaction, now time.Time) ErrorI {
	hash := tx.Hash.String()
	// check for a duplicate
	if _, found := m.index[hash]; found {
		return ErrDuplicateTransaction()
	}
	// make room by dropping from the bottom, but never for a transaction that pays less
	for m.full(tx.Size()) {
		back := m.list.Back()
		if back == nil || back.Value.(*mempoolTx).tx.Fee >= tx.Fee {
			return ErrMempoolFull()
		}
		m.remove(back)
	}
	m.insert(&mempoolTx{tx: tx, added: now})
	return nil
}

// full() returns true if adding `size` more bytes or one more transaction exceeds the limits
func (m *Mempool) full(size int) bool {
	return uint32(m.list.Len()+1) > m.config.MaxTransactionCount || uint64(m.txsBytes+size) > m.config.MaxTotalBytes
}

// insert() places the transaction after every transaction with an equal or higher fee
func (m *Mempool) insert(mt *mempoolTx) {
	hash := mt.tx.Hash.String()
	m.txsBytes += mt.tx.Size()
	// start from the back and scan backwards
	for e := m.list.Back(); e != nil; e = e.Prev() {
		if e.Value.(*mempoolTx).tx.Fee >= mt.tx.Fee {
			m.index[hash] = m.list.InsertAfter(mt, e)
			return
		}
	}
	// the highest fee goes to the front
	m.index[hash] = m.list.PushFront(mt)
}

// remove() deletes a list element and its index entry
func (m *Mempool) remove(e *list.Element) {
	mt := m.list.Remove(e).(*mempoolTx)
	delete(m.index, mt.tx.Hash.String())
	m.txsBytes -= mt.tx.Size()
}

// Select() returns up to `max` transactions from the highest fee to the lowest without removing them
func (m *Mempool) Select(max int) (txs []*Transaction) {
	m.l.RLock()
	defer m.l.RUnlock()
	for e := m.list.Front(); e != nil && len(txs) < max; e = e.Next() {
		txs = append(txs, e.Value.(*mempoolTx).tx)
	}
	return
}

// Remove() deletes the transactions that were included in a finalized block
func (m *Mempool) Remove(txs []*Transaction) {
	m.l.Lock()
	defer m.l.Unlock()
	for _, tx := range txs {
		if e, found := m.index[tx.Hash.String()]; found {
			m.remove(e)
		}
	}
}

// Return() re-inserts the transactions of a discarded block; invalid or duplicate transactions are skipped and the
// survivors get a fresh ttl
func (m *Mempool) Return(txs []*Transaction) (returned int) {
	m.l.Lock()
	defer m.l.Unlock()
	now := time.Now()
	for _, tx := range txs {
		if tx.Check() != nil {
			continue
		}
		if err := m.add(tx, now); err == nil {
			returned++
		}
	}
	return
}

// Expire() drops every transaction that has been pending longer than the ttl
func (m *Mempool) Expire(now time.Time) (expired int) {
	ttl := time.Duration(m.config.TxTTLMS) * time.Millisecond
	m.l.Lock()
	defer m.l.Unlock()
	for e := m.list.Front(); e != nil; {
		next := e.Next()
		if now.Sub(e.Value.(*mempoolTx).added) >= ttl {
			m.remove(e)
			expired++
		}
		e = next
	}
	return
}

// Contains() checks if a transaction with the given hash is pending
func (m *Mempool) Contains(hash string) bool {
	m.l.RLock()
	defer m.l.RUnlock()
	_, found := m.index[hash]
	return found
}

// Len() returns the number of pending transactions
func (m *Mempool) Len() int {
	m.l.RLock()
	defer m.l.RUnlock()
	return m.list.Len()
}

// TxsBytes() returns the collective size of the pending transactions
func (m *Mempool) TxsBytes() int {
	m.l.RLock()
	defer m.l.RUnlock()
	return m.txsBytes
}

package store

import (
	"errors"

	"github.com/canopy-network/pulse/lib"
	"github.com/dgraph-io/badger/v4"
)

const maxKeyBytes = 32 // maximum size of a key within a partition

// TxnWrapper is a wrapper over the badgerDB Txn object that scopes every key to a partition prefix
type TxnWrapper struct {
	logger lib.LoggerI
	db     *badger.Txn
	prefix []byte
}

// NewTxnWrapper() creates a new TxnWrapper with the provided params
func NewTxnWrapper(db *badger.Txn, logger lib.LoggerI, prefix []byte) *TxnWrapper {
	return &TxnWrapper{
		logger: logger,
		db:     db,
		prefix: prefix,
	}
}

// Get() retrieves the value associated with the key; a missing key is (nil, nil)
func (t *TxnWrapper) Get(k []byte) ([]byte, lib.ErrorI) {
	item, err := t.db.Get(join(t.prefix, k))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, lib.ErrStoreGet(err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, lib.ErrStoreGet(err)
	}
	return val, nil
}

// Set() stores the key-value pair in the BadgerDB transaction
func (t *TxnWrapper) Set(k, v []byte) lib.ErrorI {
	if len(k) == 0 {
		return lib.ErrInvalidKey()
	}
	if len(k) > maxKeyBytes {
		return ErrKeyTooLarge(len(k))
	}
	if err := t.db.Set(join(t.prefix, k), v); err != nil {
		return lib.ErrStoreSet(err)
	}
	return nil
}

// Delete() removes the key-value pair from the BadgerDB transaction
func (t *TxnWrapper) Delete(k []byte) lib.ErrorI {
	if err := t.db.Delete(join(t.prefix, k)); err != nil {
		return lib.ErrStoreDelete(err)
	}
	return nil
}

// Iterator() creates an ascending iterator over the partition starting at the first key >= start
func (t *TxnWrapper) Iterator(start []byte) *Iterator {
	parent := t.db.NewIterator(badger.IteratorOptions{
		PrefetchValues: true,
		PrefetchSize:   16,
		Prefix:         t.prefix,
	})
	parent.Seek(join(t.prefix, start))
	return &Iterator{
		logger: t.logger,
		parent: parent,
		prefix: t.prefix,
	}
}

// RevIterator() creates a descending iterator over the partition starting at its last key
func (t *TxnWrapper) RevIterator() *Iterator {
	parent := t.db.NewIterator(badger.IteratorOptions{
		PrefetchValues: true,
		PrefetchSize:   16,
		Reverse:        true,
		Prefix:         t.prefix,
	})
	parent.Seek(lastKey(t.prefix))
	return &Iterator{
		logger: t.logger,
		parent: parent,
		prefix: t.prefix,
	}
}

// Iterator implements a wrapper around BadgerDB's iterator that strips the partition prefix from keys
type Iterator struct {
	logger lib.LoggerI
	parent *badger.Iterator
	prefix []byte
}

// Valid() returns true while the iterator points at a key of the partition
func (i *Iterator) Valid() bool { return i.parent.Valid() }

// Next() advances the iterator
func (i *Iterator) Next() { i.parent.Next() }

// Close() releases the iterator; it must be called before the transaction ends
func (i *Iterator) Close() { i.parent.Close() }

// Key() returns a copy of the current key without the partition prefix
func (i *Iterator) Key() []byte {
	return i.parent.Item().KeyCopy(nil)[len(i.prefix):]
}

// Value() returns a copy of the current value; a read failure is logged and returns nil
func (i *Iterator) Value() []byte {
	v, err := i.parent.Item().ValueCopy(nil)
	if err != nil {
		i.logger.Errorf("iterator.Value() failed with err: %s", err.Error())
		return nil
	}
	return v
}

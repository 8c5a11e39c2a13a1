package docprops

import "errors"

var errTxNotWritable = errors.New("tx not writable")

// storage is a key-value backend (Bolt or in-memory) holding flat buckets.
type storage interface {
	// BeginTx starts a new transaction. At most one writable transaction is
	// open at a time; BeginTx(true) blocks until the previous one finishes.
	BeginTx(writable bool) (storageTx, error)

	Close() error
}

type storageTx interface {
	Writable() bool

	// Bucket returns nil if the bucket doesn't exist.
	Bucket(name string) storageBucket

	// CreateBucket creates a bucket if it doesn't exist.
	CreateBucket(name string) (storageBucket, error)

	Commit() error

	// Rollback aborts the transaction. It is safe to call after Commit.
	Rollback() error

	// Size returns the database size in bytes (0 if unknown).
	Size() int64
}

// storageBucket is a sorted key-value collection. Values returned by Get and
// by cursors are only valid until the transaction ends.
type storageBucket interface {
	// Get returns nil if not found.
	Get(key []byte) []byte

	Put(key, value []byte) error

	Delete(key []byte) error

	Cursor() storageCursor

	KeyCount() int
}

type storageCursor interface {
	First() (key, value []byte)

	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	Next() (key, value []byte)
}

package common

import "errors"

var (
	// ErrTransactionAborted means a lock request was refused because the
	// requester was part of a deadlock. The transaction must be aborted.
	ErrTransactionAborted = errors.New("transaction aborted")

	ErrInvalidPageId = errors.New("invalid page id")
	ErrPageLoad      = errors.New("cannot load page")

	// ErrBufferFull is returned when every resident page is dirty. It is never retried.
	ErrBufferFull = errors.New("buffer pool is full of dirty pages")

	ErrDbException          = errors.New("db exception")
	ErrCorruptRecordLocator = errors.New("record locator does not resolve to a live tuple")
	ErrSchemaMismatch       = errors.New("tuple does not match table schema")
	ErrNoSuchTable          = errors.New("no such table")
	ErrInconsistentAbort    = errors.New("abort could not restore every dirtied page")
	ErrInvalidConfig        = errors.New("invalid config")
)

// IsDbException reports whether err belongs to the per-operation failure class
// that does not force the surrounding transaction to abort.
func IsDbException(err error) bool {
	return errors.Is(err, ErrDbException) ||
		errors.Is(err, ErrCorruptRecordLocator) ||
		errors.Is(err, ErrSchemaMismatch)
}

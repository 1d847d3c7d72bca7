package common

import (
	"fmt"
	"sync/atomic"
)

// TransactionID identifies one unit of work. The zero value means "no transaction".
type TransactionID uint64

const NoTransaction TransactionID = 0

var transactionCounter uint64

// NewTransactionID hands out process-unique, never-zero ids.
func NewTransactionID() TransactionID {
	return TransactionID(atomic.AddUint64(&transactionCounter, 1))
}

func (tid TransactionID) String() string {
	if tid == NoTransaction {
		return "TID-none"
	}
	return fmt.Sprintf("TID-%d", uint64(tid))
}

// Permission is what a caller asks the page cache for.
type Permission int

const (
	ReadOnly Permission = iota
	ReadWrite
)

func (p Permission) String() string {
	if p == ReadWrite {
		return "READ_WRITE"
	}
	return "READ_ONLY"
}

package disk

import "pagestore/src/common"

// Replacer orders resident pages for eviction.
type Replacer interface {
	// Victim removes and returns the least recently released page for which
	// evictable reports true.
	Victim(evictable func(common.PageId) bool) (common.PageId, bool)
	Touch(common.PageId)
	Remove(common.PageId)
	Size() int
}

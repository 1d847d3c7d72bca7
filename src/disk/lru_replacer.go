package disk

import (
	"container/list"
	"sync"

	"pagestore/src/common"
)

// LRUReplacer keeps the most recently released page at the front.
type LRUReplacer struct {
	dataList list.List
	index    map[common.PageId]*list.Element
	mu       sync.Mutex
}

func NewLRUReplacer() *LRUReplacer {
	return &LRUReplacer{
		index: make(map[common.PageId]*list.Element),
	}
}

func (lru *LRUReplacer) Victim(evictable func(common.PageId) bool) (common.PageId, bool) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	for elem := lru.dataList.Back(); elem != nil; elem = elem.Prev() {
		pageId := elem.Value.(common.PageId)
		if evictable != nil && !evictable(pageId) {
			continue
		}
		lru.dataList.Remove(elem)
		delete(lru.index, pageId)
		return pageId, true
	}
	return common.PageId{}, false
}

func (lru *LRUReplacer) Touch(pageId common.PageId) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if elem, ok := lru.index[pageId]; ok {
		lru.dataList.MoveToFront(elem)
		return
	}
	lru.dataList.PushFront(pageId)
	lru.index[pageId] = lru.dataList.Front()
}

func (lru *LRUReplacer) Remove(pageId common.PageId) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if elem, ok := lru.index[pageId]; ok {
		lru.dataList.Remove(elem)
		delete(lru.index, pageId)
	}
}

func (lru *LRUReplacer) Size() int {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	return len(lru.index)
}

package lock

import (
	"pagestore/src/common"
)

// WaitState is the part of the lock table deadlock detection reads.
type WaitState interface {
	// Transactions lists every transaction that holds or waits for a lock.
	Transactions() []common.TransactionID
	WaitingFor(tid common.TransactionID) (common.PageId, bool)
	SoleExclusiveHolder(pid common.PageId) (common.TransactionID, bool)
}

// WaitForGraph maps a waiting transaction to the transactions it waits for.
type WaitForGraph map[common.TransactionID][]common.TransactionID

// BuildGraph adds an edge T1 -> T2 only when T1 waits for a page whose sole
// holder T2 holds it exclusively. Waits on shared-held pages produce no edge,
// so cycles through them go undetected.
func BuildGraph(state WaitState) WaitForGraph {
	g := make(WaitForGraph)
	for _, tid := range state.Transactions() {
		if _, ok := g[tid]; !ok {
			g[tid] = nil
		}
		pid, ok := state.WaitingFor(tid)
		if !ok {
			continue
		}
		holder, ok := state.SoleExclusiveHolder(pid)
		if !ok || holder == tid {
			continue
		}
		g[tid] = append(g[tid], holder)
		if _, ok := g[holder]; !ok {
			g[holder] = nil
		}
	}
	return g
}

const (
	white = iota
	grey
	black
)

// Cycles runs a depth-first search from every node in ascending id order and
// returns the cycle closed by each back edge it meets.
func (g WaitForGraph) Cycles() [][]common.TransactionID {
	nodes := make([]common.TransactionID, 0, len(g))
	for tid := range g {
		nodes = append(nodes, tid)
	}
	sortTransactions(nodes)

	color := make(map[common.TransactionID]int, len(g))
	var stack []common.TransactionID
	var cycles [][]common.TransactionID

	var visit func(tid common.TransactionID)
	visit = func(tid common.TransactionID) {
		color[tid] = grey
		stack = append(stack, tid)
		for _, next := range g[tid] {
			switch color[next] {
			case white:
				visit(next)
			case grey:
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == next {
						cycle := make([]common.TransactionID, len(stack)-i)
						copy(cycle, stack[i:])
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[tid] = black
	}

	for _, tid := range nodes {
		if color[tid] == white {
			visit(tid)
		}
	}
	return cycles
}

// HasCycle reports whether any cycle exists.
func (g WaitForGraph) HasCycle() bool {
	return len(g.Cycles()) > 0
}

// DeadlockDetector rebuilds the wait-for graph on every call. The transaction
// that invoked detection is the one aborted.
type DeadlockDetector struct{}

func NewDeadlockDetector() *DeadlockDetector {
	return &DeadlockDetector{}
}

// Detect reports whether caller lies on a wait-for cycle.
func (d *DeadlockDetector) Detect(state WaitState, caller common.TransactionID) bool {
	for _, cycle := range BuildGraph(state).Cycles() {
		for _, tid := range cycle {
			if tid == caller {
				return true
			}
		}
	}
	return false
}

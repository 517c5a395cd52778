// Package sim provides in-process venues, a flash lender and a payout ledger.
// They hold forked or scripted state and support checkpoint/revert, so an
// attempt against them is all-or-nothing.
package sim

import (
	"fmt"
	"sync"
)

// journal is a stack of snapshots addressed by index.
type journal[T any] struct {
	mu        sync.Mutex
	snapshots []T
}

func (j *journal[T]) push(v T) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.snapshots = append(j.snapshots, v)
	return len(j.snapshots) - 1
}

// pop returns snapshot id and discards it and everything after it.
func (j *journal[T]) pop(id int) (T, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var zero T
	if id < 0 || id >= len(j.snapshots) {
		return zero, fmt.Errorf("sim: unknown checkpoint %d", id)
	}
	v := j.snapshots[id]
	clear(j.snapshots[id:])
	j.snapshots = j.snapshots[:id]
	return v, nil
}

func (j *journal[T]) depth() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.snapshots)
}

// Package execstack implements the execution stack: the observable list of
// in-flight instructions the dispatch pipeline pushes and pops.
//
// List operations are synchronous. Every mutation publishes a copy of the
// list on a replay-latest stream, which is what WaitForEmpty and WaitForIdle
// observe.
package execstack

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/roach88/statestore/internal/stream"
)

// ErrStackClosed is returned by waiters when the stack closes before their
// condition is met.
var ErrStackClosed = errors.New("execstack: stack closed")

// Stack is the in-flight instruction list. Safe for concurrent use.
type Stack struct {
	mu      sync.Mutex
	items   []*Instruction
	changes *stream.BehaviorSubject[[]*Instruction]
}

// New creates an empty stack.
func New() *Stack {
	return &Stack{
		changes: stream.NewBehaviorSubject[[]*Instruction](nil),
	}
}

// Add pushes ins on top of the stack.
func (s *Stack) Add(ins *Instruction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, ins)
	s.publishLocked()
}

// Remove deletes ins wherever it sits. Instructions complete out of order
// under the concurrent strategy, so this is not a pop. Returns false if ins
// was not on the stack.
func (s *Stack) Remove(ins *Instruction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.Index(s.items, ins)
	if i < 0 {
		return false
	}
	s.items = slices.Delete(s.items, i, i+1)
	s.publishLocked()
	return true
}

// Peek returns the top instruction, or nil when empty.
func (s *Stack) Peek() *Instruction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return nil
	}
	return s.items[len(s.items)-1]
}

// FindLast returns the topmost instruction matching pred, or nil.
func (s *Stack) FindLast(pred func(*Instruction) bool) *Instruction {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.items) - 1; i >= 0; i-- {
		if pred(s.items[i]) {
			return s.items[i]
		}
	}
	return nil
}

// Clear removes every instruction.
func (s *Stack) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.publishLocked()
}

// ToSlice returns a copy of the stack, bottom first.
func (s *Stack) ToSlice() []*Instruction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

// Len returns the number of in-flight instructions.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Subscribe observes every change to the stack. Observers must not mutate
// the stack from their callbacks.
func (s *Stack) Subscribe(obs stream.Observer[[]*Instruction]) stream.Subscription {
	return s.changes.Subscribe(obs)
}

// Close completes the change stream. Pending waiters fail with
// ErrStackClosed unless their condition already holds.
func (s *Stack) Close() {
	s.changes.Complete()
}

// publishLocked emits while s.mu is held so observers see changes in the
// order they were made.
func (s *Stack) publishLocked() {
	s.changes.Next(slices.Clone(s.items))
}

// WaitForEmpty blocks until the stack has no instructions.
func (s *Stack) WaitForEmpty(ctx context.Context) error {
	return s.waitFor(ctx, func(items []*Instruction) bool {
		return len(items) == 0
	})
}

// WaitForIdle blocks until no remaining instruction is a plain action; only
// background async actions, epics and sagas may still be in flight.
func (s *Stack) WaitForIdle(ctx context.Context) error {
	return s.waitFor(ctx, func(items []*Instruction) bool {
		return !slices.ContainsFunc(items, func(ins *Instruction) bool {
			return ins.Kind == KindAction
		})
	})
}

func (s *Stack) waitFor(ctx context.Context, cond func([]*Instruction) bool) error {
	if cond(s.ToSlice()) {
		return nil
	}

	result := make(chan error, 1)
	signal := func(err error) {
		select {
		case result <- err:
		default:
		}
	}

	sub := s.changes.Subscribe(stream.Observer[[]*Instruction]{
		Next: func(items []*Instruction) {
			if cond(items) {
				signal(nil)
			}
		},
		Error:    signal,
		Complete: func() { signal(ErrStackClosed) },
	})
	defer sub.Unsubscribe()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

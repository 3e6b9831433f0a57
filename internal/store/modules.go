package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/statestore/internal/action"
	"github.com/roach88/statestore/internal/reducer"
	"github.com/roach88/statestore/internal/state"
	"github.com/roach88/statestore/internal/tracker"
	"github.com/roach88/statestore/internal/tree"
)

// LoadModule adds a feature module. Loading a slice that is already present
// is a no-op.
//
// Under the shared lock the module list is extended, dependencies are
// re-merged, the root reducer is rebuilt and the slice is set from its
// reducer's initial value unless the tree already holds that slice. After
// the lock is released UPDATE_STATE and MODULE_LOADED are dispatched.
func (s *Store) LoadModule(ctx context.Context, m Module) error {
	if err := m.validateFeature(); err != nil {
		return err
	}
	if s.closed.Load() {
		return errClosed()
	}

	l := s.lockFor(ctx)
	if err := l.Acquire(ctx); err != nil {
		return fmt.Errorf("load module %s: %w", m.Slice, err)
	}
	loaded, err := s.loadLocked(ctx, m)
	l.Release()

	if !loaded {
		return err
	}
	s.logger.Info("module loaded", "slice", m.Slice, "store", s.id)
	return errors.Join(err, s.notify(ctx, action.ModuleLoaded, m.Slice))
}

// loadLocked runs with the store lock held. A propagation timeout while
// setting the initial slice still counts as loaded.
func (s *Store) loadLocked(ctx context.Context, m Module) (bool, error) {
	s.mu.Lock()
	if s.hasSliceLocked(m.Slice) {
		s.mu.Unlock()
		s.logger.Debug("module already loaded", "slice", m.Slice)
		return false, nil
	}
	features := append(slices.Clone(s.features), m)
	p, err := s.builder.build(s.main, features, s.pipeline.Strategy)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.features = features
	s.pipeline = p
	s.rebuildChainLocked()
	s.mu.Unlock()

	r, err := s.builder.sliceReducer(m, true)
	if err != nil {
		return true, err
	}
	init, err := initialValue(ctx, r)
	if err != nil {
		s.logger.Warn("module initial state failed, slice left empty", "slice", m.Slice, "error", err)
		return true, nil
	}

	err = s.state.Update(ctx, func(cur any) (any, error) {
		if _, ok := tree.Lookup(cur, tree.Key(m.Slice)); ok {
			return cur, nil
		}
		return tree.SetIn(cur, tree.Key(m.Slice), init)
	})
	return true, s.wrapStateErr(err, m.Slice)
}

// UnloadModule removes a feature module. Unloading an absent slice is a
// no-op. With clearState the slice is deleted from the tree; otherwise its
// last value stays in place, no longer reduced.
func (s *Store) UnloadModule(ctx context.Context, m Module, clearState bool) error {
	if m.Slice == "" {
		return errInvalidModule("", "feature module requires a slice name")
	}
	if s.closed.Load() {
		return errClosed()
	}

	l := s.lockFor(ctx)
	if err := l.Acquire(ctx); err != nil {
		return fmt.Errorf("unload module %s: %w", m.Slice, err)
	}
	unloaded, err := s.unloadLocked(ctx, m.Slice, clearState)
	l.Release()

	if !unloaded {
		return err
	}
	s.logger.Info("module unloaded", "slice", m.Slice, "cleared", clearState, "store", s.id)
	return errors.Join(err, s.notify(ctx, action.ModuleUnloaded, m.Slice))
}

func (s *Store) unloadLocked(ctx context.Context, slice string, clearState bool) (bool, error) {
	s.mu.Lock()
	i := slices.IndexFunc(s.features, func(f Module) bool { return f.Slice == slice })
	if i < 0 {
		s.mu.Unlock()
		s.logger.Debug("module not loaded", "slice", slice)
		return false, nil
	}
	features := slices.Delete(slices.Clone(s.features), i, i+1)
	p, err := s.builder.build(s.main, features, s.pipeline.Strategy)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.features = features
	s.pipeline = p
	s.rebuildChainLocked()
	s.mu.Unlock()

	if !clearState {
		return true, nil
	}
	return true, s.wrapStateErr(s.state.Delete(ctx, slice), slice)
}

// hasSliceLocked must be called with mu held.
func (s *Store) hasSliceLocked(slice string) bool {
	if slice == s.main.Slice {
		return true
	}
	return slices.ContainsFunc(s.features, func(f Module) bool { return f.Slice == slice })
}

// notify dispatches UPDATE_STATE, so every reducer sees the new module set,
// followed by the given module notification.
func (s *Store) notify(ctx context.Context, notification, slice string) error {
	if err := s.Dispatch(ctx, action.New(action.UpdateState, nil)); err != nil {
		return err
	}
	return s.Dispatch(ctx, action.New(notification, slice))
}

func (s *Store) wrapStateErr(err error, slice string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, tracker.ErrPropagationTimeout):
		return &Error{Code: ErrCodePropagationTimeout, Message: "subscribers did not settle", Slice: slice, Err: err}
	case errors.Is(err, state.ErrClosed):
		return &Error{Code: ErrCodeStoreClosed, Message: "store is closed", Slice: slice, Err: err}
	default:
		return fmt.Errorf("update slice %s: %w", slice, err)
	}
}

// initialValue asks r for its initial state, converting a panic to an error.
func initialValue(ctx context.Context, r reducer.Reducer) (v any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("initial state panic: %v", p)
		}
	}()
	return r(ctx, nil, action.New(action.Init, nil))
}

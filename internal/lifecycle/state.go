// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package lifecycle holds the small atomic state machine shared by pools,
// servers and clusters.
package lifecycle

import (
	"fmt"
	"sync/atomic"

	"github.com/go-stack/stack"
	"github.com/pkg/errors"
)

// These constants represent the lifecycle states of a component.
const (
	Uninitialized int32 = iota
	Initialized
	Disposed
)

// ErrNotInitialized is returned when a component is used before Initialize was called.
var ErrNotInitialized = errors.New("must be initialized first")

// ErrDisposed is returned when a component is used after Dispose was called.
var ErrDisposed = errors.New("has been disposed")

// State is an integer state that can only be changed atomically. The zero value is Uninitialized.
type State struct {
	v int32
}

// Current returns the current state.
func (s *State) Current() int32 {
	return atomic.LoadInt32(&s.v)
}

// TryChange sets the state to the given value and reports whether the value actually changed.
func (s *State) TryChange(to int32) bool {
	return atomic.SwapInt32(&s.v, to) != to
}

// TryChangeFrom changes the state from one value to another. It returns false and leaves the
// state untouched when the current state is not from.
func (s *State) TryChangeFrom(from, to int32) bool {
	return atomic.CompareAndSwapInt32(&s.v, from, to)
}

// IsInitialized reports whether the state is Initialized.
func (s *State) IsInitialized() bool {
	return s.Current() == Initialized
}

// IsDisposed reports whether the state is Disposed.
func (s *State) IsDisposed() bool {
	return s.Current() == Disposed
}

// Check returns nil when the state is Initialized. Otherwise it returns an *Error wrapping
// ErrDisposed or ErrNotInitialized that names the component.
func (s *State) Check(component string) error {
	switch s.Current() {
	case Initialized:
		return nil
	case Disposed:
		return newError(component, ErrDisposed)
	default:
		return newError(component, ErrNotInitialized)
	}
}

// Error is returned when a component is used in the wrong lifecycle state. These are programmer
// errors, so the call stack of the offending call is kept.
type Error struct {
	Component string
	Wrapped   error
	Stack     stack.CallStack
}

func newError(component string, wrapped error) *Error {
	// skip newError and Check
	return &Error{
		Component: component,
		Wrapped:   wrapped,
		Stack:     stack.Trace().TrimBelow(stack.Caller(2)).TrimRuntime(),
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s %s", e.Component, e.Wrapped.Error())
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

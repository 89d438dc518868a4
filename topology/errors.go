// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/ikmak/mongo-driver-core/address"
	"github.com/ikmak/mongo-driver-core/description"
)

// ErrServerSelectionTimeout is returned from server selection when the server selection process
// took longer than allowed by the timeout.
var ErrServerSelectionTimeout = errors.New("server selection timeout")

// ErrNoServersMatch is returned from server selection when the selector rejects every server and
// no server is still connecting, so waiting cannot help.
var ErrNoServersMatch = errors.New("no servers match the selector")

// ErrWaitQueueFull is wrapped by WaitQueueFullError.
var ErrWaitQueueFull = errors.New("too many goroutines already waiting for a connection")

// ServerSelectionError represents a Server Selection error.
type ServerSelectionError struct {
	Desc     description.Topology
	Selector string
	Timeout  time.Duration
	Wrapped  error
}

// Error implements the error interface.
func (e *ServerSelectionError) Error() string {
	timeout := "infinite"
	if e.Timeout != Infinite {
		timeout = e.Timeout.String()
	}
	return fmt.Sprintf("server selection error: %s, selector: %s, timeout: %s, current topology: { %s }",
		e.Wrapped, e.Selector, timeout, e.Desc.String())
}

// Unwrap returns the underlying error.
func (e *ServerSelectionError) Unwrap() error {
	return e.Wrapped
}

// WaitQueueTimeoutError represents a timeout when requesting a connection from the pool.
type WaitQueueTimeoutError struct {
	Wrapped      error
	Address      address.Address
	MaxPoolSize  uint64
	CheckedOut   int
	WaitDuration time.Duration
}

// Error implements the error interface.
func (w *WaitQueueTimeoutError) Error() string {
	errorMsg := "timed out while checking out a connection from connection pool"
	if w.Wrapped == context.Canceled {
		errorMsg = "canceled while checking out a connection from connection pool"
	}

	return fmt.Sprintf(
		"%s: %v; maxPoolSize: %d, connections in use: %d, waited: %s, address: %s",
		errorMsg,
		w.Wrapped,
		w.MaxPoolSize,
		w.CheckedOut,
		w.WaitDuration,
		w.Address,
	)
}

// Unwrap returns the underlying error.
func (w *WaitQueueTimeoutError) Unwrap() error {
	return w.Wrapped
}

// Timeout reports whether the checkout gave up because its deadline passed.
func (w *WaitQueueTimeoutError) Timeout() bool {
	return w.Wrapped != context.Canceled
}

// WaitQueueFullError is returned when a checkout is rejected because MaxWaitQueueSize
// goroutines are already waiting. It never waits.
type WaitQueueFullError struct {
	Address          address.Address
	MaxWaitQueueSize int
}

// Error implements the error interface.
func (w *WaitQueueFullError) Error() string {
	return fmt.Sprintf("%s: maxWaitQueueSize: %d, address: %s", ErrWaitQueueFull, w.MaxWaitQueueSize, w.Address)
}

// Unwrap returns ErrWaitQueueFull.
func (w *WaitQueueFullError) Unwrap() error {
	return ErrWaitQueueFull
}

// ConfigError is returned when an option has an invalid value.
type ConfigError struct {
	Component string
	Option    string
	Message   string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s option %s: %s", e.Component, e.Option, e.Message)
}

func newConfigError(component, option, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Component: component, Option: option, Message: fmt.Sprintf(format, args...)}
}

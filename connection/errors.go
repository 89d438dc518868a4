// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package connection

import (
	"context"
	"fmt"
	"net"

	"github.com/pkg/errors"

	"github.com/ikmak/mongo-driver-core/wiremessage"
)

// ErrConnectionClosed is returned when an operation is attempted on a closed connection.
var ErrConnectionClosed = errors.New("connection is closed")

// Error represents a connection error.
type Error struct {
	ConnectionID string
	Wrapped      error

	message string
}

// Error implements the error interface.
func (e Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("connection(%s) %s: %s", e.ConnectionID, e.message, e.Wrapped.Error())
	}
	return fmt.Sprintf("connection(%s) %s", e.ConnectionID, e.message)
}

// Unwrap returns the underlying error.
func (e Error) Unwrap() error {
	return e.Wrapped
}

// Timeout reports whether the error was caused by a network or context timeout.
func (e Error) Timeout() bool {
	return IsTimeout(e.Wrapped)
}

// CommandError is returned when a server replies to a command with ok: 0.
type CommandError struct {
	Code    int32
	Name    string
	Message string
}

// Error implements the error interface.
func (e CommandError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("(%v) %v", e.Name, e.Message)
	}
	return e.Message
}

// IsTimeout reports whether err is a timeout-class error: a network timeout or an expired or
// cancelled context.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsDriverError reports whether err was raised by the protocol layer rather than the network: a
// command failure reported by the server or a malformed message. Such errors say nothing about
// the health of the connection.
func IsDriverError(err error) bool {
	var cerr CommandError
	if errors.As(err, &cerr) {
		return true
	}
	var perr wiremessage.ProtocolError
	return errors.As(err, &perr)
}

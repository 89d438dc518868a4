// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ikmak/mongo-driver-core/address"
	"github.com/ikmak/mongo-driver-core/connection"
	"github.com/ikmak/mongo-driver-core/event"
)

var fakeConnectionID atomic.Uint64

// fakeConnection is an in-memory connection. Writes and reads fail with writeErr and readErr
// when they are set.
type fakeConnection struct {
	id   string
	addr address.Address

	mu        sync.Mutex
	open      bool
	closed    bool
	openErr   error
	writeErr  error
	readErr   error
	handshake *connection.HandshakeResult
}

func newFakeConnection(addr address.Address) *fakeConnection {
	return &fakeConnection{
		id:   fmt.Sprintf("%s[-%d]", addr, fakeConnectionID.Add(1)),
		addr: addr,
	}
}

func (c *fakeConnection) ID() string               { return c.id }
func (c *fakeConnection) Address() address.Address { return c.addr }

func (c *fakeConnection) Open(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		c.closed = true
		return c.openErr
	}
	c.open = true
	return nil
}

func (c *fakeConnection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open && !c.closed
}

func (c *fakeConnection) WriteWireMessage(context.Context, []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeErr
}

func (c *fakeConnection) ReadWireMessage(context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return nil, c.readErr
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConnection) HandshakeResult() *connection.HandshakeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handshake
}

func (c *fakeConnection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeFactory counts and remembers the connections it creates.
type fakeFactory struct {
	created atomic.Int64

	mu      sync.Mutex
	conns   []*fakeConnection
	openErr error
	prepare func(*fakeConnection)
}

func (f *fakeFactory) CreateConnection(addr address.Address) (connection.Connection, error) {
	f.created.Add(1)
	conn := newFakeConnection(addr)

	f.mu.Lock()
	conn.openErr = f.openErr
	prepare := f.prepare
	f.conns = append(f.conns, conn)
	f.mu.Unlock()

	if prepare != nil {
		prepare(conn)
	}
	return conn, nil
}

func (f *fakeFactory) setOpenErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr = err
}

func (f *fakeFactory) connections() []*fakeConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeConnection(nil), f.conns...)
}

// eventRecorder collects every event of type T published on a publisher.
type eventRecorder[T any] struct {
	mu     sync.Mutex
	events []T
}

func recordEvents[T any](p *event.Publisher) *eventRecorder[T] {
	r := &eventRecorder[T]{}
	event.Subscribe(p, func(evt T) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, evt)
	})
	return r
}

func (r *eventRecorder[T]) all() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.events...)
}

func poolEventTypes(r *eventRecorder[*event.PoolEvent]) []string {
	var types []string
	for _, evt := range r.all() {
		types = append(types, evt.Type)
	}
	return types
}

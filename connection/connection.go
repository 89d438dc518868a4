// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package connection contains the network connection used to talk to a single server, the
// stream factories it dials through and the handshake run when it is opened.
package connection

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ikmak/mongo-driver-core/address"
	"github.com/ikmak/mongo-driver-core/wiremessage"
)

var globalConnectionID uint64

func nextConnectionID() uint64 { return atomic.AddUint64(&globalConnectionID, 1) }

// Connection is used to read and write wire protocol messages to a network.
type Connection interface {
	ID() string
	Address() address.Address
	Open(ctx context.Context) error
	IsOpen() bool
	WriteWireMessage(ctx context.Context, wm []byte) error
	ReadWireMessage(ctx context.Context) ([]byte, error)
	Close() error
	// HandshakeResult returns the result of the handshake run by Open, or nil.
	HandshakeResult() *HandshakeResult
}

const (
	stateNew int32 = iota
	stateOpen
	stateClosed
)

type connection struct {
	id    string
	addr  address.Address
	cfg   *config
	state int32

	nc         net.Conn
	closeOnce  sync.Once
	compressor wiremessage.Compressor
	handshake  *HandshakeResult
	sizeBuf    [4]byte
}

// New creates an unopened connection to addr.
func New(addr address.Address, opts ...Option) (Connection, error) {
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}
	return newConnection(addr, cfg), nil
}

func newConnection(addr address.Address, cfg *config) *connection {
	return &connection{
		id:   fmt.Sprintf("%s[-%d]", addr, nextConnectionID()),
		addr: addr,
		cfg:  cfg,
	}
}

func (c *connection) ID() string               { return c.id }
func (c *connection) Address() address.Address { return c.addr }

func (c *connection) IsOpen() bool {
	return atomic.LoadInt32(&c.state) == stateOpen
}

func (c *connection) HandshakeResult() *HandshakeResult {
	if !c.IsOpen() {
		return nil
	}
	return c.handshake
}

// Open dials the stream and runs the handshake. A connection may only be opened once.
func (c *connection) Open(ctx context.Context) error {
	if atomic.LoadInt32(&c.state) != stateNew {
		return Error{ConnectionID: c.id, message: "connection can only be opened once"}
	}

	if c.cfg.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.connectTimeout)
		defer cancel()
	}

	nc, err := c.cfg.streamFactory.Dial(ctx, c.addr)
	if err != nil {
		atomic.StoreInt32(&c.state, stateClosed)
		return Error{ConnectionID: c.id, Wrapped: err, message: "failed to dial"}
	}
	c.nc = nc
	atomic.StoreInt32(&c.state, stateOpen)

	if c.cfg.handshaker == nil {
		return nil
	}

	res, err := c.cfg.handshaker.Handshake(ctx, c)
	if err != nil {
		_ = c.Close()
		return Error{ConnectionID: c.id, Wrapped: err, message: "handshake failed"}
	}
	c.handshake = res
	c.compressor = negotiateCompressor(c.cfg.compressors, res.IsMaster.Compression)
	return nil
}

func negotiateCompressor(offered, accepted []string) wiremessage.Compressor {
	for _, name := range offered {
		for _, a := range accepted {
			if name == a {
				comp, _ := wiremessage.CompressorByName(name)
				return comp
			}
		}
	}
	return nil
}

func (c *connection) WriteWireMessage(ctx context.Context, wm []byte) error {
	if !c.IsOpen() {
		return Error{ConnectionID: c.id, Wrapped: ErrConnectionClosed, message: "unable to write wire message"}
	}
	if err := ctx.Err(); err != nil {
		return Error{ConnectionID: c.id, Wrapped: err, message: "failed to write"}
	}

	if c.compressor != nil {
		compressed, err := wiremessage.Compress(wm, c.compressor)
		if err != nil {
			return Error{ConnectionID: c.id, Wrapped: err, message: "unable to compress wire message"}
		}
		wm = compressed
	}

	if err := c.nc.SetWriteDeadline(c.deadline(ctx, c.cfg.writeTimeout)); err != nil {
		return Error{ConnectionID: c.id, Wrapped: err, message: "failed to set write deadline"}
	}
	if _, err := c.nc.Write(wm); err != nil {
		_ = c.Close()
		return Error{ConnectionID: c.id, Wrapped: err, message: "unable to write wire message to network"}
	}
	return nil
}

func (c *connection) ReadWireMessage(ctx context.Context) ([]byte, error) {
	if !c.IsOpen() {
		return nil, Error{ConnectionID: c.id, Wrapped: ErrConnectionClosed, message: "unable to read wire message"}
	}
	if err := ctx.Err(); err != nil {
		return nil, Error{ConnectionID: c.id, Wrapped: err, message: "failed to read"}
	}

	if err := c.nc.SetReadDeadline(c.deadline(ctx, c.cfg.readTimeout)); err != nil {
		return nil, Error{ConnectionID: c.id, Wrapped: err, message: "failed to set read deadline"}
	}

	if _, err := io.ReadFull(c.nc, c.sizeBuf[:]); err != nil {
		_ = c.Close()
		return nil, Error{ConnectionID: c.id, Wrapped: err, message: "unable to decode message length"}
	}

	size := binary.LittleEndian.Uint32(c.sizeBuf[:])
	if size < wiremessage.HeaderLength || size > c.cfg.maxMessageSize {
		// The stream cannot be resynchronized after a bad length.
		_ = c.Close()
		return nil, Error{
			ConnectionID: c.id,
			Wrapped:      wiremessage.ProtocolError{Message: fmt.Sprintf("message length %d is outside [%d, %d]", size, wiremessage.HeaderLength, c.cfg.maxMessageSize)},
			message:      "invalid message length",
		}
	}

	wm := make([]byte, size)
	copy(wm, c.sizeBuf[:])
	if _, err := io.ReadFull(c.nc, wm[4:]); err != nil {
		_ = c.Close()
		return nil, Error{ConnectionID: c.id, Wrapped: err, message: "unable to read full message"}
	}

	wm, err := wiremessage.Decompress(wm)
	if err != nil {
		return nil, Error{ConnectionID: c.id, Wrapped: err, message: "unable to decompress wire message"}
	}
	return wm, nil
}

func (c *connection) deadline(ctx context.Context, timeout time.Duration) time.Time {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if dl, ok := ctx.Deadline(); ok && (deadline.IsZero() || dl.Before(deadline)) {
		deadline = dl
	}
	return deadline
}

func (c *connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.state, stateClosed)
		if c.nc != nil {
			err = c.nc.Close()
		}
	})
	return err
}

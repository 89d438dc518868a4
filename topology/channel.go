// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/ikmak/mongo-driver-core/connection"
	"github.com/ikmak/mongo-driver-core/description"
)

// ChannelProvider hands out channels to a server.
type ChannelProvider interface {
	GetChannel(ctx context.Context, timeout time.Duration) (*Channel, error)
}

var _ ChannelProvider = &Server{}

// Channel borrows a pooled connection for one request/response exchange. Close must be called
// to give the connection back; calling it more than once is harmless.
type Channel struct {
	conn *PooledConnection
	desc description.Server
}

// Description returns the description of the server at the time the channel was created.
func (c *Channel) Description() description.Server {
	return c.desc
}

// ConnectionID returns the ID of the borrowed connection.
func (c *Channel) ConnectionID() string {
	return c.conn.ID()
}

// WriteWireMessage writes a wire message to the server.
func (c *Channel) WriteWireMessage(ctx context.Context, wm []byte) error {
	return c.conn.WriteWireMessage(ctx, wm)
}

// ReadWireMessage reads a wire message from the server.
func (c *Channel) ReadWireMessage(ctx context.Context) ([]byte, error) {
	return c.conn.ReadWireMessage(ctx)
}

// RunCommand runs cmd against db and returns the reply document.
func (c *Channel) RunCommand(ctx context.Context, db string, cmd bson.D) (bson.Raw, error) {
	return connection.RunCommand(ctx, c.conn, db, cmd)
}

// Close releases the borrowed connection.
func (c *Channel) Close() error {
	return c.conn.Close()
}

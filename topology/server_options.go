// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ikmak/mongo-driver-core/connection"
	"github.com/ikmak/mongo-driver-core/description"
	"github.com/ikmak/mongo-driver-core/event"
	"github.com/ikmak/mongo-driver-core/internal/logger"
)

// Server defaults.
const (
	DefaultHeartbeatFrequency    = 10 * time.Second
	DefaultConnectRetryFrequency = 500 * time.Millisecond
	DefaultHeartbeatTimeout      = 10 * time.Second
)

func newServerConfig(opts ...ServerOption) (*serverConfig, error) {
	cfg := &serverConfig{
		heartbeatFrequency:     DefaultHeartbeatFrequency,
		connectRetryFrequency:  DefaultConnectRetryFrequency,
		heartbeatTimeout:       DefaultHeartbeatTimeout,
		maxDocumentSizeDefault: description.DefaultMaxDocumentSize,
		maxMessageSizeDefault:  description.DefaultMaxMessageSize,
		handshaker:             &connection.CommandHandshaker{},
		clock:                  clockwork.NewRealClock(),
	}

	cfg.apply(opts...)

	if cfg.connectionFactory == nil {
		f, err := connection.NewFactory(connection.WithHandshaker(cfg.handshaker))
		if err != nil {
			return nil, err
		}
		cfg.connectionFactory = f
	}

	switch {
	case cfg.heartbeatFrequency <= 0:
		return nil, newConfigError("server", "HeartbeatFrequency", "must be positive")
	case cfg.connectRetryFrequency <= 0:
		return nil, newConfigError("server", "ConnectRetryFrequency", "must be positive")
	case cfg.heartbeatTimeout <= 0:
		return nil, newConfigError("server", "HeartbeatTimeout", "must be positive")
	case cfg.maxDocumentSizeDefault == 0:
		return nil, newConfigError("server", "MaxDocumentSizeDefault", "must be positive")
	case cfg.maxMessageSizeDefault == 0:
		return nil, newConfigError("server", "MaxMessageSizeDefault", "must be positive")
	case cfg.handshaker == nil:
		return nil, newConfigError("server", "Handshaker", "must not be nil")
	case cfg.clock == nil:
		return nil, newConfigError("server", "Clock", "must not be nil")
	}
	return cfg, nil
}

// ServerOption configures a server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	heartbeatFrequency     time.Duration
	connectRetryFrequency  time.Duration
	heartbeatTimeout       time.Duration
	maxDocumentSizeDefault uint32
	maxMessageSizeDefault  uint32
	connectionFactory      ConnectionFactory
	handshaker             connection.Handshaker
	poolOpts               []PoolOption
	clock                  clockwork.Clock
	logger                 *logger.Logger
	publisher              *event.Publisher

	// monitoringDisabled keeps the monitor goroutine from starting. Descriptions are then only
	// changed through updateDescription.
	monitoringDisabled bool
}

func (c *serverConfig) apply(opts ...ServerOption) {
	for _, opt := range opts {
		opt(c)
	}
}

// WithHeartbeatFrequency configures how often a connected server is checked.
func WithHeartbeatFrequency(d time.Duration) ServerOption {
	return func(c *serverConfig) {
		c.heartbeatFrequency = d
	}
}

// WithConnectRetryFrequency configures how often a server that is not connected is checked.
func WithConnectRetryFrequency(d time.Duration) ServerOption {
	return func(c *serverConfig) {
		c.connectRetryFrequency = d
	}
}

// WithHeartbeatTimeout configures the timeout of a single check.
func WithHeartbeatTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) {
		c.heartbeatTimeout = d
	}
}

// WithMaxDocumentSizeDefault configures the document size used when a server does not report
// one.
func WithMaxDocumentSizeDefault(size uint32) ServerOption {
	return func(c *serverConfig) {
		c.maxDocumentSizeDefault = size
	}
}

// WithMaxMessageSizeDefault configures the message size used when a server does not report one.
func WithMaxMessageSizeDefault(size uint32) ServerOption {
	return func(c *serverConfig) {
		c.maxMessageSizeDefault = size
	}
}

// WithConnectionFactory configures the factory used by both the monitor and the pool.
func WithConnectionFactory(f ConnectionFactory) ServerOption {
	return func(c *serverConfig) {
		c.connectionFactory = f
	}
}

// WithHandshaker configures the handshake the monitor runs on every heartbeat. When no
// connection factory is configured, the default factory runs it on every new connection too.
func WithHandshaker(h connection.Handshaker) ServerOption {
	return func(c *serverConfig) {
		c.handshaker = h
	}
}

// WithPoolOptions configures the server's connection pool. The options are appended to any
// options configured before.
func WithPoolOptions(opts ...PoolOption) ServerOption {
	return func(c *serverConfig) {
		c.poolOpts = append(c.poolOpts, opts...)
	}
}

// WithServerClock configures the clock used for heartbeat timers.
func WithServerClock(clock clockwork.Clock) ServerOption {
	return func(c *serverConfig) {
		c.clock = clock
	}
}

// WithServerLogger configures the logger.
func WithServerLogger(l *logger.Logger) ServerOption {
	return func(c *serverConfig) {
		c.logger = l
	}
}

// WithServerPublisher configures the publisher that receives server and pool events.
func WithServerPublisher(p *event.Publisher) ServerOption {
	return func(c *serverConfig) {
		c.publisher = p
	}
}

func withMonitoringDisabled() ServerOption {
	return func(c *serverConfig) {
		c.monitoringDisabled = true
	}
}

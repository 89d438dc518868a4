// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ikmak/mongo-driver-core/event"
	"github.com/ikmak/mongo-driver-core/internal/logger"
)

// Infinite disables a timeout or a lifetime check. A GetConnection or SelectServer call with an
// Infinite timeout waits until its context is done.
const Infinite time.Duration = -1

// Pool defaults.
const (
	DefaultMaxPoolSize          = 100
	DefaultMaxWaitQueueSize     = 500
	DefaultMaxIdleTime          = 10 * time.Minute
	DefaultMaxLifeTime          = 30 * time.Minute
	DefaultMaintenanceFrequency = 10 * time.Second
)

func newPoolConfig(opts ...PoolOption) (*poolConfig, error) {
	cfg := &poolConfig{
		maxSize:              DefaultMaxPoolSize,
		maxWaitQueueSize:     DefaultMaxWaitQueueSize,
		maxIdleTime:          DefaultMaxIdleTime,
		maxLifeTime:          DefaultMaxLifeTime,
		maintenanceFrequency: DefaultMaintenanceFrequency,
		clock:                clockwork.NewRealClock(),
	}

	cfg.apply(opts...)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PoolOption configures a connection pool.
type PoolOption func(*poolConfig)

type poolConfig struct {
	maxSize              uint64
	minSize              uint64
	maxWaitQueueSize     int
	maxIdleTime          time.Duration
	maxLifeTime          time.Duration
	maintenanceFrequency time.Duration
	clock                clockwork.Clock
	logger               *logger.Logger
	publisher            *event.Publisher
}

func (c *poolConfig) apply(opts ...PoolOption) {
	for _, opt := range opts {
		opt(c)
	}
}

func (c *poolConfig) validate() error {
	switch {
	case c.maxSize == 0:
		return newConfigError("pool", "MaxPoolSize", "must be greater than 0")
	case c.minSize > c.maxSize:
		return newConfigError("pool", "MinPoolSize", "%d is greater than MaxPoolSize %d", c.minSize, c.maxSize)
	case c.maxWaitQueueSize < 0:
		return newConfigError("pool", "MaxWaitQueueSize", "must not be negative")
	case c.maxIdleTime <= 0 && c.maxIdleTime != Infinite:
		return newConfigError("pool", "MaxIdleTime", "must be positive or Infinite")
	case c.maxLifeTime <= 0 && c.maxLifeTime != Infinite:
		return newConfigError("pool", "MaxLifeTime", "must be positive or Infinite")
	case c.maintenanceFrequency <= 0:
		return newConfigError("pool", "MaintenanceFrequency", "must be positive")
	case c.clock == nil:
		return newConfigError("pool", "Clock", "must not be nil")
	}
	return nil
}

// WithMaxPoolSize configures the maximum number of open connections to the server, including
// connections that are checked out.
func WithMaxPoolSize(size uint64) PoolOption {
	return func(c *poolConfig) {
		c.maxSize = size
	}
}

// WithMinPoolSize configures the number of connections the pool keeps open in the background.
func WithMinPoolSize(size uint64) PoolOption {
	return func(c *poolConfig) {
		c.minSize = size
	}
}

// WithMaxWaitQueueSize configures how many goroutines may wait for a connection at the same
// time. Zero rejects every checkout that has to wait for a slot.
func WithMaxWaitQueueSize(size int) PoolOption {
	return func(c *poolConfig) {
		c.maxWaitQueueSize = size
	}
}

// WithMaxIdleTime configures how long a connection may stay idle in the pool before it is
// closed.
func WithMaxIdleTime(d time.Duration) PoolOption {
	return func(c *poolConfig) {
		c.maxIdleTime = d
	}
}

// WithMaxLifeTime configures how long a connection may stay open.
func WithMaxLifeTime(d time.Duration) PoolOption {
	return func(c *poolConfig) {
		c.maxLifeTime = d
	}
}

// WithMaintenanceFrequency configures how often the pool prunes expired connections and opens
// connections up to the minimum size.
func WithMaintenanceFrequency(d time.Duration) PoolOption {
	return func(c *poolConfig) {
		c.maintenanceFrequency = d
	}
}

// WithPoolClock configures the clock used for expiry checks and the maintenance timer.
func WithPoolClock(clock clockwork.Clock) PoolOption {
	return func(c *poolConfig) {
		c.clock = clock
	}
}

// WithPoolLogger configures the logger.
func WithPoolLogger(l *logger.Logger) PoolOption {
	return func(c *poolConfig) {
		c.logger = l
	}
}

// WithPoolPublisher configures the publisher that receives pool events.
func WithPoolPublisher(p *event.Publisher) PoolOption {
	return func(c *poolConfig) {
		c.publisher = p
	}
}

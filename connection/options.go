// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package connection

import (
	"time"

	"github.com/pkg/errors"

	"github.com/ikmak/mongo-driver-core/description"
	"github.com/ikmak/mongo-driver-core/wiremessage"
)

// Default connection settings.
const (
	DefaultConnectTimeout = 30 * time.Second
)

type config struct {
	appName        string
	connectTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	maxMessageSize uint32
	compressors    []string
	streamFactory  StreamFactory
	handshaker     Handshaker
}

func newConfig(opts ...Option) (*config, error) {
	cfg := &config{
		connectTimeout: DefaultConnectTimeout,
		maxMessageSize: description.DefaultMaxMessageSize,
		streamFactory:  &TCPStreamFactory{},
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Option is used to configure a connection.
type Option func(*config) error

// WithAppName sets the application name sent in the handshake.
func WithAppName(name string) Option {
	return func(c *config) error {
		c.appName = name
		return nil
	}
}

// WithConnectTimeout bounds how long dialing and the handshake may take. Zero disables the
// bound.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *config) error {
		if d < 0 {
			return errors.Errorf("connect timeout must not be negative, got %s", d)
		}
		c.connectTimeout = d
		return nil
	}
}

// WithReadTimeout bounds every read. Zero disables the bound.
func WithReadTimeout(d time.Duration) Option {
	return func(c *config) error {
		c.readTimeout = d
		return nil
	}
}

// WithWriteTimeout bounds every write. Zero disables the bound.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *config) error {
		c.writeTimeout = d
		return nil
	}
}

// WithMaxMessageSize sets the largest message that will be read from the network.
func WithMaxMessageSize(size uint32) Option {
	return func(c *config) error {
		if size < wiremessage.HeaderLength {
			return errors.Errorf("max message size must be at least %d, got %d", wiremessage.HeaderLength, size)
		}
		c.maxMessageSize = size
		return nil
	}
}

// WithCompressors sets the compressors offered to the server, in order of preference.
func WithCompressors(names ...string) Option {
	return func(c *config) error {
		for _, name := range names {
			if _, ok := wiremessage.CompressorByName(name); !ok {
				return errors.Errorf("unknown compressor %q", name)
			}
		}
		c.compressors = names
		return nil
	}
}

// WithStreamFactory sets the factory used to open the network stream.
func WithStreamFactory(f StreamFactory) Option {
	return func(c *config) error {
		c.streamFactory = f
		return nil
	}
}

// WithHandshaker sets the handshake run when the connection is opened. A nil handshaker
// skips the handshake.
func WithHandshaker(h Handshaker) Option {
	return func(c *config) error {
		c.handshaker = h
		return nil
	}
}

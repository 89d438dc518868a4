// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ikmak/mongo-driver-core/address"
	"github.com/ikmak/mongo-driver-core/description"
	"github.com/ikmak/mongo-driver-core/event"
	"github.com/ikmak/mongo-driver-core/internal/logger"
	"github.com/ikmak/mongo-driver-core/serverselector"
)

// ConnectionMode determines how seeds are treated.
type ConnectionMode uint8

// ConnectionMode constants.
const (
	// AutomaticMode discovers the deployment from the seeds.
	AutomaticMode ConnectionMode = iota
	// DirectMode talks to exactly one seed and never discovers other servers.
	DirectMode
)

// DefaultServerSelectionTimeout is the default server selection timeout.
const DefaultServerSelectionTimeout = 30 * time.Second

func newClusterConfig(opts ...ClusterOption) (*clusterConfig, error) {
	cfg := &clusterConfig{
		seeds:                  []address.Address{address.Address("localhost").Canonicalize()},
		serverSelectionTimeout: DefaultServerSelectionTimeout,
		localThreshold:         serverselector.DefaultLocalThreshold,
		clock:                  clockwork.NewRealClock(),
	}

	cfg.apply(opts...)

	switch {
	case len(cfg.seeds) == 0:
		return nil, newConfigError("cluster", "Seeds", "at least one seed is required")
	case cfg.mode == DirectMode && len(cfg.seeds) > 1:
		return nil, newConfigError("cluster", "Seeds", "direct connections require exactly one seed, got %d", len(cfg.seeds))
	case cfg.kind == description.TopologyStandalone && len(cfg.seeds) > 1:
		return nil, newConfigError("cluster", "ClusterKind", "a standalone cluster requires exactly one seed, got %d", len(cfg.seeds))
	case cfg.kind == description.TopologyMulti:
		return nil, newConfigError("cluster", "ClusterKind", "%s cannot be configured", cfg.kind)
	case cfg.replicaSetName != "" && cfg.kind != description.TopologyUnknown && cfg.kind != description.TopologyReplicaSet:
		return nil, newConfigError("cluster", "ReplicaSetName", "cannot be used with a %s cluster", cfg.kind)
	case cfg.serverSelectionTimeout < 0 && cfg.serverSelectionTimeout != Infinite:
		return nil, newConfigError("cluster", "ServerSelectionTimeout", "must not be negative")
	case cfg.clock == nil:
		return nil, newConfigError("cluster", "Clock", "must not be nil")
	}

	if cfg.replicaSetName != "" {
		cfg.kind = description.TopologyReplicaSet
	}
	return cfg, nil
}

// ClusterOption configures a cluster.
type ClusterOption func(*clusterConfig)

type clusterConfig struct {
	mode                   ConnectionMode
	kind                   description.TopologyKind
	replicaSetName         string
	seeds                  []address.Address
	serverOpts             []ServerOption
	serverSelectionTimeout time.Duration
	localThreshold         time.Duration
	logger                 *logger.Logger
	publisher              *event.Publisher
	clock                  clockwork.Clock
}

func (c *clusterConfig) apply(opts ...ClusterOption) {
	for _, opt := range opts {
		opt(c)
	}
}

// serverOptions returns the options used to create every server of the cluster. The cluster's
// logger, publisher and clock come first so configured server options can override them.
func (c *clusterConfig) serverOptions() []ServerOption {
	opts := []ServerOption{WithServerLogger(c.logger), WithServerPublisher(c.publisher), WithServerClock(c.clock)}
	return append(opts, c.serverOpts...)
}

// WithSeeds configures the cluster's seed list.
func WithSeeds(seeds ...string) ClusterOption {
	return func(c *clusterConfig) {
		c.seeds = c.seeds[:0:0]
		for _, s := range seeds {
			c.seeds = append(c.seeds, address.Address(s).Canonicalize())
		}
	}
}

// WithConnectionMode configures the cluster's connection mode.
func WithConnectionMode(mode ConnectionMode) ClusterOption {
	return func(c *clusterConfig) {
		c.mode = mode
	}
}

// WithClusterKind configures the kind of deployment the cluster expects. Servers of another
// kind are not part of the cluster description.
func WithClusterKind(kind description.TopologyKind) ClusterOption {
	return func(c *clusterConfig) {
		c.kind = kind
	}
}

// WithReplicaSetName configures the cluster's replica set name. It implies a replica set
// cluster.
func WithReplicaSetName(name string) ClusterOption {
	return func(c *clusterConfig) {
		c.replicaSetName = name
	}
}

// WithServerSelectionTimeout configures the timeout used by the cluster when a selection does
// not supply its own.
func WithServerSelectionTimeout(timeout time.Duration) ClusterOption {
	return func(c *clusterConfig) {
		c.serverSelectionTimeout = timeout
	}
}

// WithLocalThreshold configures the latency window used to choose among suitable servers. A
// negative value disables the window.
func WithLocalThreshold(d time.Duration) ClusterOption {
	return func(c *clusterConfig) {
		c.localThreshold = d
	}
}

// WithServerOptions configures the options used to create every server. The options provided
// are appended to any current options.
func WithServerOptions(opts ...ServerOption) ClusterOption {
	return func(c *clusterConfig) {
		c.serverOpts = append(c.serverOpts, opts...)
	}
}

// WithClusterLogger configures the logger shared by the cluster, its servers and their pools.
func WithClusterLogger(l *logger.Logger) ClusterOption {
	return func(c *clusterConfig) {
		c.logger = l
	}
}

// WithClusterPublisher configures the publisher shared by the cluster, its servers and their
// pools.
func WithClusterPublisher(p *event.Publisher) ClusterOption {
	return func(c *clusterConfig) {
		c.publisher = p
	}
}

// WithClusterClock configures the clock used for server selection deadlines. Servers use it for
// their heartbeat timers unless a server option configures another one.
func WithClusterClock(clock clockwork.Clock) ClusterOption {
	return func(c *clusterConfig) {
		c.clock = clock
	}
}

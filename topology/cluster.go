// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package topology contains types that handle the discovery, monitoring, and selection
// of servers, and the pooling of connections to them.
package topology

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ikmak/mongo-driver-core/address"
	"github.com/ikmak/mongo-driver-core/description"
	"github.com/ikmak/mongo-driver-core/event"
	"github.com/ikmak/mongo-driver-core/internal/lifecycle"
	"github.com/ikmak/mongo-driver-core/internal/logger"
	"github.com/ikmak/mongo-driver-core/serverselector"
)

// Reasons reported in ServerRemovedEvents.
const (
	reasonClusterDisposed   = "cluster disposed"
	reasonNotCanonical      = "server reported a different canonical address"
	reasonWrongKind         = "server kind does not match the cluster"
	reasonWrongSetName      = "replica set name does not match the cluster"
	reasonNotInPrimaryHosts = "server is not reported by the primary"
	reasonNotSoleSeed       = "standalone server in a cluster with more than one seed"
)

// Cluster tracks the servers of a deployment and selects among them.
type Cluster interface {
	ID() description.ClusterID
	Initialize()
	Description() description.Topology
	// SelectServer waits until selector yields a connected server, up to timeout. A timeout of 0
	// fails unless a server is suitable right away and Infinite waits until ctx is done.
	SelectServer(ctx context.Context, selector description.ServerSelector, timeout time.Duration) (*Server, error)
	ServerSelectionTimeout() time.Duration
	Subscribe(fn func(description.Topology)) (unsubscribe func())
	Dispose()
}

var (
	_ Cluster = &SingleServerCluster{}
	_ Cluster = &MultiServerCluster{}
)

// New creates an uninitialized cluster. Direct connections, and a single seed configured as a
// standalone, get a SingleServerCluster. Everything else is discovered by a MultiServerCluster.
func New(opts ...ClusterOption) (Cluster, error) {
	cfg, err := newClusterConfig(opts...)
	if err != nil {
		return nil, err
	}
	// surface bad server and pool options here rather than when a server is discovered
	if _, err = newServerConfig(cfg.serverOptions()...); err != nil {
		return nil, err
	}

	if cfg.mode == DirectMode || (len(cfg.seeds) == 1 && cfg.kind == description.TopologyStandalone) {
		return newSingleServerCluster(cfg)
	}
	return newMultiServerCluster(cfg), nil
}

// clusterState is the part shared by every kind of cluster: the lifecycle, the published
// description and the wait loop of server selection.
type clusterState struct {
	id    description.ClusterID
	cfg   *clusterConfig
	state lifecycle.State
	seq   atomic.Uint64

	mu        sync.Mutex // guards desc, published and changed
	desc      description.Topology
	published uint64
	changed   chan struct{}

	publishMu   sync.Mutex // serializes notifications
	subscribers *event.Publisher
}

func newClusterState(cfg *clusterConfig, kind description.TopologyKind) *clusterState {
	id := description.NewClusterID()
	return &clusterState{
		id:          id,
		cfg:         cfg,
		desc:        description.NewTopology(id, kind, cfg.replicaSetName, nil),
		changed:     make(chan struct{}),
		subscribers: event.NewPublisher(),
	}
}

// ID returns the cluster's ID.
func (cs *clusterState) ID() description.ClusterID { return cs.id }

// Description returns the current description.
func (cs *clusterState) Description() description.Topology {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.desc
}

// ServerSelectionTimeout returns the configured server selection timeout.
func (cs *clusterState) ServerSelectionTimeout() time.Duration {
	return cs.cfg.serverSelectionTimeout
}

// Subscribe registers fn to be called with every new description.
func (cs *clusterState) Subscribe(fn func(description.Topology)) (unsubscribe func()) {
	return event.Subscribe(cs.subscribers, fn)
}

// nextSeq numbers a description. Callers take the number while holding the lock that makes
// the description consistent so that publish can drop descriptions overtaken by newer ones.
func (cs *clusterState) nextSeq() uint64 {
	return cs.seq.Add(1)
}

// publish stores desc, wakes every waiting selection and then notifies subscribers if the
// description changed.
func (cs *clusterState) publish(seq uint64, desc description.Topology) {
	cs.publishMu.Lock()
	defer cs.publishMu.Unlock()

	cs.mu.Lock()
	if seq <= cs.published {
		cs.mu.Unlock()
		return
	}
	cs.published = seq
	old := cs.desc
	cs.desc = desc
	changed := cs.changed
	cs.changed = make(chan struct{})
	cs.mu.Unlock()

	close(changed)

	if old.Equal(desc) {
		return
	}
	cs.cfg.publisher.Publish(&event.ClusterDescriptionChangedEvent{
		ClusterID:           cs.id,
		PreviousDescription: old,
		NewDescription:      desc,
	})
	if cs.cfg.logger.LevelComponentEnabled(logger.LevelDebug, logger.ComponentTopology) {
		cs.cfg.logger.Print(logger.LevelDebug, logger.ComponentTopology, "Topology description changed",
			logger.KeyClusterID, cs.id.String(),
			logger.KeyPreviousDescription, old.String(),
			logger.KeyNewDescription, desc.String())
	}
	cs.subscribers.Publish(desc)
}

// wake wakes waiting selections without changing the description.
func (cs *clusterState) wake() {
	cs.mu.Lock()
	changed := cs.changed
	cs.changed = make(chan struct{})
	cs.mu.Unlock()
	close(changed)
}

func (cs *clusterState) snapshot() (description.Topology, <-chan struct{}) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.desc, cs.changed
}

// selectServer runs the selection loop. lookup resolves a selected description to the tracked
// server; it fails when the server was removed after the description was published.
func (cs *clusterState) selectServer(
	ctx context.Context,
	selector description.ServerSelector,
	timeout time.Duration,
	lookup func(address.Address) (*Server, bool),
) (*Server, error) {
	if err := cs.state.Check("cluster"); err != nil {
		return nil, err
	}
	if selector == nil {
		selector = serverselector.Any{}
	}

	selectorStr := serverselector.Describe(selector)
	cs.logSelection("Server selection started", selectorStr, timeout)

	var deadline <-chan time.Time
	if timeout != Infinite {
		timer := cs.cfg.clock.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.Chan()
	}

	window := &serverselector.Latency{Latency: cs.cfg.localThreshold}
	fail := func(desc description.Topology, err error) error {
		cs.logSelection("Server selection failed", selectorStr, timeout, logger.KeyFailure, err.Error())
		return &ServerSelectionError{Desc: desc, Selector: selectorStr, Timeout: timeout, Wrapped: err}
	}

	for {
		if err := cs.state.Check("cluster"); err != nil {
			return nil, err
		}
		desc, changed := cs.snapshot()

		suitable, err := selector.SelectServer(desc, desc.Servers)
		if err != nil {
			return nil, fail(desc, err)
		}

		if connected := connectedServers(suitable); len(connected) > 0 {
			inWindow, err := window.SelectServer(desc, connected)
			if err != nil || len(inWindow) == 0 {
				inWindow = connected
			}
			picked := inWindow[rand.Intn(len(inWindow))]
			if srv, ok := lookup(picked.Address()); ok {
				cs.logSelection("Server selection succeeded", selectorStr, timeout,
					logger.KeyServerHost, picked.Address().Host(),
					logger.KeyServerPort, picked.Address().Port())
				return srv, nil
			}
		} else if len(suitable) == 0 && !anyConnecting(desc) {
			return nil, fail(desc, ErrNoServersMatch)
		}

		select {
		case <-changed:
		case <-deadline:
			return nil, fail(desc, ErrServerSelectionTimeout)
		case <-ctx.Done():
			return nil, fail(desc, ctx.Err())
		}
	}
}

func (cs *clusterState) logSelection(msg, selector string, timeout time.Duration, keysAndValues ...interface{}) {
	if !cs.cfg.logger.LevelComponentEnabled(logger.LevelDebug, logger.ComponentServerSelection) {
		return
	}
	kvs := []interface{}{
		logger.KeyClusterID, cs.id.String(),
		logger.KeySelector, selector,
		logger.KeyTimeoutMS, timeout.Milliseconds(),
	}
	cs.cfg.logger.Print(logger.LevelDebug, logger.ComponentServerSelection, msg, append(kvs, keysAndValues...)...)
}

func connectedServers(servers []description.Server) []description.Server {
	var connected []description.Server
	for _, s := range servers {
		if s.Status == description.Connected {
			connected = append(connected, s)
		}
	}
	return connected
}

func anyConnecting(desc description.Topology) bool {
	for _, s := range desc.Servers {
		if s.Status == description.Connecting {
			return true
		}
	}
	return false
}

// acceptsServer reports whether a server of the given description belongs in a cluster of the
// given kind.
func acceptsServer(kind description.TopologyKind, setName string, s description.Server) bool {
	switch kind {
	case description.TopologyStandalone:
		return s.Kind == description.Standalone
	case description.TopologyReplicaSet:
		return s.Kind.IsReplicaSetMember() && (setName == "" || s.SetName() == setName || isReplicaSetGhost(s))
	case description.TopologySharded:
		return s.Kind == description.ShardRouter
	}
	return true
}

// isReplicaSetGhost reports whether s is a member of a replica set that has not been
// initiated yet, or one that is being resynced. It reports no set name.
func isReplicaSetGhost(s description.Server) bool {
	return s.Kind == description.ReplicaSetOther && s.SetName() == ""
}

// topologyKindOf returns the kind of cluster a server of the given kind belongs to.
func topologyKindOf(kind description.ServerKind) description.TopologyKind {
	switch {
	case kind == description.Standalone:
		return description.TopologyStandalone
	case kind.IsReplicaSetMember():
		return description.TopologyReplicaSet
	case kind == description.ShardRouter:
		return description.TopologySharded
	}
	return description.TopologyUnknown
}

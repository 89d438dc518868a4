// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ikmak/mongo-driver-core/address"
	"github.com/ikmak/mongo-driver-core/description"
	"github.com/ikmak/mongo-driver-core/event"
	"github.com/ikmak/mongo-driver-core/internal/lifecycle"
	"github.com/ikmak/mongo-driver-core/internal/logger"
)

// MultiServerCluster discovers the servers of a deployment from its seeds. Every description
// published by a tracked server is reconciled against the cluster: servers are added when they
// are reported and removed when they do not belong.
type MultiServerCluster struct {
	*clusterState

	mu      sync.Mutex // guards servers, kind and setName
	servers map[address.Address]*trackedServer
	kind    description.TopologyKind
	setName string

	// pending counts reconciliations whose follow-up work has not finished. Dispose waits for
	// it before disposing the servers.
	pending sync.WaitGroup
}

type trackedServer struct {
	server      *Server
	unsubscribe func()
}

type removal struct {
	tracked *trackedServer
	reason  string
}

// reconcilePlan collects the work decided under the cluster lock and run after it is released.
type reconcilePlan struct {
	added       []*Server
	removed     []removal
	invalidated []*Server
}

func newMultiServerCluster(cfg *clusterConfig) *MultiServerCluster {
	kind := cfg.kind
	if kind == description.TopologyUnknown {
		kind = description.TopologyMulti
	}

	return &MultiServerCluster{
		clusterState: newClusterState(cfg, kind),
		servers:      make(map[address.Address]*trackedServer),
		kind:         kind,
		setName:      cfg.replicaSetName,
	}
}

// Initialize starts monitoring the seeds. Calls after the first are no-ops.
func (c *MultiServerCluster) Initialize() {
	if !c.state.TryChangeFrom(lifecycle.Uninitialized, lifecycle.Initialized) {
		return
	}
	c.cfg.publisher.Publish(&event.ClusterOpenedEvent{ClusterID: c.id})

	plan := &reconcilePlan{}
	c.mu.Lock()
	if !c.state.IsInitialized() {
		c.mu.Unlock()
		return
	}
	for _, seed := range c.cfg.seeds {
		c.addLocked(seed, plan)
	}
	c.commitLocked(plan)
}

// Dispose disposes every server and fails every pending selection. Calls after the first are
// no-ops.
func (c *MultiServerCluster) Dispose() {
	if !c.state.TryChange(lifecycle.Disposed) {
		return
	}

	c.mu.Lock()
	servers := c.servers
	c.servers = make(map[address.Address]*trackedServer)
	c.mu.Unlock()

	c.pending.Wait()

	var g errgroup.Group
	for _, ts := range servers {
		ts := ts
		ts.unsubscribe()
		g.Go(func() error {
			ts.server.Dispose()
			c.cfg.publisher.Publish(&event.ServerRemovedEvent{ServerID: ts.server.ID(), Reason: reasonClusterDisposed})
			return nil
		})
	}
	_ = g.Wait()

	c.wake()
	c.cfg.publisher.Publish(&event.ClusterClosedEvent{ClusterID: c.id})
}

// SelectServer implements the Cluster interface.
func (c *MultiServerCluster) SelectServer(ctx context.Context, selector description.ServerSelector, timeout time.Duration) (*Server, error) {
	return c.selectServer(ctx, selector, timeout, c.tryGetServer)
}

// Servers returns the tracked servers.
func (c *MultiServerCluster) Servers() []*Server {
	c.mu.Lock()
	defer c.mu.Unlock()

	servers := make([]*Server, 0, len(c.servers))
	for _, ts := range c.servers {
		servers = append(servers, ts.server)
	}
	return servers
}

func (c *MultiServerCluster) tryGetServer(addr address.Address) (*Server, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts, ok := c.servers[addr]
	if !ok {
		return nil, false
	}
	return ts.server, true
}

func (c *MultiServerCluster) onServerChanged(srv *Server, s description.Server) {
	c.mu.Lock()
	if !c.state.IsInitialized() {
		c.mu.Unlock()
		return
	}
	if ts, ok := c.servers[s.Address()]; !ok || ts.server != srv {
		// a listener of a server that is no longer tracked
		c.mu.Unlock()
		return
	}

	plan := &reconcilePlan{}
	c.reconcileLocked(s, plan)
	c.commitLocked(plan)
}

// commitLocked publishes the description and runs the plan. It is called with c.mu held and
// releases it.
func (c *MultiServerCluster) commitLocked(plan *reconcilePlan) {
	servers := make([]description.Server, 0, len(c.servers))
	for _, ts := range c.servers {
		servers = append(servers, ts.server.Description())
	}
	desc := description.NewTopology(c.id, c.kind, c.setName, servers)
	seq := c.nextSeq()
	c.pending.Add(1)
	c.mu.Unlock()

	defer c.pending.Done()
	c.publish(seq, desc)
	c.run(plan)
}

func (c *MultiServerCluster) run(plan *reconcilePlan) {
	for _, srv := range plan.added {
		c.cfg.publisher.Publish(&event.ServerAddedEvent{ServerID: srv.ID()})
		c.logTopology("Server added", srv.Address())
		srv.Initialize()
	}

	for _, srv := range plan.invalidated {
		srv.Invalidate()
	}

	for _, r := range plan.removed {
		r.tracked.unsubscribe()
		srv := r.tracked.server
		c.logTopology("Server removed", srv.Address(), logger.KeyReason, r.reason)

		// the removed server may be the one whose listener is running, so its monitor is
		// waited for on another goroutine
		c.pending.Add(1)
		go func(reason string) {
			defer c.pending.Done()
			srv.Dispose()
			c.cfg.publisher.Publish(&event.ServerRemovedEvent{ServerID: srv.ID(), Reason: reason})
		}(r.reason)
	}
}

// addLocked starts tracking addr unless it is tracked already.
func (c *MultiServerCluster) addLocked(addr address.Address, plan *reconcilePlan) {
	addr = addr.Canonicalize()
	if _, ok := c.servers[addr]; ok {
		return
	}

	srv, err := NewServer(description.NewServerID(c.id, addr), c.cfg.serverOptions()...)
	if err != nil {
		c.cfg.logger.Error(logger.ComponentTopology, err, "Unable to create server", logger.SerializeServer(addr)...)
		return
	}

	ts := &trackedServer{server: srv}
	ts.unsubscribe = srv.Subscribe(func(_, new description.Server) {
		c.onServerChanged(srv, new)
	})
	c.servers[addr] = ts
	plan.added = append(plan.added, srv)
}

// removeLocked stops tracking addr.
func (c *MultiServerCluster) removeLocked(addr address.Address, reason string, plan *reconcilePlan) {
	ts, ok := c.servers[addr]
	if !ok {
		return
	}
	delete(c.servers, addr)
	plan.removed = append(plan.removed, removal{tracked: ts, reason: reason})
}

func (c *MultiServerCluster) logTopology(msg string, addr address.Address, keysAndValues ...interface{}) {
	if !c.cfg.logger.LevelComponentEnabled(logger.LevelDebug, logger.ComponentTopology) {
		return
	}
	kvs := append([]interface{}{logger.KeyClusterID, c.id.String()}, keysAndValues...)
	c.cfg.logger.Print(logger.LevelDebug, logger.ComponentTopology, msg, logger.SerializeServer(addr, kvs...)...)
}

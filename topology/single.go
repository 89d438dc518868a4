// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"time"

	"github.com/ikmak/mongo-driver-core/address"
	"github.com/ikmak/mongo-driver-core/description"
	"github.com/ikmak/mongo-driver-core/event"
	"github.com/ikmak/mongo-driver-core/internal/lifecycle"
)

// SingleServerCluster is a cluster of exactly one server. Its description contains the server
// only while the server's kind matches the configured cluster kind.
type SingleServerCluster struct {
	*clusterState
	server *Server
}

func newSingleServerCluster(cfg *clusterConfig) (*SingleServerCluster, error) {
	c := &SingleServerCluster{clusterState: newClusterState(cfg, cfg.kind)}

	server, err := NewServer(description.NewServerID(c.id, cfg.seeds[0]), cfg.serverOptions()...)
	if err != nil {
		return nil, err
	}
	c.server = server
	server.Subscribe(func(_, new description.Server) {
		if c.state.IsInitialized() {
			c.publish(c.nextSeq(), c.describe(new))
		}
	})
	return c, nil
}

// Server returns the cluster's server.
func (c *SingleServerCluster) Server() *Server {
	return c.server
}

// Initialize starts monitoring the server. Calls after the first are no-ops.
func (c *SingleServerCluster) Initialize() {
	if !c.state.TryChangeFrom(lifecycle.Uninitialized, lifecycle.Initialized) {
		return
	}

	c.cfg.publisher.Publish(&event.ClusterOpenedEvent{ClusterID: c.id})
	c.publish(c.nextSeq(), c.describe(c.server.Description()))
	c.cfg.publisher.Publish(&event.ServerAddedEvent{ServerID: c.server.ID()})
	c.server.Initialize()
}

// Dispose disposes the server and fails every pending selection. Calls after the first are
// no-ops.
func (c *SingleServerCluster) Dispose() {
	if !c.state.TryChange(lifecycle.Disposed) {
		return
	}

	c.server.Dispose()
	c.cfg.publisher.Publish(&event.ServerRemovedEvent{ServerID: c.server.ID(), Reason: reasonClusterDisposed})
	c.wake()
	c.cfg.publisher.Publish(&event.ClusterClosedEvent{ClusterID: c.id})
}

// SelectServer implements the Cluster interface.
func (c *SingleServerCluster) SelectServer(ctx context.Context, selector description.ServerSelector, timeout time.Duration) (*Server, error) {
	return c.selectServer(ctx, selector, timeout, func(addr address.Address) (*Server, bool) {
		return c.server, addr == c.server.Address()
	})
}

// describe builds the cluster description for a server description. A server that has not
// reported its kind yet is always included.
func (c *SingleServerCluster) describe(s description.Server) description.Topology {
	kind := c.cfg.kind
	if kind == description.TopologyUnknown {
		kind = topologyKindOf(s.Kind)
	}

	setName := c.cfg.replicaSetName
	if setName == "" {
		setName = s.SetName()
	}

	var servers []description.Server
	if s.Kind == description.Unknown || acceptsServer(c.cfg.kind, c.cfg.replicaSetName, s) {
		servers = append(servers, s)
	}
	return description.NewTopology(c.id, kind, setName, servers)
}

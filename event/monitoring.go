// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package event

import (
	"time"

	"github.com/ikmak/mongo-driver-core/address"
	"github.com/ikmak/mongo-driver-core/description"
)

// strings for pool command monitoring reasons
const (
	ReasonIdle              = "idle"
	ReasonPoolClosed        = "poolClosed"
	ReasonStale             = "stale"
	ReasonConnectionErrored = "connectionError"
	ReasonTimedOut          = "timeout"
	ReasonLifetime          = "lifetime"
	ReasonWaitQueueFull     = "waitQueueFull"
	ReasonNotInitialized    = "notInitialized"
)

// strings for pool command monitoring types
const (
	PoolOpened        = "ConnectionPoolOpened"
	PoolClosed        = "ConnectionPoolClosed"
	PoolCleared       = "ConnectionPoolCleared"
	ConnectionAdded   = "ConnectionAddedToPool"
	ConnectionRemoved = "ConnectionRemovedFromPool"
	CheckedOut        = "ConnectionCheckedOut"
	CheckedIn         = "ConnectionCheckedIn"
	CheckOutFailed    = "ConnectionCheckOutFailed"
	WaitQueueEntered  = "ConnectionPoolWaitQueueEntered"
	WaitQueueExited   = "ConnectionPoolWaitQueueExited"
)

// MonitorPoolOptions contains pool options as formatted in pool events
type MonitorPoolOptions struct {
	MaxPoolSize      uint64 `json:"maxPoolSize"`
	MinPoolSize      uint64 `json:"minPoolSize"`
	MaxWaitQueueSize uint64 `json:"maxWaitQueueSize"`
}

// PoolEvent contains all information summarizing a pool event
type PoolEvent struct {
	Type         string              `json:"type"`
	Address      string              `json:"address"`
	ConnectionID string              `json:"connectionId"`
	PoolOptions  *MonitorPoolOptions `json:"options"`
	Reason       string              `json:"reason"`
	Generation   uint64              `json:"generation"`
	Duration     time.Duration       `json:"duration"`
	Error        error               `json:"-"`
}

// PoolMonitor is a function that allows the user to gain access to events occurring in the pool
type PoolMonitor struct {
	Event func(*PoolEvent)
}

// Attach subscribes the monitor to the pool events published on p.
func (m *PoolMonitor) Attach(p *Publisher) (detach func()) {
	return Subscribe(p, func(evt *PoolEvent) {
		if m.Event != nil {
			m.Event(evt)
		}
	})
}

// ServerDescriptionChangedEvent represents a server description change.
type ServerDescriptionChangedEvent struct {
	ServerID            description.ServerID
	PreviousDescription description.Server
	NewDescription      description.Server
}

// ServerOpenedEvent is an event generated when the server is initialized.
type ServerOpenedEvent struct {
	ServerID description.ServerID
}

// ServerClosedEvent is an event generated when the server is disposed.
type ServerClosedEvent struct {
	ServerID description.ServerID
}

// ServerAddedEvent is an event generated when a cluster starts tracking a server.
type ServerAddedEvent struct {
	ServerID description.ServerID
}

// ServerRemovedEvent is an event generated when a cluster stops tracking a server.
type ServerRemovedEvent struct {
	ServerID description.ServerID
	Reason   string
}

// ClusterDescriptionChangedEvent represents a cluster description change.
type ClusterDescriptionChangedEvent struct {
	ClusterID           description.ClusterID
	PreviousDescription description.Topology
	NewDescription      description.Topology
}

// ClusterOpenedEvent is an event generated when the cluster is initialized.
type ClusterOpenedEvent struct {
	ClusterID description.ClusterID
}

// ClusterClosedEvent is an event generated when the cluster is disposed.
type ClusterClosedEvent struct {
	ClusterID description.ClusterID
}

// ServerHeartbeatStartedEvent is an event generated when the handshake is started.
type ServerHeartbeatStartedEvent struct {
	Address      address.Address
	ConnectionID string
}

// ServerHeartbeatSucceededEvent is an event generated when the handshake succeeds.
type ServerHeartbeatSucceededEvent struct {
	Address      address.Address
	Duration     time.Duration
	Reply        description.Server
	ConnectionID string
}

// ServerHeartbeatFailedEvent is an event generated when the handshake fails.
type ServerHeartbeatFailedEvent struct {
	Address      address.Address
	Duration     time.Duration
	Failure      error
	ConnectionID string
}

// ServerMonitor represents a monitor that is triggered for different server events. The cluster
// represents the overall deployment, and heartbeats are sent to individual servers to check their
// current status.
type ServerMonitor struct {
	ServerDescriptionChanged  func(*ServerDescriptionChangedEvent)
	ServerOpened              func(*ServerOpenedEvent)
	ServerClosed              func(*ServerClosedEvent)
	ServerAdded               func(*ServerAddedEvent)
	ServerRemoved             func(*ServerRemovedEvent)
	ClusterDescriptionChanged func(*ClusterDescriptionChangedEvent)
	ClusterOpened             func(*ClusterOpenedEvent)
	ClusterClosed             func(*ClusterClosedEvent)
	ServerHeartbeatStarted    func(*ServerHeartbeatStartedEvent)
	ServerHeartbeatSucceeded  func(*ServerHeartbeatSucceededEvent)
	ServerHeartbeatFailed     func(*ServerHeartbeatFailedEvent)
}

// Attach subscribes the monitor to the server and cluster events published on p.
func (m *ServerMonitor) Attach(p *Publisher) (detach func()) {
	return p.Subscribe(func(evt interface{}) {
		switch e := evt.(type) {
		case *ServerDescriptionChangedEvent:
			call(m.ServerDescriptionChanged, e)
		case *ServerOpenedEvent:
			call(m.ServerOpened, e)
		case *ServerClosedEvent:
			call(m.ServerClosed, e)
		case *ServerAddedEvent:
			call(m.ServerAdded, e)
		case *ServerRemovedEvent:
			call(m.ServerRemoved, e)
		case *ClusterDescriptionChangedEvent:
			call(m.ClusterDescriptionChanged, e)
		case *ClusterOpenedEvent:
			call(m.ClusterOpened, e)
		case *ClusterClosedEvent:
			call(m.ClusterClosed, e)
		case *ServerHeartbeatStartedEvent:
			call(m.ServerHeartbeatStarted, e)
		case *ServerHeartbeatSucceededEvent:
			call(m.ServerHeartbeatSucceeded, e)
		case *ServerHeartbeatFailedEvent:
			call(m.ServerHeartbeatFailed, e)
		}
	})
}

func call[T any](fn func(T), evt T) {
	if fn != nil {
		fn(evt)
	}
}

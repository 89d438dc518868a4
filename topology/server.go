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

	"github.com/pkg/errors"

	"github.com/ikmak/mongo-driver-core/address"
	"github.com/ikmak/mongo-driver-core/connection"
	"github.com/ikmak/mongo-driver-core/description"
	"github.com/ikmak/mongo-driver-core/event"
	"github.com/ikmak/mongo-driver-core/internal/lifecycle"
	"github.com/ikmak/mongo-driver-core/internal/logger"
)

const oneMiB = 1024 * 1024

type descriptionChange struct {
	old, new description.Server
}

// Server monitors one server and pools connections to it.
//
// A monitor goroutine checks the server every heartbeat and publishes a new description after
// each check. Listeners registered with Subscribe see every published description in order.
type Server struct {
	id    description.ServerID
	cfg   *serverConfig
	state lifecycle.State
	pool  *Pool
	rtt   *rttMonitor

	descMu sync.RWMutex
	desc   description.Server

	// dispatchMu guards pending and dispatching. Whichever goroutine finds dispatching unset
	// delivers every pending change, so a listener may update another server's description
	// without waiting for that server's own listeners.
	dispatchMu  sync.Mutex
	pending     []descriptionChange
	dispatching bool
	listeners   *event.Publisher

	monitorMu     sync.Mutex
	cancelMonitor context.CancelFunc
	monitorWG     sync.WaitGroup
	checkNow      chan struct{}
	conn          connection.Connection // owned by the monitor goroutine
}

// NewServer creates an uninitialized server. Its description is Connecting and Unknown.
func NewServer(id description.ServerID, opts ...ServerOption) (*Server, error) {
	cfg, err := newServerConfig(opts...)
	if err != nil {
		return nil, err
	}

	poolOpts := append([]PoolOption{WithPoolLogger(cfg.logger), WithPoolPublisher(cfg.publisher)}, cfg.poolOpts...)
	pool, err := NewPool(id.Address, cfg.connectionFactory, poolOpts...)
	if err != nil {
		return nil, err
	}

	desc, err := description.NewServerBuilder(id).
		Status(description.Connecting).
		MaxDocumentSize(cfg.maxDocumentSizeDefault).
		MaxMessageSize(cfg.maxMessageSizeDefault).
		Build()
	if err != nil {
		return nil, err
	}

	return &Server{
		id:        id,
		cfg:       cfg,
		pool:      pool,
		rtt:       newRTTMonitor(),
		desc:      desc,
		listeners: event.NewPublisher(),
		checkNow:  make(chan struct{}, 1),
	}, nil
}

// ID returns the server's ID.
func (s *Server) ID() description.ServerID { return s.id }

// Address returns the address the server is dialed at.
func (s *Server) Address() address.Address { return s.id.Address }

// Description returns the current description.
func (s *Server) Description() description.Server {
	s.descMu.RLock()
	defer s.descMu.RUnlock()
	return s.desc
}

// Subscribe registers fn to be called with the previous and the new description every time a
// description is published. Calls are serialized and in publication order.
func (s *Server) Subscribe(fn func(old, new description.Server)) (unsubscribe func()) {
	return event.Subscribe(s.listeners, func(c descriptionChange) {
		fn(c.old, c.new)
	})
}

// Initialize initializes the pool and starts monitoring. Calls after the first are no-ops.
func (s *Server) Initialize() {
	if !s.state.TryChangeFrom(lifecycle.Uninitialized, lifecycle.Initialized) {
		return
	}

	s.pool.Initialize()
	s.cfg.publisher.Publish(&event.ServerOpenedEvent{ServerID: s.id})
	s.logTopology("Starting server monitoring")

	if s.cfg.monitoringDisabled {
		return
	}

	s.monitorMu.Lock()
	defer s.monitorMu.Unlock()
	if s.state.IsDisposed() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelMonitor = cancel
	s.monitorWG.Add(1)
	go s.monitor(ctx)
}

// Dispose stops monitoring, disposes the pool and publishes a Disposed description. It waits
// for the monitor goroutine, so it must not be called from one of the server's own listeners.
// Calls after the first are no-ops.
func (s *Server) Dispose() {
	if !s.state.TryChange(lifecycle.Disposed) {
		return
	}

	s.monitorMu.Lock()
	cancel := s.cancelMonitor
	s.monitorMu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.monitorWG.Wait()

	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.pool.Dispose()

	s.updateDescription(unknownDescription(s.Description(), description.ServerDisposed, nil))
	s.cfg.publisher.Publish(&event.ServerClosedEvent{ServerID: s.id})
	s.logTopology("Stopped server monitoring")
}

// Invalidate clears the pool, marks the server Connecting and requests an immediate check. It
// does nothing once the server is disposed.
func (s *Server) Invalidate() {
	if !s.state.IsInitialized() {
		return
	}

	s.pool.Clear()
	s.updateDescription(unknownDescription(s.Description(), description.Connecting, nil))
	s.RequestImmediateCheck()
}

// RequestImmediateCheck wakes the monitor up before the next heartbeat is due.
func (s *Server) RequestImmediateCheck() {
	select {
	case s.checkNow <- struct{}{}:
	default:
	}
}

// GetChannel checks a connection out of the server's pool.
func (s *Server) GetChannel(ctx context.Context, timeout time.Duration) (*Channel, error) {
	if err := s.state.Check("server"); err != nil {
		return nil, err
	}

	conn, err := s.pool.GetConnection(ctx, timeout)
	if err != nil {
		return nil, err
	}
	return &Channel{conn: conn, desc: s.Description()}, nil
}

// updateDescription stores desc and delivers the change to the listeners. The disposed
// description is final; updates that arrive after it are dropped.
func (s *Server) updateDescription(desc description.Server) {
	s.dispatchMu.Lock()
	s.descMu.Lock()
	old := s.desc
	if old.Status == description.ServerDisposed {
		s.descMu.Unlock()
		s.dispatchMu.Unlock()
		return
	}
	s.desc = desc
	s.descMu.Unlock()

	s.pending = append(s.pending, descriptionChange{old: old, new: desc})
	if s.dispatching {
		s.dispatchMu.Unlock()
		return
	}

	s.dispatching = true
	for len(s.pending) > 0 {
		change := s.pending[0]
		s.pending = s.pending[1:]
		s.dispatchMu.Unlock()

		s.deliver(change)

		s.dispatchMu.Lock()
	}
	s.dispatching = false
	s.dispatchMu.Unlock()
}

func (s *Server) deliver(change descriptionChange) {
	if !change.old.Equal(change.new) {
		s.cfg.publisher.Publish(&event.ServerDescriptionChangedEvent{
			ServerID:            s.id,
			PreviousDescription: change.old,
			NewDescription:      change.new,
		})
		s.logTopology("Server description changed",
			logger.KeyPreviousDescription, change.old.String(),
			logger.KeyNewDescription, change.new.String())
	}
	s.listeners.Publish(change)
}

func (s *Server) monitor(ctx context.Context) {
	defer s.monitorWG.Done()

	for {
		s.heartbeat(ctx)

		wait := s.cfg.connectRetryFrequency
		if s.Description().Status == description.Connected {
			wait = s.cfg.heartbeatFrequency
		}

		timer := s.cfg.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		case <-s.checkNow:
			timer.Stop()
		}
	}
}

func (s *Server) heartbeat(ctx context.Context) {
	hctx, cancel := context.WithTimeout(ctx, s.cfg.heartbeatTimeout)
	defer cancel()

	s.cfg.publisher.Publish(&event.ServerHeartbeatStartedEvent{Address: s.id.Address, ConnectionID: s.monitorConnectionID()})

	start := s.cfg.clock.Now()
	res, err := s.check(hctx)
	duration := s.cfg.clock.Since(start)
	if ctx.Err() != nil {
		// disposing
		return
	}

	var desc description.Server
	if err == nil {
		s.rtt.addSample(duration)
		desc, err = describeServer(s.id, s.cfg, res, s.rtt.getRTT(), s.rtt.getRTT90())
	}

	if err != nil {
		connID := s.monitorConnectionID()
		if s.conn != nil {
			_ = s.conn.Close()
			s.conn = nil
		}
		s.rtt.reset()
		if s.Description().Status == description.Connected {
			s.pool.Clear()
		}

		s.updateDescription(unknownDescription(s.Description(), description.Connecting, err))
		s.cfg.publisher.Publish(&event.ServerHeartbeatFailedEvent{
			Address:      s.id.Address,
			Duration:     duration,
			Failure:      err,
			ConnectionID: connID,
		})
		s.cfg.logger.Error(logger.ComponentTopology, err, "Server heartbeat failed",
			logger.SerializeServer(s.id.Address, logger.KeyDurationMS, duration.Milliseconds())...)
		return
	}

	s.updateDescription(desc)
	s.cfg.publisher.Publish(&event.ServerHeartbeatSucceededEvent{
		Address:      s.id.Address,
		Duration:     duration,
		Reply:        desc,
		ConnectionID: s.monitorConnectionID(),
	})
}

// check runs the handshake on the monitoring connection, opening one when needed. A freshly
// opened connection that already ran the handshake is not asked twice.
func (s *Server) check(ctx context.Context) (*connection.HandshakeResult, error) {
	if s.conn != nil && s.conn.IsOpen() {
		return s.cfg.handshaker.Handshake(ctx, s.conn)
	}

	conn, err := s.cfg.connectionFactory.CreateConnection(s.id.Address)
	if err != nil {
		return nil, err
	}
	if err = conn.Open(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	s.conn = conn

	if res := conn.HandshakeResult(); res != nil {
		return res, nil
	}
	return s.cfg.handshaker.Handshake(ctx, conn)
}

func (s *Server) monitorConnectionID() string {
	if s.conn == nil {
		return ""
	}
	return s.conn.ID()
}

func (s *Server) logTopology(msg string, keysAndValues ...interface{}) {
	if !s.cfg.logger.LevelComponentEnabled(logger.LevelDebug, logger.ComponentTopology) {
		return
	}
	kvs := append([]interface{}{logger.KeyClusterID, s.id.ClusterID.String()}, keysAndValues...)
	s.cfg.logger.Print(logger.LevelDebug, logger.ComponentTopology, msg, logger.SerializeServer(s.id.Address, kvs...)...)
}

// describeServer builds a Connected description from a handshake.
func describeServer(id description.ServerID, cfg *serverConfig, res *connection.HandshakeResult, rtt, rtt90 time.Duration) (description.Server, error) {
	if res == nil {
		return description.Server{}, errors.Errorf("no handshake result from %s", id.Address)
	}
	im := res.IsMaster
	if im.OK != 1 {
		return description.Server{}, errors.Errorf("isMaster reply from %s is not ok", id.Address)
	}

	b := description.NewServerBuilder(id).
		Status(description.Connected).
		PingTimes(rtt, rtt90).
		Compression(im.Compression)

	if im.Me != "" {
		b.CanonicalAddress(address.Address(im.Me).Canonicalize())
	}

	maxDocumentSize := im.MaxBSONObjectSize
	if maxDocumentSize == 0 {
		maxDocumentSize = cfg.maxDocumentSizeDefault
	}
	maxMessageSize := im.MaxMessageSizeBytes
	if maxMessageSize == 0 {
		maxMessageSize = cfg.maxMessageSizeDefault
		if maxDocumentSize+oneMiB > maxMessageSize {
			maxMessageSize = maxDocumentSize + oneMiB
		}
	}
	b.MaxDocumentSize(maxDocumentSize).MaxMessageSize(maxMessageSize)

	if im.MaxWriteBatchSize != 0 {
		b.MaxBatchCount(im.MaxWriteBatchSize)
	}
	if im.MinWireVersion != 0 || im.MaxWireVersion != 0 {
		vr := description.NewVersionRange(im.MinWireVersion, im.MaxWireVersion)
		b.WireVersion(&vr)
	}
	if bi := res.BuildInfo; bi.Version != "" {
		b.BuildInfo(&description.BuildInfo{
			Version:      bi.Version,
			VersionArray: bi.VersionArray,
			Bits:         bi.Bits,
			GitVersion:   bi.GitVersion,
		})
	}

	switch {
	case im.IsReplicaSet || im.SetName != "":
		kind := description.ReplicaSetOther
		switch {
		case im.IsReplicaSet:
		case im.IsMaster:
			kind = description.ReplicaSetPrimary
		case im.Hidden:
		case im.Secondary:
			kind = description.ReplicaSetSecondary
		case im.ArbiterOnly:
			kind = description.ReplicaSetArbiter
		}

		info := &description.ReplicaSetInfo{
			Name:    im.SetName,
			Members: replicaSetMembers(im),
			Tags:    description.NewTagSetFromMap(im.Tags),
			Version: im.SetVersion,
		}
		if im.Primary != "" {
			info.Primary = address.Address(im.Primary).Canonicalize()
		}
		b.Kind(kind).ReplicaSetInfo(info)
	case im.Msg == "isdbgrid":
		b.Kind(description.ShardRouter)
	default:
		b.Kind(description.Standalone)
	}

	return b.Build()
}

func replicaSetMembers(im connection.IsMasterResult) []address.Address {
	var members []address.Address
	for _, list := range [][]string{im.Hosts, im.Passives, im.Arbiters} {
		for _, host := range list {
			members = append(members, address.Address(host).Canonicalize())
		}
	}
	return members
}

// unknownDescription resets desc to an Unknown server with the given status. Build cannot fail
// for an Unknown server.
func unknownDescription(desc description.Server, status description.ServerStatus, lastErr error) description.Server {
	d, _ := description.BuilderFrom(desc).Reset().Status(status).LastError(lastErr).Build()
	return d
}

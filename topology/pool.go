// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/ikmak/mongo-driver-core/address"
	"github.com/ikmak/mongo-driver-core/connection"
	"github.com/ikmak/mongo-driver-core/event"
	"github.com/ikmak/mongo-driver-core/internal/lifecycle"
	"github.com/ikmak/mongo-driver-core/internal/logger"
)

// ensureMinSizeWait bounds how long a maintenance pass waits for a free slot before it gives up
// on growing the pool.
const ensureMinSizeWait = 20 * time.Millisecond

// ConnectionFactory creates unopened connections.
type ConnectionFactory interface {
	CreateConnection(addr address.Address) (connection.Connection, error)
}

// ConnectionFactoryFunc is a function that can be used as a ConnectionFactory.
type ConnectionFactoryFunc func(addr address.Address) (connection.Connection, error)

// CreateConnection implements the ConnectionFactory interface.
func (f ConnectionFactoryFunc) CreateConnection(addr address.Address) (connection.Connection, error) {
	return f(addr)
}

var _ ConnectionFactory = &connection.Factory{}

// Pool keeps a bounded set of open connections to one server.
//
// Every checked out connection holds one slot of the admission semaphore. Idle connections hold
// none, so a connection is only opened after reserving room for it in CurrentSize, which never
// exceeds MaxPoolSize. Idle connections are kept oldest first. A connection whose
// generation is older than the pool's is never handed out again.
type Pool struct {
	address address.Address
	factory ConnectionFactory
	cfg     *poolConfig
	state   lifecycle.State
	sem     *semaphore.Weighted

	generation    atomic.Uint64
	currentSize   atomic.Int64
	checkedOut    atomic.Int64
	waitQueueSize atomic.Int64

	mu   sync.Mutex
	idle []*pooledConnection

	// ctx is cancelled by Dispose to abort connections opened by maintenance.
	ctx    context.Context
	cancel context.CancelFunc

	maintenanceMu sync.Mutex
	timerMu       sync.Mutex
	timer         clockwork.Timer
}

// NewPool creates an uninitialized pool of connections to addr.
func NewPool(addr address.Address, factory ConnectionFactory, opts ...PoolOption) (*Pool, error) {
	if factory == nil {
		return nil, newConfigError("pool", "ConnectionFactory", "must not be nil")
	}
	cfg, err := newPoolConfig(opts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		address: addr,
		factory: factory,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.maxSize)),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Address returns the address of the server the pool connects to.
func (p *Pool) Address() address.Address { return p.address }

// Count returns the number of idle connections.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// CurrentSize returns the number of open connections, idle or checked out.
func (p *Pool) CurrentSize() int { return int(p.currentSize.Load()) }

// CheckedOut returns the number of connections currently checked out.
func (p *Pool) CheckedOut() int { return int(p.checkedOut.Load()) }

// WaitQueueSize returns the number of goroutines waiting for a connection.
func (p *Pool) WaitQueueSize() int { return int(p.waitQueueSize.Load()) }

// Generation returns the current generation.
func (p *Pool) Generation() uint64 { return p.generation.Load() }

// Initialize makes the pool usable and starts background maintenance. Calls after the first are
// no-ops.
func (p *Pool) Initialize() {
	if !p.state.TryChangeFrom(lifecycle.Uninitialized, lifecycle.Initialized) {
		return
	}

	p.publish(&event.PoolEvent{
		Type: event.PoolOpened,
		PoolOptions: &event.MonitorPoolOptions{
			MaxPoolSize:      p.cfg.maxSize,
			MinPoolSize:      p.cfg.minSize,
			MaxWaitQueueSize: uint64(p.cfg.maxWaitQueueSize),
		},
	})
	p.log("Connection pool created",
		logger.KeyMaxPoolSize, p.cfg.maxSize,
		logger.KeyMinPoolSize, p.cfg.minSize,
		logger.KeyWaitQueueSize, p.cfg.maxWaitQueueSize)

	p.timerMu.Lock()
	p.timer = p.cfg.clock.AfterFunc(0, p.maintain)
	p.timerMu.Unlock()
}

// Dispose closes every idle connection and makes the pool unusable. Connections checked out at
// this point are closed when they are returned. Calls after the first are no-ops.
func (p *Pool) Dispose() {
	if !p.state.TryChange(lifecycle.Disposed) {
		return
	}

	p.generation.Add(1)
	p.cancel()

	p.timerMu.Lock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timerMu.Unlock()

	// wait for a running maintenance pass
	p.maintenanceMu.Lock()
	p.maintenanceMu.Unlock() //nolint:staticcheck

	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, pc := range idle {
		p.closeConnection(pc, event.ReasonPoolClosed)
	}

	p.publish(&event.PoolEvent{Type: event.PoolClosed})
	p.log("Connection pool closed")
}

// Clear invalidates every connection opened so far. Nothing is closed eagerly: stale
// connections are discarded the next time they are checked out, returned or pruned.
func (p *Pool) Clear() {
	gen := p.generation.Add(1)
	p.publish(&event.PoolEvent{Type: event.PoolCleared, Generation: gen})
	p.log("Connection pool cleared", logger.KeyGeneration, gen)
}

// GetConnection checks out a connection. When every slot is in use it waits up to timeout for
// one to be returned: a timeout of 0 fails at once and Infinite waits until ctx is done.
func (p *Pool) GetConnection(ctx context.Context, timeout time.Duration) (*PooledConnection, error) {
	if err := p.state.Check("connection pool"); err != nil {
		reason := event.ReasonPoolClosed
		if errors.Is(err, lifecycle.ErrNotInitialized) {
			reason = event.ReasonNotInitialized
		}
		p.checkOutFailed(reason, err)
		return nil, err
	}

	start := p.cfg.clock.Now()
	if err := p.acquire(ctx, timeout); err != nil {
		reason := event.ReasonTimedOut
		if errors.Is(err, ErrWaitQueueFull) {
			reason = event.ReasonWaitQueueFull
		}
		p.checkOutFailed(reason, err)
		return nil, err
	}

	pc, err := p.checkOut(ctx)
	if err != nil {
		p.sem.Release(1)
		p.checkOutFailed(event.ReasonConnectionErrored, err)
		return nil, err
	}

	p.checkedOut.Add(1)
	p.publish(&event.PoolEvent{
		Type:         event.CheckedOut,
		ConnectionID: pc.ID(),
		Generation:   pc.generation,
		Duration:     p.cfg.clock.Since(start),
	})
	p.log("Connection checked out", logger.KeyDriverConnectionID, pc.ID())

	return &PooledConnection{pc: pc}, nil
}

// acquire takes one slot of the admission semaphore. Only goroutines that actually have to wait
// count against MaxWaitQueueSize.
func (p *Pool) acquire(ctx context.Context, timeout time.Duration) error {
	if p.sem.TryAcquire(1) {
		return nil
	}
	if timeout == 0 {
		return p.waitQueueTimeout(context.DeadlineExceeded, 0)
	}

	n := p.waitQueueSize.Add(1)
	defer p.waitQueueSize.Add(-1)
	if n > int64(p.cfg.maxWaitQueueSize) {
		return &WaitQueueFullError{Address: p.address, MaxWaitQueueSize: p.cfg.maxWaitQueueSize}
	}

	p.publish(&event.PoolEvent{Type: event.WaitQueueEntered})
	defer p.publish(&event.PoolEvent{Type: event.WaitQueueExited})

	if timeout != Infinite {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := p.cfg.clock.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return p.waitQueueTimeout(err, p.cfg.clock.Since(start))
	}
	return nil
}

func (p *Pool) waitQueueTimeout(err error, waited time.Duration) error {
	return &WaitQueueTimeoutError{
		Wrapped:      err,
		Address:      p.address,
		MaxPoolSize:  p.cfg.maxSize,
		CheckedOut:   p.CheckedOut(),
		WaitDuration: waited,
	}
}

// checkOut returns the oldest healthy idle connection, or a new one when there is none. The
// caller holds a slot.
//
// When the pool is full but the idle queue looked empty, a connection went idle after the
// queue was read. The caller's slot guarantees one is idle while the pool is full, so it retries
// the queue.
func (p *Pool) checkOut(ctx context.Context) (*pooledConnection, error) {
	for {
		if pc := p.dequeue(); pc != nil {
			if reason, expired := p.expired(pc); expired {
				p.closeConnection(pc, reason)
			} else {
				return pc, nil
			}
			continue
		}

		if p.reserve(p.cfg.maxSize) {
			return p.openConnection(ctx)
		}
		if err := p.state.Check("connection pool"); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		runtime.Gosched()
	}
}

// reserve counts one more connection in CurrentSize unless that would exceed limit.
func (p *Pool) reserve(limit uint64) bool {
	for {
		n := p.currentSize.Load()
		if n >= int64(limit) {
			return false
		}
		if p.currentSize.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// ReleaseConnection returns a checked out connection to the pool. Expired connections, and all
// connections once the pool is disposed, are closed instead. Releasing the same handle twice is
// a no-op.
func (p *Pool) ReleaseConnection(c *PooledConnection) error {
	if c == nil || c.pc == nil {
		return nil
	}
	if c.pc.pool != p {
		return errors.Errorf("connection %s does not belong to the pool for %s", c.pc.ID(), p.address)
	}
	if !c.released.CompareAndSwap(false, true) {
		return nil
	}

	pc := c.pc
	defer p.sem.Release(1)

	p.checkedOut.Add(-1)
	pc.lastUsedAt = p.cfg.clock.Now()
	p.publish(&event.PoolEvent{Type: event.CheckedIn, ConnectionID: pc.ID(), Generation: pc.generation})
	p.log("Connection checked in", logger.KeyDriverConnectionID, pc.ID())

	if reason, expired := p.expired(pc); expired {
		p.closeConnection(pc, reason)
		return nil
	}
	if !p.enqueue(pc) {
		p.closeConnection(pc, event.ReasonPoolClosed)
	}
	return nil
}

// expired reports whether pc must be closed rather than used, and why.
func (p *Pool) expired(pc *pooledConnection) (string, bool) {
	now := p.cfg.clock.Now()
	switch {
	case !pc.IsOpen():
		return event.ReasonConnectionErrored, true
	case pc.generation != p.Generation():
		return event.ReasonStale, true
	case p.cfg.maxLifeTime != Infinite && now.Sub(pc.openedAt) > p.cfg.maxLifeTime:
		return event.ReasonLifetime, true
	case p.cfg.maxIdleTime != Infinite && now.Sub(pc.lastUsedAt) > p.cfg.maxIdleTime:
		return event.ReasonIdle, true
	}
	return "", false
}

// handleError clears the pool when a borrowed connection fails with anything other than a
// driver-level error. Timeouts clear it too; a cancellation by the caller does not.
func (p *Pool) handleError(pc *pooledConnection, err error) {
	if err == nil || connection.IsDriverError(err) || errors.Is(err, context.Canceled) {
		return
	}
	if pc.generation != p.Generation() {
		// already invalidated
		return
	}
	p.logError(err, "Connection failed, clearing pool", logger.KeyDriverConnectionID, pc.ID())
	p.Clear()
}

// openConnection opens a connection counted by a prior reserve. The reservation is given back
// when the connection cannot be opened.
func (p *Pool) openConnection(ctx context.Context) (*pooledConnection, error) {
	generation := p.Generation()

	conn, err := p.factory.CreateConnection(p.address)
	if err != nil {
		p.currentSize.Add(-1)
		return nil, err
	}

	if err = conn.Open(ctx); err != nil {
		p.currentSize.Add(-1)
		_ = conn.Close()
		return nil, err
	}

	now := p.cfg.clock.Now()
	pc := &pooledConnection{
		Connection: conn,
		pool:       p,
		generation: generation,
		openedAt:   now,
		lastUsedAt: now,
	}

	p.publish(&event.PoolEvent{Type: event.ConnectionAdded, ConnectionID: pc.ID(), Generation: generation})
	p.log("Connection created", logger.KeyDriverConnectionID, pc.ID())
	return pc, nil
}

func (p *Pool) closeConnection(pc *pooledConnection, reason string) {
	_ = pc.Connection.Close()
	p.currentSize.Add(-1)

	p.publish(&event.PoolEvent{
		Type:         event.ConnectionRemoved,
		ConnectionID: pc.ID(),
		Reason:       reason,
		Generation:   pc.generation,
	})
	p.log("Connection closed", logger.KeyDriverConnectionID, pc.ID(), logger.KeyReason, reason)
}

func (p *Pool) dequeue() *pooledConnection {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.idle) == 0 {
		return nil
	}
	pc := p.idle[0]
	p.idle[0] = nil
	p.idle = p.idle[1:]
	return pc
}

// enqueue appends pc to the idle queue. It returns false once the pool is disposed.
func (p *Pool) enqueue(pc *pooledConnection) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.IsDisposed() {
		return false
	}
	p.idle = append(p.idle, pc)
	return true
}

func (p *Pool) maintain() {
	p.runMaintenance()

	p.timerMu.Lock()
	defer p.timerMu.Unlock()
	if p.state.IsInitialized() {
		p.timer.Reset(p.cfg.maintenanceFrequency)
	}
}

// runMaintenance prunes and then grows the pool. A pass that finds another one running is
// skipped.
func (p *Pool) runMaintenance() {
	if !p.maintenanceMu.TryLock() {
		return
	}
	defer p.maintenanceMu.Unlock()

	if !p.state.IsInitialized() {
		return
	}
	p.prune()
	p.ensureMinSize()
}

// prune inspects up to Count idle connections, oldest first, and closes at most one expired
// connection. Each inspected connection is taken out of the queue under a slot of its own so
// the bound on open connections holds while it is out.
func (p *Pool) prune() {
	n := p.Count()
	for i := 0; i < n; i++ {
		if !p.sem.TryAcquire(1) {
			return
		}

		pc := p.dequeue()
		if pc == nil {
			p.sem.Release(1)
			return
		}

		if reason, expired := p.expired(pc); expired {
			p.closeConnection(pc, reason)
			p.sem.Release(1)
			return
		}

		if !p.enqueue(pc) {
			p.closeConnection(pc, event.ReasonPoolClosed)
		}
		p.sem.Release(1)
	}
}

// ensureMinSize opens connections until CurrentSize reaches MinPoolSize. It stops as soon as
// the pool is busy or a connection cannot be opened. The size is checked again once a slot is
// held, since other callers may have opened connections while the pass waited.
func (p *Pool) ensureMinSize() {
	for p.CurrentSize() < int(p.cfg.minSize) && p.state.IsInitialized() {
		ctx, cancel := context.WithTimeout(p.ctx, ensureMinSizeWait)
		err := p.sem.Acquire(ctx, 1)
		cancel()
		if err != nil {
			return
		}

		if !p.reserve(p.cfg.minSize) {
			p.sem.Release(1)
			return
		}

		pc, err := p.openConnection(p.ctx)
		if err != nil {
			p.sem.Release(1)
			p.logError(err, "Unable to open connection while maintaining minimum pool size")
			return
		}

		if !p.enqueue(pc) {
			p.closeConnection(pc, event.ReasonPoolClosed)
		}
		p.sem.Release(1)
	}
}

func (p *Pool) checkOutFailed(reason string, err error) {
	p.publish(&event.PoolEvent{Type: event.CheckOutFailed, Reason: reason, Error: err})
	p.log("Connection checkout failed", logger.KeyReason, reason, logger.KeyError, err.Error())
}

func (p *Pool) publish(evt *event.PoolEvent) {
	evt.Address = p.address.String()
	p.cfg.publisher.Publish(evt)
}

func (p *Pool) log(msg string, keysAndValues ...interface{}) {
	if !p.cfg.logger.LevelComponentEnabled(logger.LevelDebug, logger.ComponentConnection) {
		return
	}
	p.cfg.logger.Print(logger.LevelDebug, logger.ComponentConnection, msg,
		logger.SerializeServer(p.address, keysAndValues...)...)
}

func (p *Pool) logError(err error, msg string, keysAndValues ...interface{}) {
	p.cfg.logger.Error(logger.ComponentConnection, err, msg, logger.SerializeServer(p.address, keysAndValues...)...)
}

type pooledConnection struct {
	connection.Connection
	pool       *Pool
	generation uint64
	openedAt   time.Time
	lastUsedAt time.Time
}

// PooledConnection is a checked out connection. Closing it returns it to its pool exactly once;
// errors from reading or writing are reported to the pool, which may clear itself.
type PooledConnection struct {
	pc       *pooledConnection
	released atomic.Bool
}

var _ connection.Connection = &PooledConnection{}

// ID returns the ID of the underlying connection.
func (c *PooledConnection) ID() string { return c.pc.ID() }

// Address returns the address of the underlying connection.
func (c *PooledConnection) Address() address.Address { return c.pc.Address() }

// Generation returns the pool generation the connection was opened in.
func (c *PooledConnection) Generation() uint64 { return c.pc.generation }

// Open returns an error: pooled connections are opened by the pool.
func (c *PooledConnection) Open(context.Context) error {
	return errors.Errorf("connection %s is managed by a pool and is already open", c.pc.ID())
}

// IsOpen reports whether the handle is still checked out and the connection is open.
func (c *PooledConnection) IsOpen() bool {
	return !c.released.Load() && c.pc.IsOpen()
}

// HandshakeResult returns the handshake result of the underlying connection.
func (c *PooledConnection) HandshakeResult() *connection.HandshakeResult {
	return c.pc.HandshakeResult()
}

// WriteWireMessage writes wm to the connection.
func (c *PooledConnection) WriteWireMessage(ctx context.Context, wm []byte) error {
	if c.released.Load() {
		return connection.ErrConnectionClosed
	}
	err := c.pc.WriteWireMessage(ctx, wm)
	c.pc.pool.handleError(c.pc, err)
	return err
}

// ReadWireMessage reads a wire message from the connection.
func (c *PooledConnection) ReadWireMessage(ctx context.Context) ([]byte, error) {
	if c.released.Load() {
		return nil, connection.ErrConnectionClosed
	}
	wm, err := c.pc.ReadWireMessage(ctx)
	c.pc.pool.handleError(c.pc, err)
	return wm, err
}

// Close returns the connection to its pool.
func (c *PooledConnection) Close() error {
	return c.pc.pool.ReleaseConnection(c)
}

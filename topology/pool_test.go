// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikmak/mongo-driver-core/address"
	"github.com/ikmak/mongo-driver-core/connection"
	"github.com/ikmak/mongo-driver-core/event"
	"github.com/ikmak/mongo-driver-core/internal/lifecycle"
)

const testAddr = address.Address("localhost:27017")

func newTestPool(t *testing.T, factory ConnectionFactory, opts ...PoolOption) *Pool {
	t.Helper()

	p, err := NewPool(testAddr, factory, opts...)
	require.NoError(t, err)
	p.Initialize()
	t.Cleanup(p.Dispose)
	return p
}

func TestNewPool(t *testing.T) {
	testCases := []struct {
		name   string
		opts   []PoolOption
		option string
	}{
		{"zero max size", []PoolOption{WithMaxPoolSize(0)}, "MaxPoolSize"},
		{"min size above max size", []PoolOption{WithMaxPoolSize(2), WithMinPoolSize(3)}, "MinPoolSize"},
		{"negative wait queue", []PoolOption{WithMaxWaitQueueSize(-1)}, "MaxWaitQueueSize"},
		{"zero idle time", []PoolOption{WithMaxIdleTime(0)}, "MaxIdleTime"},
		{"negative life time", []PoolOption{WithMaxLifeTime(-time.Second)}, "MaxLifeTime"},
		{"zero maintenance frequency", []PoolOption{WithMaintenanceFrequency(0)}, "MaintenanceFrequency"},
		{"nil clock", []PoolOption{WithPoolClock(nil)}, "Clock"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewPool(testAddr, &fakeFactory{}, tc.opts...)

			var cerr *ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tc.option, cerr.Option)
		})
	}

	t.Run("nil factory", func(t *testing.T) {
		_, err := NewPool(testAddr, nil)
		require.Error(t, err)
	})
	t.Run("infinite lifetimes are valid", func(t *testing.T) {
		_, err := NewPool(testAddr, &fakeFactory{}, WithMaxIdleTime(Infinite), WithMaxLifeTime(Infinite))
		require.NoError(t, err)
	})
}

func TestPoolLifecycle(t *testing.T) {
	t.Run("checkout before Initialize fails", func(t *testing.T) {
		pub := event.NewPublisher()
		events := recordEvents[*event.PoolEvent](pub)

		p, err := NewPool(testAddr, &fakeFactory{}, WithPoolPublisher(pub))
		require.NoError(t, err)

		_, err = p.GetConnection(context.Background(), Infinite)
		require.ErrorIs(t, err, lifecycle.ErrNotInitialized)

		evts := events.all()
		require.Len(t, evts, 1)
		assert.Equal(t, event.CheckOutFailed, evts[0].Type)
		assert.Equal(t, event.ReasonNotInitialized, evts[0].Reason)
	})
	t.Run("checkout after Dispose fails", func(t *testing.T) {
		p := newTestPool(t, &fakeFactory{})
		p.Dispose()

		_, err := p.GetConnection(context.Background(), Infinite)
		require.ErrorIs(t, err, lifecycle.ErrDisposed)
	})
	t.Run("concurrent Initialize and Dispose transition once", func(t *testing.T) {
		pub := event.NewPublisher()
		events := recordEvents[*event.PoolEvent](pub)
		p, err := NewPool(testAddr, &fakeFactory{}, WithPoolPublisher(pub))
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.Initialize()
			}()
		}
		wg.Wait()
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.Dispose()
			}()
		}
		wg.Wait()

		var opened, closed int
		for _, typ := range poolEventTypes(events) {
			switch typ {
			case event.PoolOpened:
				opened++
			case event.PoolClosed:
				closed++
			}
		}
		assert.Equal(t, 1, opened)
		assert.Equal(t, 1, closed)
	})
	t.Run("Dispose closes idle connections and connections returned later", func(t *testing.T) {
		factory := &fakeFactory{}
		p := newTestPool(t, factory)

		idle, err := p.GetConnection(context.Background(), Infinite)
		require.NoError(t, err)
		out, err := p.GetConnection(context.Background(), Infinite)
		require.NoError(t, err)
		require.NoError(t, idle.Close())

		p.Dispose()
		conns := factory.connections()
		require.Len(t, conns, 2)
		assert.True(t, conns[0].isClosed())
		assert.False(t, conns[1].isClosed())

		require.NoError(t, out.Close())
		assert.True(t, conns[1].isClosed())
		assert.Equal(t, 0, p.CurrentSize())
		assert.Equal(t, 0, p.Count())
	})
}

func TestPoolGetConnection(t *testing.T) {
	t.Run("reuses released connections", func(t *testing.T) {
		factory := &fakeFactory{}
		p := newTestPool(t, factory)

		c1, err := p.GetConnection(context.Background(), Infinite)
		require.NoError(t, err)
		assert.Equal(t, 1, p.CheckedOut())
		assert.Equal(t, 0, p.Count())
		id := c1.ID()
		require.NoError(t, c1.Close())
		assert.Equal(t, 1, p.Count())

		c2, err := p.GetConnection(context.Background(), Infinite)
		require.NoError(t, err)
		defer c2.Close()

		assert.Equal(t, id, c2.ID())
		assert.EqualValues(t, 1, factory.created.Load())
	})
	t.Run("hands out the oldest idle connection first", func(t *testing.T) {
		p := newTestPool(t, &fakeFactory{})

		c1, err := p.GetConnection(context.Background(), Infinite)
		require.NoError(t, err)
		c2, err := p.GetConnection(context.Background(), Infinite)
		require.NoError(t, err)
		first := c1.ID()
		require.NoError(t, c1.Close())
		require.NoError(t, c2.Close())

		c3, err := p.GetConnection(context.Background(), Infinite)
		require.NoError(t, err)
		defer c3.Close()
		assert.Equal(t, first, c3.ID())
	})
	t.Run("never opens more than MaxPoolSize connections", func(t *testing.T) {
		const maxSize = 3
		factory := &fakeFactory{}
		p := newTestPool(t, factory, WithMaxPoolSize(maxSize))

		var maxSeen atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					c, err := p.GetConnection(context.Background(), Infinite)
					if !assert.NoError(t, err) {
						return
					}
					size := int64(p.CurrentSize())
					for {
						seen := maxSeen.Load()
						if size <= seen || maxSeen.CompareAndSwap(seen, size) {
							break
						}
					}
					time.Sleep(time.Millisecond)
					assert.NoError(t, c.Close())
				}
			}()
		}
		wg.Wait()

		assert.LessOrEqual(t, maxSeen.Load(), int64(maxSize))
		assert.LessOrEqual(t, factory.created.Load(), int64(maxSize))
		assert.Equal(t, 0, p.CheckedOut())
	})
	t.Run("open failure releases the slot", func(t *testing.T) {
		factory := &fakeFactory{}
		factory.setOpenErr(errors.New("connection refused"))
		p := newTestPool(t, factory, WithMaxPoolSize(1))

		_, err := p.GetConnection(context.Background(), 0)
		require.Error(t, err)
		assert.Equal(t, 0, p.CurrentSize())

		factory.setOpenErr(nil)
		c, err := p.GetConnection(context.Background(), 0)
		require.NoError(t, err)
		require.NoError(t, c.Close())
	})
}

func TestPoolTimeouts(t *testing.T) {
	checkOutAll := func(t *testing.T, p *Pool, n int) []*PooledConnection {
		t.Helper()
		conns := make([]*PooledConnection, 0, n)
		for i := 0; i < n; i++ {
			c, err := p.GetConnection(context.Background(), Infinite)
			require.NoError(t, err)
			conns = append(conns, c)
		}
		t.Cleanup(func() {
			for _, c := range conns {
				_ = c.Close()
			}
		})
		return conns
	}

	t.Run("zero timeout fails at once when the pool is exhausted", func(t *testing.T) {
		p := newTestPool(t, &fakeFactory{}, WithMaxPoolSize(4))
		checkOutAll(t, p, 4)

		start := time.Now()
		_, err := p.GetConnection(context.Background(), 0)
		assert.Less(t, time.Since(start), time.Second)

		var wqe *WaitQueueTimeoutError
		require.ErrorAs(t, err, &wqe)
		assert.True(t, wqe.Timeout())
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 4, wqe.CheckedOut)
		assert.Equal(t, 0, p.WaitQueueSize())
	})
	t.Run("finite timeout", func(t *testing.T) {
		p := newTestPool(t, &fakeFactory{}, WithMaxPoolSize(1))
		checkOutAll(t, p, 1)

		_, err := p.GetConnection(context.Background(), 20*time.Millisecond)
		var wqe *WaitQueueTimeoutError
		require.ErrorAs(t, err, &wqe)
		assert.True(t, wqe.Timeout())
	})
	t.Run("infinite timeout waits for a release", func(t *testing.T) {
		p := newTestPool(t, &fakeFactory{}, WithMaxPoolSize(1))
		held := checkOutAll(t, p, 1)

		got := make(chan error, 1)
		go func() {
			c, err := p.GetConnection(context.Background(), Infinite)
			if err == nil {
				err = c.Close()
			}
			got <- err
		}()

		require.Eventually(t, func() bool { return p.WaitQueueSize() == 1 }, time.Second, time.Millisecond)
		require.NoError(t, held[0].Close())
		require.NoError(t, <-got)
	})
	t.Run("infinite timeout ends with the context", func(t *testing.T) {
		p := newTestPool(t, &fakeFactory{}, WithMaxPoolSize(1))
		checkOutAll(t, p, 1)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		_, err := p.GetConnection(ctx, Infinite)
		var wqe *WaitQueueTimeoutError
		require.ErrorAs(t, err, &wqe)
		assert.False(t, wqe.Timeout())
		assert.ErrorIs(t, err, context.Canceled)
	})
	t.Run("full wait queue rejects without waiting", func(t *testing.T) {
		pub := event.NewPublisher()
		events := recordEvents[*event.PoolEvent](pub)
		p := newTestPool(t, &fakeFactory{}, WithMaxPoolSize(1), WithMaxWaitQueueSize(2), WithPoolPublisher(pub))
		checkOutAll(t, p, 1)

		ctx, cancel := context.WithCancel(context.Background())
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = p.GetConnection(ctx, Infinite)
			}()
		}
		require.Eventually(t, func() bool { return p.WaitQueueSize() == 2 }, time.Second, time.Millisecond)

		start := time.Now()
		_, err := p.GetConnection(context.Background(), time.Hour)
		assert.Less(t, time.Since(start), time.Second)
		require.ErrorIs(t, err, ErrWaitQueueFull)

		var full *WaitQueueFullError
		require.ErrorAs(t, err, &full)
		assert.Equal(t, 2, full.MaxWaitQueueSize)

		cancel()
		wg.Wait()
		assert.Equal(t, 0, p.WaitQueueSize())
		assert.Contains(t, poolEventTypes(events), event.WaitQueueEntered)

		var reasons []string
		for _, evt := range events.all() {
			if evt.Type == event.CheckOutFailed {
				reasons = append(reasons, evt.Reason)
			}
		}
		assert.Contains(t, reasons, event.ReasonWaitQueueFull)
	})
}

func TestPoolClear(t *testing.T) {
	t.Run("idle connections of an older generation are replaced", func(t *testing.T) {
		pub := event.NewPublisher()
		events := recordEvents[*event.PoolEvent](pub)
		factory := &fakeFactory{}
		p := newTestPool(t, factory, WithPoolPublisher(pub))

		c1, err := p.GetConnection(context.Background(), Infinite)
		require.NoError(t, err)
		old := c1.ID()
		require.NoError(t, c1.Close())

		p.Clear()
		assert.EqualValues(t, 1, p.Generation())

		c2, err := p.GetConnection(context.Background(), Infinite)
		require.NoError(t, err)
		defer c2.Close()

		assert.NotEqual(t, old, c2.ID())
		assert.EqualValues(t, 1, c2.Generation())
		assert.True(t, factory.connections()[0].isClosed())

		var removed *event.PoolEvent
		for _, evt := range events.all() {
			if evt.Type == event.ConnectionRemoved {
				removed = evt
			}
		}
		require.NotNil(t, removed)
		assert.Equal(t, event.ReasonStale, removed.Reason)
		assert.Equal(t, old, removed.ConnectionID)
	})
	t.Run("checked out connections are closed when returned", func(t *testing.T) {
		factory := &fakeFactory{}
		p := newTestPool(t, factory)

		c, err := p.GetConnection(context.Background(), Infinite)
		require.NoError(t, err)
		p.Clear()
		require.NoError(t, c.Close())

		assert.Equal(t, 0, p.Count())
		assert.Equal(t, 0, p.CurrentSize())
		assert.True(t, factory.connections()[0].isClosed())
	})
}

func TestPoolHandleError(t *testing.T) {
	testCases := []struct {
		name    string
		err     error
		cleared bool
	}{
		{"network error", io.EOF, true},
		{"command error", connection.CommandError{Code: 11600, Message: "interrupted"}, false},
		{"timeout", context.DeadlineExceeded, true},
		{"wrapped timeout", connection.Error{ConnectionID: "1", Wrapped: context.DeadlineExceeded}, true},
		{"canceled", connection.Error{ConnectionID: "1", Wrapped: context.Canceled}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			factory := &fakeFactory{prepare: func(c *fakeConnection) { c.writeErr = tc.err }}
			p := newTestPool(t, factory)

			c, err := p.GetConnection(context.Background(), Infinite)
			require.NoError(t, err)
			defer c.Close()

			err = c.WriteWireMessage(context.Background(), []byte{})
			require.ErrorIs(t, err, tc.err)

			var want uint64
			if tc.cleared {
				want = 1
			}
			assert.Equal(t, want, p.Generation())
		})
	}

	t.Run("stale connection does not clear again", func(t *testing.T) {
		factory := &fakeFactory{prepare: func(c *fakeConnection) { c.readErr = io.EOF }}
		p := newTestPool(t, factory)

		c, err := p.GetConnection(context.Background(), Infinite)
		require.NoError(t, err)
		defer c.Close()

		_, err = c.ReadWireMessage(context.Background())
		require.Error(t, err)
		_, err = c.ReadWireMessage(context.Background())
		require.Error(t, err)
		assert.EqualValues(t, 1, p.Generation())
	})
}

func TestPooledConnection(t *testing.T) {
	t.Run("double close releases once", func(t *testing.T) {
		pub := event.NewPublisher()
		events := recordEvents[*event.PoolEvent](pub)
		p := newTestPool(t, &fakeFactory{}, WithPoolPublisher(pub))

		c, err := p.GetConnection(context.Background(), Infinite)
		require.NoError(t, err)
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())

		assert.Equal(t, 0, p.CheckedOut())
		assert.Equal(t, 1, p.Count())

		var checkedIn int
		for _, typ := range poolEventTypes(events) {
			if typ == event.CheckedIn {
				checkedIn++
			}
		}
		assert.Equal(t, 1, checkedIn)
	})
	t.Run("released handle cannot be used", func(t *testing.T) {
		p := newTestPool(t, &fakeFactory{})

		c, err := p.GetConnection(context.Background(), Infinite)
		require.NoError(t, err)
		require.True(t, c.IsOpen())
		require.NoError(t, c.Close())

		assert.False(t, c.IsOpen())
		assert.ErrorIs(t, c.WriteWireMessage(context.Background(), nil), connection.ErrConnectionClosed)
		_, err = c.ReadWireMessage(context.Background())
		assert.ErrorIs(t, err, connection.ErrConnectionClosed)
		assert.Error(t, c.Open(context.Background()))
	})
	t.Run("connection from another pool is rejected", func(t *testing.T) {
		p1 := newTestPool(t, &fakeFactory{})
		p2 := newTestPool(t, &fakeFactory{})

		c, err := p1.GetConnection(context.Background(), Infinite)
		require.NoError(t, err)
		defer c.Close()

		assert.Error(t, p2.ReleaseConnection(c))
		assert.Equal(t, 1, p1.CheckedOut())
	})
}

func TestPoolMaintenance(t *testing.T) {
	t.Run("fills the pool up to MinPoolSize", func(t *testing.T) {
		factory := &fakeFactory{}
		p := newTestPool(t, factory, WithMaxPoolSize(4), WithMinPoolSize(2))

		require.Eventually(t, func() bool { return p.Count() == 2 }, time.Second, time.Millisecond)
		assert.Equal(t, 2, p.CurrentSize())
		assert.EqualValues(t, 2, factory.created.Load())

		var conns []*PooledConnection
		for i := 0; i < 3; i++ {
			c, err := p.GetConnection(context.Background(), Infinite)
			require.NoError(t, err)
			conns = append(conns, c)
		}
		c, err := p.GetConnection(context.Background(), Infinite)
		require.NoError(t, err)
		conns = append(conns, c)

		assert.EqualValues(t, 4, factory.created.Load())
		assert.Equal(t, 4, p.CurrentSize())
		for _, c := range conns {
			require.NoError(t, c.Close())
		}
	})
	t.Run("evicts idle connections on the maintenance timer", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		clock := clockwork.NewFakeClock()
		factory := &fakeFactory{}
		p := newTestPool(t, factory,
			WithPoolClock(clock),
			WithMaxIdleTime(time.Minute),
			WithMaintenanceFrequency(10*time.Second))
		require.NoError(t, clock.BlockUntilContext(ctx, 1))

		c1, err := p.GetConnection(context.Background(), Infinite)
		require.NoError(t, err)
		c2, err := p.GetConnection(context.Background(), Infinite)
		require.NoError(t, err)
		require.NoError(t, c1.Close())
		require.NoError(t, c2.Close())

		clock.Advance(2 * time.Minute)
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		assert.Equal(t, 1, p.Count())
		assert.True(t, factory.connections()[0].isClosed())

		clock.Advance(10 * time.Second)
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		assert.Equal(t, 0, p.Count())
		assert.Equal(t, 0, p.CurrentSize())
	})
	t.Run("closes at most one expired connection per pass", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		pub := event.NewPublisher()
		events := recordEvents[*event.PoolEvent](pub)
		clock := clockwork.NewFakeClock()
		factory := &fakeFactory{}
		p := newTestPool(t, factory,
			WithPoolClock(clock),
			WithPoolPublisher(pub),
			WithMaxLifeTime(time.Minute),
			WithMaintenanceFrequency(time.Hour))
		require.NoError(t, clock.BlockUntilContext(ctx, 1))

		var conns []*PooledConnection
		for i := 0; i < 3; i++ {
			c, err := p.GetConnection(context.Background(), Infinite)
			require.NoError(t, err)
			conns = append(conns, c)
		}
		for _, c := range conns {
			require.NoError(t, c.Close())
		}
		clock.Advance(2 * time.Minute)

		p.runMaintenance()
		assert.Equal(t, 2, p.Count())
		p.runMaintenance()
		assert.Equal(t, 1, p.Count())

		created := factory.connections()
		assert.True(t, created[0].isClosed())
		assert.True(t, created[1].isClosed())
		assert.False(t, created[2].isClosed())

		for _, evt := range events.all() {
			if evt.Type == event.ConnectionRemoved {
				assert.Equal(t, event.ReasonLifetime, evt.Reason)
			}
		}
	})
	t.Run("growing to the minimum size respects the maximum size", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		clock := clockwork.NewFakeClock()
		factory := &fakeFactory{}
		p := newTestPool(t, factory,
			WithPoolClock(clock),
			WithMaxPoolSize(2),
			WithMaintenanceFrequency(time.Hour))
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		p.cfg.minSize = 2

		held, err := p.GetConnection(ctx, Infinite)
		require.NoError(t, err)

		// the next connection blocks while it is being created
		var once sync.Once
		creating := make(chan struct{})
		gate := make(chan struct{})
		factory.mu.Lock()
		factory.prepare = func(*fakeConnection) {
			once.Do(func() { close(creating) })
			<-gate
		}
		factory.mu.Unlock()

		type result struct {
			c   *PooledConnection
			err error
		}
		second := make(chan result, 1)
		go func() {
			c, err := p.GetConnection(ctx, Infinite)
			second <- result{c, err}
		}()
		<-creating

		maintained := make(chan struct{})
		go func() {
			defer close(maintained)
			p.runMaintenance()
		}()

		close(gate)
		res := <-second
		require.NoError(t, res.err)
		require.NoError(t, held.Close())
		<-maintained

		var open int
		for _, c := range factory.connections() {
			if !c.isClosed() {
				open++
			}
		}
		assert.LessOrEqual(t, open, 2)
		assert.LessOrEqual(t, p.CurrentSize(), 2)
		require.NoError(t, res.c.Close())
	})
	t.Run("a full pool hands out a connection that went idle", func(t *testing.T) {
		factory := &fakeFactory{}
		p := newTestPool(t, factory, WithMaxPoolSize(1))

		c, err := p.GetConnection(context.Background(), Infinite)
		require.NoError(t, err)
		id := c.ID()
		require.NoError(t, c.Close())

		// CurrentSize is at the maximum, so the idle connection is the only one to use
		c, err = p.GetConnection(context.Background(), 0)
		require.NoError(t, err)
		assert.Equal(t, id, c.ID())
		assert.EqualValues(t, 1, factory.created.Load())
		require.NoError(t, c.Close())
	})
	t.Run("Dispose stops maintenance", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		clock := clockwork.NewFakeClock()
		factory := &fakeFactory{}
		p := newTestPool(t, factory, WithPoolClock(clock), WithMinPoolSize(1))
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		require.Equal(t, 1, p.CurrentSize())

		p.Dispose()
		clock.Advance(time.Hour)
		assert.Equal(t, 0, p.CurrentSize())
		assert.EqualValues(t, 1, factory.created.Load())
	})
}

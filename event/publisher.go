// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package event contains the lifecycle events raised by pools, servers and clusters and the
// Publisher that delivers them.
package event

import "sync"

// Subscriber receives every event published on a Publisher.
type Subscriber func(evt interface{})

type subscription struct {
	id uint64
	fn Subscriber
}

// Publisher delivers events to subscribers synchronously, in subscription order. The zero value
// is ready to use and a nil *Publisher drops every event.
type Publisher struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

// NewPublisher creates an empty Publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Subscribe registers fn and returns a function that removes it. The returned function is
// idempotent.
func (p *Publisher) Subscribe(fn Subscriber) (unsubscribe func()) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.subs = append(p.subs, subscription{id: id, fn: fn})
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { p.remove(id) })
	}
}

func (p *Publisher) remove(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, s := range p.subs {
		if s.id == id {
			subs := make([]subscription, 0, len(p.subs)-1)
			subs = append(subs, p.subs[:i]...)
			p.subs = append(subs, p.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers evt to every current subscriber. Subscribers run on the publishing goroutine
// and must not block.
func (p *Publisher) Publish(evt interface{}) {
	if p == nil {
		return
	}

	p.mu.RLock()
	subs := p.subs
	p.mu.RUnlock()

	for _, s := range subs {
		s.fn(evt)
	}
}

// Subscribe registers fn for the events of type T only.
func Subscribe[T any](p *Publisher, fn func(T)) (unsubscribe func()) {
	return p.Subscribe(func(evt interface{}) {
		if typed, ok := evt.(T); ok {
			fn(typed)
		}
	})
}

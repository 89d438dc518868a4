// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"sync"
	"time"

	"github.com/montanaflynn/stats"
)

const (
	rttAlphaValue = 0.2
	rttSamples    = 10
)

// rttMonitor tracks the round trip times measured by a server's heartbeats.
type rttMonitor struct {
	mu            sync.RWMutex // mu guards every field below
	samples       []time.Duration
	offset        int
	averageRTT    time.Duration
	averageRTTSet bool
}

func newRTTMonitor() *rttMonitor {
	return &rttMonitor{samples: make([]time.Duration, rttSamples)}
}

func (r *rttMonitor) addSample(rtt time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.samples[r.offset] = rtt
	r.offset = (r.offset + 1) % len(r.samples)

	if !r.averageRTTSet {
		r.averageRTT = rtt
		r.averageRTTSet = true
		return
	}

	r.averageRTT = time.Duration(rttAlphaValue*float64(rtt) + (1-rttAlphaValue)*float64(r.averageRTT))
}

// reset forgets every sample. It is called when a heartbeat fails.
func (r *rttMonitor) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.samples {
		r.samples[i] = 0
	}
	r.offset = 0
	r.averageRTT = 0
	r.averageRTTSet = false
}

// getRTT returns the exponentially weighted moving average round trip time.
func (r *rttMonitor) getRTT() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.averageRTT
}

// getRTT90 returns the 90th percentile of the recorded samples, or 0 without samples.
func (r *rttMonitor) getRTT90() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	floatSamples := make([]float64, 0, len(r.samples))
	for _, sample := range r.samples {
		if sample > 0 {
			floatSamples = append(floatSamples, float64(sample))
		}
	}
	if len(floatSamples) == 0 {
		return 0
	}

	p, err := stats.Percentile(floatSamples, 90)
	if err != nil {
		return 0
	}
	return time.Duration(p)
}

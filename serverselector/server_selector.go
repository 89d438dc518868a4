// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package serverselector contains the selectors used to choose servers from a topology
// description.
package serverselector

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ikmak/mongo-driver-core/address"
	"github.com/ikmak/mongo-driver-core/description"
	"github.com/ikmak/mongo-driver-core/readpref"
)

// DefaultLocalThreshold is the width of the latency window used when none is configured.
const DefaultLocalThreshold = 15 * time.Millisecond

// Any selects every candidate.
type Any struct{}

var _ description.ServerSelector = Any{}

// SelectServer returns the candidates unchanged.
func (Any) SelectServer(_ description.Topology, candidates []description.Server) ([]description.Server, error) {
	return candidates, nil
}

func (Any) String() string { return "any" }

// Connected selects the candidates whose status is Connected.
type Connected struct{}

var _ description.ServerSelector = Connected{}

// SelectServer selects the connected candidates.
func (Connected) SelectServer(_ description.Topology, candidates []description.Server) ([]description.Server, error) {
	return filter(candidates, func(s description.Server) bool { return s.IsConnected() }), nil
}

func (Connected) String() string { return "connected" }

// Address selects the candidate with a specific address.
type Address struct {
	Address address.Address
}

var _ description.ServerSelector = &Address{}

// SelectServer selects the candidate whose address matches.
func (selector *Address) SelectServer(_ description.Topology, candidates []description.Server) ([]description.Server, error) {
	want := selector.Address.Canonicalize()
	return filter(candidates, func(s description.Server) bool { return s.Address() == want }), nil
}

func (selector *Address) String() string {
	return fmt.Sprintf("address(%s)", selector.Address)
}

// Composite combines multiple selectors into a single selector by applying them
// in order to the candidates list.
//
// For example, if the initial candidates list is [s0, s1, s2, s3] and two
// selectors are provided where the first matches s0 and s1 and the second
// matches s1 and s2, the following would occur during server selection:
//
// 1. firstSelector([s0, s1, s2, s3]) -> [s0, s1]
// 2. secondSelector([s0, s1]) -> [s1]
//
// The final list of candidates returned by the composite selector would be
// [s1].
type Composite struct {
	Selectors []description.ServerSelector
}

var _ description.ServerSelector = &Composite{}

// SelectServer combines multiple selectors into a single selector.
func (selector *Composite) SelectServer(
	topo description.Topology,
	candidates []description.Server,
) ([]description.Server, error) {
	var err error
	for _, sel := range selector.Selectors {
		candidates, err = sel.SelectServer(topo, candidates)
		if err != nil {
			return nil, err
		}
	}

	return candidates, nil
}

func (selector *Composite) String() string {
	names := make([]string, 0, len(selector.Selectors))
	for _, sel := range selector.Selectors {
		names = append(names, Describe(sel))
	}
	return "composite(" + strings.Join(names, ", ") + ")"
}

// Latency creates a ServerSelector which selects servers based on their average
// RTT values.
type Latency struct {
	Latency time.Duration
}

var _ description.ServerSelector = &Latency{}

// SelectServer selects servers based on average RTT.
func (selector *Latency) SelectServer(
	_ description.Topology,
	candidates []description.Server,
) ([]description.Server, error) {
	if selector.Latency < 0 {
		return candidates, nil
	}

	switch len(candidates) {
	case 0, 1:
		return candidates, nil
	default:
		min := time.Duration(math.MaxInt64)
		for _, candidate := range candidates {
			if candidate.AveragePingTime < min {
				min = candidate.AveragePingTime
			}
		}

		max := min + selector.Latency
		return filter(candidates, func(s description.Server) bool { return s.AveragePingTime <= max }), nil
	}
}

func (selector *Latency) String() string {
	return fmt.Sprintf("latency(%s)", selector.Latency)
}

// ReadPref selects servers based on the provided read preference.
type ReadPref struct {
	ReadPref *readpref.ReadPref
}

var _ description.ServerSelector = &ReadPref{}

// SelectServer selects servers based on read preference.
func (selector *ReadPref) SelectServer(
	topo description.Topology,
	candidates []description.Server,
) ([]description.Server, error) {
	switch topo.Kind {
	case description.TopologyStandalone:
		return candidates, nil
	case description.TopologyReplicaSet:
		return selectForReplicaSet(selector.ReadPref, candidates)
	case description.TopologySharded:
		return selectByKind(candidates, description.ShardRouter), nil
	}

	return nil, nil
}

func (selector *ReadPref) String() string {
	return fmt.Sprintf("readPreference(%s)", selector.ReadPref)
}

// Write selects all the writable servers.
type Write struct{}

var _ description.ServerSelector = Write{}

// SelectServer selects all writable servers.
func (Write) SelectServer(
	topo description.Topology,
	candidates []description.Server,
) ([]description.Server, error) {
	if topo.Kind == description.TopologyStandalone {
		return candidates, nil
	}

	return filter(candidates, func(s description.Server) bool {
		switch s.Kind {
		case description.ShardRouter, description.ReplicaSetPrimary, description.Standalone:
			return true
		}
		return false
	}), nil
}

func (Write) String() string { return "writable" }

// Func is a function that can be used as a ServerSelector.
type Func func(description.Topology, []description.Server) ([]description.Server, error)

// SelectServer implements the ServerSelector interface.
func (ssf Func) SelectServer(
	t description.Topology,
	s []description.Server,
) ([]description.Server, error) {
	return ssf(t, s)
}

func (ssf Func) String() string { return "func" }

// Describe returns the String form of a selector, or its type name when it does not implement
// fmt.Stringer.
func Describe(selector description.ServerSelector) string {
	if s, ok := selector.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", selector)
}

func filter(candidates []description.Server, keep func(description.Server) bool) []description.Server {
	// Record the indices of viable candidates first and then append those to the returned slice
	// to avoid copying Server structs that are dropped.
	viableIndexes := make([]int, 0, len(candidates))
	for i, s := range candidates {
		if keep(s) {
			viableIndexes = append(viableIndexes, i)
		}
	}
	if len(viableIndexes) == len(candidates) {
		return candidates
	}
	result := make([]description.Server, len(viableIndexes))
	for i, idx := range viableIndexes {
		result[i] = candidates[idx]
	}
	return result
}

func selectByKind(candidates []description.Server, kind description.ServerKind) []description.Server {
	return filter(candidates, func(s description.Server) bool { return s.Kind == kind })
}

func selectByTagSet(candidates []description.Server, tagSets []description.TagSet) []description.Server {
	if len(tagSets) == 0 {
		return candidates
	}

	for _, ts := range tagSets {
		// The empty tag set matches every server.
		if len(ts) == 0 {
			return candidates
		}

		var results []description.Server
		for _, s := range candidates {
			if tags := s.Tags(); len(tags) > 0 && tags.ContainsAll(ts) {
				results = append(results, s)
			}
		}

		if len(results) > 0 {
			return results
		}
	}

	return []description.Server{}
}

func selectForReplicaSet(rp *readpref.ReadPref, candidates []description.Server) ([]description.Server, error) {
	switch rp.Mode() {
	case readpref.PrimaryMode:
		return selectByKind(candidates, description.ReplicaSetPrimary), nil
	case readpref.PrimaryPreferredMode:
		selected := selectByKind(candidates, description.ReplicaSetPrimary)

		if len(selected) == 0 {
			selected = selectByKind(candidates, description.ReplicaSetSecondary)
			return selectByTagSet(selected, rp.TagSets()), nil
		}

		return selected, nil
	case readpref.SecondaryPreferredMode:
		selected := selectByKind(candidates, description.ReplicaSetSecondary)
		selected = selectByTagSet(selected, rp.TagSets())
		if len(selected) > 0 {
			return selected, nil
		}
		return selectByKind(candidates, description.ReplicaSetPrimary), nil
	case readpref.SecondaryMode:
		selected := selectByKind(candidates, description.ReplicaSetSecondary)
		return selectByTagSet(selected, rp.TagSets()), nil
	case readpref.NearestMode:
		selected := filter(candidates, func(s description.Server) bool {
			return s.Kind == description.ReplicaSetPrimary || s.Kind == description.ReplicaSetSecondary
		})
		return selectByTagSet(selected, rp.TagSets()), nil
	}

	return nil, fmt.Errorf("unsupported mode: %d", rp.Mode())
}

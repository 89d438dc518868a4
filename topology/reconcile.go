// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"github.com/ikmak/mongo-driver-core/description"
)

// reconciler applies one server description to a MultiServerCluster of a given kind. It runs
// with the cluster lock held and only records the servers to start, stop or invalidate.
//
// Reconciliation depends only on the reported description and the tracked membership, so
// replaying a description is a no-op and the cluster converges whatever order servers report
// in.
type reconciler interface {
	reconcile(c *MultiServerCluster, s description.Server, plan *reconcilePlan)
}

func reconcilerFor(kind description.TopologyKind) reconciler {
	switch kind {
	case description.TopologyReplicaSet:
		return replicaSetReconciler{}
	case description.TopologySharded:
		return shardedReconciler{}
	case description.TopologyStandalone:
		return standaloneReconciler{}
	}
	return unknownReconciler{}
}

func (c *MultiServerCluster) reconcileLocked(s description.Server, plan *reconcilePlan) {
	if s.Kind == description.Unknown {
		return
	}

	// the server was dialed at an alias: track it under the address it reports for itself
	if s.CanonicalAddress != "" && s.CanonicalAddress != s.Address() {
		c.removeLocked(s.Address(), reasonNotCanonical, plan)
		c.addLocked(s.CanonicalAddress, plan)
	}

	reconcilerFor(c.kind).reconcile(c, s, plan)
}

// setKindLocked changes the kind of the cluster and drops the servers that no longer belong.
func (c *MultiServerCluster) setKindLocked(kind description.TopologyKind, plan *reconcilePlan) {
	c.kind = kind
	c.scrubLocked(plan)
}

// scrubLocked removes every tracked server whose last description does not fit the cluster.
func (c *MultiServerCluster) scrubLocked(plan *reconcilePlan) {
	for addr, ts := range c.servers {
		s := ts.server.Description()
		if s.Kind == description.Unknown || acceptsServer(c.kind, c.setName, s) {
			continue
		}
		reason := reasonWrongKind
		if c.kind == description.TopologyReplicaSet && s.Kind.IsReplicaSetMember() {
			reason = reasonWrongSetName
		}
		c.removeLocked(addr, reason, plan)
	}
}

type unknownReconciler struct{}

func (unknownReconciler) reconcile(c *MultiServerCluster, s description.Server, plan *reconcilePlan) {
	switch {
	case isReplicaSetGhost(s):
		// says nothing about the set it will join
	case s.Kind == description.ShardRouter:
		c.setKindLocked(description.TopologySharded, plan)
		shardedReconciler{}.reconcile(c, s, plan)
	case s.Kind.IsReplicaSetMember():
		c.setKindLocked(description.TopologyReplicaSet, plan)
		replicaSetReconciler{}.reconcile(c, s, plan)
	case s.Kind == description.Standalone:
		if len(c.cfg.seeds) == 1 {
			c.setKindLocked(description.TopologyStandalone, plan)
			return
		}
		c.removeLocked(s.Address(), reasonNotSoleSeed, plan)
	}
}

type replicaSetReconciler struct{}

func (replicaSetReconciler) reconcile(c *MultiServerCluster, s description.Server, plan *reconcilePlan) {
	addr := s.Address()
	if !s.Kind.IsReplicaSetMember() {
		c.removeLocked(addr, reasonWrongKind, plan)
		return
	}
	if isReplicaSetGhost(s) {
		return
	}

	if c.setName == "" && s.SetName() != "" {
		c.setName = s.SetName()
		c.scrubLocked(plan)
	}
	if s.SetName() != c.setName {
		c.removeLocked(addr, reasonWrongSetName, plan)
		return
	}

	self := addr
	if s.CanonicalAddress != "" {
		self = s.CanonicalAddress.Canonicalize()
	}

	if s.ReplicaSetInfo != nil && (s.Kind == description.ReplicaSetPrimary || s.Kind == description.ReplicaSetSecondary) {
		for _, member := range s.ReplicaSetInfo.Members {
			c.addLocked(member, plan)
		}
	}

	if s.Kind != description.ReplicaSetPrimary {
		return
	}

	for tracked, ts := range c.servers {
		if tracked == self {
			continue
		}
		if !s.ReplicaSetInfo.HasMember(tracked) {
			c.removeLocked(tracked, reasonNotInPrimaryHosts, plan)
			continue
		}
		if ts.server.Description().Kind == description.ReplicaSetPrimary {
			// an old primary that has not noticed the election yet
			plan.invalidated = append(plan.invalidated, ts.server)
		}
	}
}

type shardedReconciler struct{}

func (shardedReconciler) reconcile(c *MultiServerCluster, s description.Server, plan *reconcilePlan) {
	if s.Kind != description.ShardRouter {
		c.removeLocked(s.Address(), reasonWrongKind, plan)
	}
}

type standaloneReconciler struct{}

func (standaloneReconciler) reconcile(c *MultiServerCluster, s description.Server, plan *reconcilePlan) {
	if s.Kind != description.Standalone {
		c.removeLocked(s.Address(), reasonWrongKind, plan)
	}
}

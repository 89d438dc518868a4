// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import (
	"fmt"
	"sort"

	"github.com/ikmak/mongo-driver-core/address"
)

// TopologyKind represents a specific topology configuration.
type TopologyKind uint32

// These constants are the available topology configurations.
const (
	TopologyUnknown TopologyKind = iota
	TopologyStandalone
	TopologyReplicaSet
	TopologySharded
	// TopologyMulti is reported by a multi-server cluster whose kind has not been determined yet.
	TopologyMulti
)

// String implements the fmt.Stringer interface.
func (kind TopologyKind) String() string {
	switch kind {
	case TopologyStandalone:
		return "Standalone"
	case TopologyReplicaSet:
		return "ReplicaSet"
	case TopologySharded:
		return "Sharded"
	case TopologyMulti:
		return "Multi"
	}

	return "Unknown"
}

// Topology is a description of a cluster at a point in time.
type Topology struct {
	ClusterID ClusterID
	Kind      TopologyKind
	SetName   string
	Servers   []Server
}

// NewTopology creates a topology description. The servers are copied and sorted by address so
// that two descriptions built from the same membership are identical.
func NewTopology(id ClusterID, kind TopologyKind, setName string, servers []Server) Topology {
	sorted := make([]Server, len(servers))
	copy(sorted, servers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID.Address < sorted[j].ID.Address })

	return Topology{
		ClusterID: id,
		Kind:      kind,
		SetName:   setName,
		Servers:   sorted,
	}
}

// ServerCount returns the number of servers in the topology.
func (t Topology) ServerCount() int {
	return len(t.Servers)
}

// Server returns the server description with the specified address.
func (t Topology) Server(addr address.Address) (Server, bool) {
	for _, s := range t.Servers {
		if s.ID.Address == addr {
			return s, true
		}
	}
	return Server{}, false
}

// Equal compares two topology descriptions.
func (t Topology) Equal(other Topology) bool {
	if t.ClusterID != other.ClusterID || t.Kind != other.Kind || t.SetName != other.SetName {
		return false
	}
	if len(t.Servers) != len(other.Servers) {
		return false
	}
	for i := range t.Servers {
		if !t.Servers[i].Equal(other.Servers[i]) {
			return false
		}
	}
	return true
}

// String implements the fmt.Stringer interface.
func (t Topology) String() string {
	var serversStr string
	for _, s := range t.Servers {
		serversStr += "{ " + s.String() + " }, "
	}
	return fmt.Sprintf("Type: %s, Servers: [%s]", t.Kind, serversStr)
}

// ServerSelector is an interface implemented by types that can perform server selection.
type ServerSelector interface {
	SelectServer(Topology, []Server) ([]Server, error)
}

// TopologyDiff is the difference between two topology descriptions.
type TopologyDiff struct {
	Added   []Server
	Removed []Server
}

// Diff returns the servers that were added to or removed from a topology.
func Diff(old, new Topology) TopologyDiff {
	var diff TopologyDiff

	oldServers := make(map[address.Address]bool)
	for _, s := range old.Servers {
		oldServers[s.ID.Address] = true
	}

	for _, s := range new.Servers {
		addr := s.ID.Address
		if oldServers[addr] {
			delete(oldServers, addr)
			continue
		}
		diff.Added = append(diff.Added, s)
	}

	for _, s := range old.Servers {
		if oldServers[s.ID.Address] {
			diff.Removed = append(diff.Removed, s)
		}
	}

	return diff
}

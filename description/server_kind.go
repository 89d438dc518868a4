// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

// ServerKind represents the type of a server.
type ServerKind uint32

// These constants are the possible types of servers.
const (
	Unknown             ServerKind = 0
	Standalone          ServerKind = 1
	ReplicaSetPrimary   ServerKind = 2
	ReplicaSetSecondary ServerKind = 4
	ReplicaSetArbiter   ServerKind = 8
	ReplicaSetOther     ServerKind = 16
	ShardRouter         ServerKind = 32
)

// IsReplicaSetMember reports whether the kind is one of the replica set kinds.
func (kind ServerKind) IsReplicaSetMember() bool {
	switch kind {
	case ReplicaSetPrimary, ReplicaSetSecondary, ReplicaSetArbiter, ReplicaSetOther:
		return true
	}
	return false
}

// String implements the fmt.Stringer interface.
func (kind ServerKind) String() string {
	switch kind {
	case Standalone:
		return "Standalone"
	case ReplicaSetPrimary:
		return "RSPrimary"
	case ReplicaSetSecondary:
		return "RSSecondary"
	case ReplicaSetArbiter:
		return "RSArbiter"
	case ReplicaSetOther:
		return "RSOther"
	case ShardRouter:
		return "Mongos"
	}

	return "Unknown"
}

// ServerStatus is the connection status of a server.
type ServerStatus uint32

// These constants are the possible statuses of a server.
const (
	Disconnected ServerStatus = iota
	Connecting
	Connected
	ServerDisposed
)

// String implements the fmt.Stringer interface.
func (s ServerStatus) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case ServerDisposed:
		return "Disposed"
	}
	return "Disconnected"
}

// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ikmak/mongo-driver-core/address"
)

// ClusterID identifies a cluster for the lifetime of the process.
type ClusterID uuid.UUID

// NewClusterID returns a new random ClusterID.
func NewClusterID() ClusterID {
	return ClusterID(uuid.New())
}

// String implements the fmt.Stringer interface.
func (id ClusterID) String() string {
	return uuid.UUID(id).String()
}

// ServerID identifies a server within a cluster. ServerIDs are comparable and equal by value.
type ServerID struct {
	ClusterID ClusterID
	Address   address.Address
}

// NewServerID creates a ServerID for the canonical form of addr.
func NewServerID(clusterID ClusterID, addr address.Address) ServerID {
	return ServerID{ClusterID: clusterID, Address: addr.Canonicalize()}
}

// String implements the fmt.Stringer interface.
func (id ServerID) String() string {
	return fmt.Sprintf("{ ClusterID: %s, Address: %s }", id.ClusterID, id.Address)
}

// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import (
	"fmt"
	"strings"
	"time"

	"github.com/ikmak/mongo-driver-core/address"
)

// Default size limits used when a server does not report its own.
const (
	DefaultMaxDocumentSize = 4 * 1024 * 1024
	DefaultMaxMessageSize  = 16000000
	DefaultMaxBatchCount   = 1000
)

// Server represents a description of a server at a point in time. It is created from the
// result of a handshake or from a state transition and is never mutated afterwards; use a
// ServerBuilder to derive a new description.
type Server struct {
	ID ServerID

	Status           ServerStatus
	Kind             ServerKind
	CanonicalAddress address.Address
	ReplicaSetInfo   *ReplicaSetInfo
	MaxDocumentSize  uint32
	MaxMessageSize   uint32
	MaxBatchCount    uint32
	AveragePingTime  time.Duration
	PingTime90       time.Duration
	BuildInfo        *BuildInfo
	WireVersion      *VersionRange
	Compression      []string
	LastError        error
	LastUpdateTime   time.Time
}

// Address returns the address the server was dialed at.
func (s Server) Address() address.Address {
	return s.ID.Address
}

// IsConnected reports whether the server status is Connected.
func (s Server) IsConnected() bool {
	return s.Status == Connected
}

// SetName returns the replica set name, or the empty string for non-members.
func (s Server) SetName() string {
	if s.ReplicaSetInfo == nil {
		return ""
	}
	return s.ReplicaSetInfo.Name
}

// Tags returns the replica set tags of the server.
func (s Server) Tags() TagSet {
	if s.ReplicaSetInfo == nil {
		return nil
	}
	return s.ReplicaSetInfo.Tags
}

// Equal compares two server descriptions and returns true if they are equal. LastUpdateTime is
// ignored.
func (s Server) Equal(other Server) bool {
	if s.ID != other.ID ||
		s.Status != other.Status ||
		s.Kind != other.Kind ||
		s.CanonicalAddress != other.CanonicalAddress ||
		s.MaxDocumentSize != other.MaxDocumentSize ||
		s.MaxMessageSize != other.MaxMessageSize ||
		s.MaxBatchCount != other.MaxBatchCount ||
		s.AveragePingTime != other.AveragePingTime ||
		s.PingTime90 != other.PingTime90 {
		return false
	}

	if !s.ReplicaSetInfo.Equal(other.ReplicaSetInfo) ||
		!s.BuildInfo.Equal(other.BuildInfo) ||
		!s.WireVersion.Equal(other.WireVersion) ||
		!equalStrings(s.Compression, other.Compression) {
		return false
	}

	return errorString(s.LastError) == errorString(other.LastError)
}

// String implements the fmt.Stringer interface.
func (s Server) String() string {
	str := fmt.Sprintf("Addr: %s, Type: %s, Status: %s", s.ID.Address, s.Kind, s.Status)
	if s.Status == Connected {
		str += fmt.Sprintf(", Average RTT: %d", s.AveragePingTime)
	}
	if s.ReplicaSetInfo != nil {
		str += fmt.Sprintf(", Set: %s", s.ReplicaSetInfo.Name)
	}
	if s.LastError != nil {
		str += fmt.Sprintf(", Last error: %s", s.LastError)
	}
	return str
}

// ReplicaSetInfo is the replica set portion of a server description.
type ReplicaSetInfo struct {
	Name    string
	Primary address.Address
	Members []address.Address
	Tags    TagSet
	Version uint32
}

// Equal compares two ReplicaSetInfos. Two nil values are equal.
func (rs *ReplicaSetInfo) Equal(other *ReplicaSetInfo) bool {
	if rs == nil || other == nil {
		return rs == other
	}
	if rs.Name != other.Name || rs.Primary != other.Primary || rs.Version != other.Version {
		return false
	}
	if len(rs.Members) != len(other.Members) {
		return false
	}
	for i := range rs.Members {
		if rs.Members[i] != other.Members[i] {
			return false
		}
	}
	return rs.Tags.equal(other.Tags)
}

// HasMember reports whether addr is one of the reported members.
func (rs *ReplicaSetInfo) HasMember(addr address.Address) bool {
	if rs == nil {
		return false
	}
	for _, m := range rs.Members {
		if m == addr {
			return true
		}
	}
	return false
}

// BuildInfo is the build information reported by a server.
type BuildInfo struct {
	Version      string
	VersionArray []int32
	Bits         int32
	GitVersion   string
}

// Equal compares two BuildInfos. Two nil values are equal.
func (bi *BuildInfo) Equal(other *BuildInfo) bool {
	if bi == nil || other == nil {
		return bi == other
	}
	if bi.Version != other.Version || bi.Bits != other.Bits || bi.GitVersion != other.GitVersion {
		return false
	}
	if len(bi.VersionArray) != len(other.VersionArray) {
		return false
	}
	for i := range bi.VersionArray {
		if bi.VersionArray[i] != other.VersionArray[i] {
			return false
		}
	}
	return true
}

// AtLeast reports whether the version is at least as large as the given parts.
func (bi *BuildInfo) AtLeast(parts ...int32) bool {
	if bi == nil {
		return false
	}
	for i := range parts {
		if i == len(bi.VersionArray) {
			return false
		}
		if bi.VersionArray[i] != parts[i] {
			return bi.VersionArray[i] > parts[i]
		}
	}
	return true
}

// VersionRange represents a range of wire versions.
type VersionRange struct {
	Min int32
	Max int32
}

// NewVersionRange creates a new VersionRange given a min and a max.
func NewVersionRange(min, max int32) VersionRange {
	return VersionRange{Min: min, Max: max}
}

// Includes returns a bool indicating whether the supplied integer is included in the range.
func (vr *VersionRange) Includes(v int32) bool {
	return v >= vr.Min && v <= vr.Max
}

// Equal compares two VersionRanges. Two nil values are equal.
func (vr *VersionRange) Equal(other *VersionRange) bool {
	if vr == nil || other == nil {
		return vr == other
	}
	return *vr == *other
}

// String implements the fmt.Stringer interface.
func (vr VersionRange) String() string {
	return fmt.Sprintf("[%d, %d]", vr.Min, vr.Max)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}

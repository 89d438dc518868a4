// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import (
	"time"

	"github.com/pkg/errors"

	"github.com/ikmak/mongo-driver-core/address"
)

// ErrReplicaSetInfoRequired is returned by ServerBuilder.Build when a replica set kind is set
// without replica set information.
var ErrReplicaSetInfoRequired = errors.New("a replica set member description requires replica set info")

// ServerBuilder builds immutable Server descriptions.
type ServerBuilder struct {
	s Server
}

// NewServerBuilder returns a builder for a Disconnected, Unknown server with default size limits.
func NewServerBuilder(id ServerID) *ServerBuilder {
	return &ServerBuilder{s: Server{
		ID:              id,
		Status:          Disconnected,
		Kind:            Unknown,
		MaxDocumentSize: DefaultMaxDocumentSize,
		MaxMessageSize:  DefaultMaxMessageSize,
		MaxBatchCount:   DefaultMaxBatchCount,
	}}
}

// BuilderFrom returns a builder initialized with the values of s.
func BuilderFrom(s Server) *ServerBuilder {
	return &ServerBuilder{s: s}
}

// Status sets the status.
func (b *ServerBuilder) Status(status ServerStatus) *ServerBuilder {
	b.s.Status = status
	return b
}

// Kind sets the server kind.
func (b *ServerBuilder) Kind(kind ServerKind) *ServerBuilder {
	b.s.Kind = kind
	return b
}

// CanonicalAddress sets the address the server reports for itself.
func (b *ServerBuilder) CanonicalAddress(addr address.Address) *ServerBuilder {
	b.s.CanonicalAddress = addr.Canonicalize()
	return b
}

// ReplicaSetInfo sets the replica set info.
func (b *ServerBuilder) ReplicaSetInfo(info *ReplicaSetInfo) *ServerBuilder {
	b.s.ReplicaSetInfo = info
	return b
}

// MaxDocumentSize sets the maximum document size.
func (b *ServerBuilder) MaxDocumentSize(size uint32) *ServerBuilder {
	b.s.MaxDocumentSize = size
	return b
}

// MaxMessageSize sets the maximum message size.
func (b *ServerBuilder) MaxMessageSize(size uint32) *ServerBuilder {
	b.s.MaxMessageSize = size
	return b
}

// MaxBatchCount sets the maximum write batch count.
func (b *ServerBuilder) MaxBatchCount(count uint32) *ServerBuilder {
	b.s.MaxBatchCount = count
	return b
}

// PingTimes sets the average and 90th percentile round trip times.
func (b *ServerBuilder) PingTimes(average, p90 time.Duration) *ServerBuilder {
	b.s.AveragePingTime = average
	b.s.PingTime90 = p90
	return b
}

// BuildInfo sets the build info.
func (b *ServerBuilder) BuildInfo(info *BuildInfo) *ServerBuilder {
	b.s.BuildInfo = info
	return b
}

// WireVersion sets the wire version range.
func (b *ServerBuilder) WireVersion(vr *VersionRange) *ServerBuilder {
	b.s.WireVersion = vr
	return b
}

// Compression sets the negotiated compressors.
func (b *ServerBuilder) Compression(names []string) *ServerBuilder {
	b.s.Compression = names
	return b
}

// LastError sets the last error.
func (b *ServerBuilder) LastError(err error) *ServerBuilder {
	b.s.LastError = err
	return b
}

// Reset clears everything learned from the server, keeping the identity and the size limits.
func (b *ServerBuilder) Reset() *ServerBuilder {
	b.s.Kind = Unknown
	b.s.CanonicalAddress = ""
	b.s.ReplicaSetInfo = nil
	b.s.BuildInfo = nil
	b.s.WireVersion = nil
	b.s.Compression = nil
	b.s.AveragePingTime = 0
	b.s.PingTime90 = 0
	b.s.LastError = nil
	return b
}

// Build validates and returns the description. The returned value shares no slices with the
// builder.
func (b *ServerBuilder) Build() (Server, error) {
	s := b.s
	if s.Kind.IsReplicaSetMember() && s.ReplicaSetInfo == nil {
		return Server{}, errors.Wrapf(ErrReplicaSetInfoRequired, "server %s of kind %s", s.ID.Address, s.Kind)
	}

	if s.ReplicaSetInfo != nil {
		rs := *s.ReplicaSetInfo
		rs.Members = append([]address.Address(nil), rs.Members...)
		rs.Tags = append(TagSet(nil), rs.Tags...)
		s.ReplicaSetInfo = &rs
	}
	if s.BuildInfo != nil {
		bi := *s.BuildInfo
		bi.VersionArray = append([]int32(nil), bi.VersionArray...)
		s.BuildInfo = &bi
	}
	if s.WireVersion != nil {
		vr := *s.WireVersion
		s.WireVersion = &vr
	}
	if s.Compression != nil {
		s.Compression = append([]string(nil), s.Compression...)
	}
	s.LastUpdateTime = time.Now().UTC()
	return s, nil
}

// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package connection

import (
	"context"
	"runtime"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// Driver identification sent in the handshake.
const (
	DriverName    = "mongo-driver-core"
	DriverVersion = "0.1.0"
)

// IsMasterResult is the reply to the isMaster command.
type IsMasterResult struct {
	Arbiters            []string          `bson:"arbiters,omitempty"`
	ArbiterOnly         bool              `bson:"arbiterOnly,omitempty"`
	Compression         []string          `bson:"compression,omitempty"`
	Hidden              bool              `bson:"hidden,omitempty"`
	Hosts               []string          `bson:"hosts,omitempty"`
	IsMaster            bool              `bson:"ismaster,omitempty"`
	IsReplicaSet        bool              `bson:"isreplicaset,omitempty"`
	MaxBSONObjectSize   uint32            `bson:"maxBsonObjectSize,omitempty"`
	MaxMessageSizeBytes uint32            `bson:"maxMessageSizeBytes,omitempty"`
	MaxWriteBatchSize   uint32            `bson:"maxWriteBatchSize,omitempty"`
	Me                  string            `bson:"me,omitempty"`
	MaxWireVersion      int32             `bson:"maxWireVersion,omitempty"`
	MinWireVersion      int32             `bson:"minWireVersion,omitempty"`
	Msg                 string            `bson:"msg,omitempty"`
	OK                  int32             `bson:"ok"`
	Passives            []string          `bson:"passives,omitempty"`
	Primary             string            `bson:"primary,omitempty"`
	Secondary           bool              `bson:"secondary,omitempty"`
	SetName             string            `bson:"setName,omitempty"`
	SetVersion          uint32            `bson:"setVersion,omitempty"`
	Tags                map[string]string `bson:"tags,omitempty"`
}

// BuildInfoResult is the reply to the buildinfo command.
type BuildInfoResult struct {
	OK           float64 `bson:"ok"`
	GitVersion   string  `bson:"gitVersion,omitempty"`
	Version      string  `bson:"version,omitempty"`
	VersionArray []int32 `bson:"versionArray,omitempty"`
	Bits         int32   `bson:"bits,omitempty"`
}

// HandshakeResult holds what a server reported about itself during a handshake.
type HandshakeResult struct {
	IsMaster  IsMasterResult
	BuildInfo BuildInfoResult
}

// Handshaker runs the handshake on a freshly opened connection.
type Handshaker interface {
	Handshake(ctx context.Context, conn Connection) (*HandshakeResult, error)
}

// HandshakerFunc is a function that can be used as a Handshaker.
type HandshakerFunc func(ctx context.Context, conn Connection) (*HandshakeResult, error)

// Handshake implements the Handshaker interface.
func (f HandshakerFunc) Handshake(ctx context.Context, conn Connection) (*HandshakeResult, error) {
	return f(ctx, conn)
}

// CommandHandshaker runs isMaster followed by buildinfo against the admin database.
type CommandHandshaker struct {
	AppName     string
	Compressors []string
}

var _ Handshaker = &CommandHandshaker{}

// Handshake implements the Handshaker interface.
func (h *CommandHandshaker) Handshake(ctx context.Context, conn Connection) (*HandshakeResult, error) {
	res := &HandshakeResult{}

	reply, err := RunCommand(ctx, conn, "admin", h.isMasterCommand())
	if err != nil {
		return nil, errors.Wrap(err, "isMaster")
	}
	if err = bson.Unmarshal(reply, &res.IsMaster); err != nil {
		return nil, errors.Wrap(err, "unable to decode isMaster reply")
	}

	reply, err = RunCommand(ctx, conn, "admin", bson.D{{Key: "buildinfo", Value: 1}})
	if err != nil {
		return nil, errors.Wrap(err, "buildinfo")
	}
	if err = bson.Unmarshal(reply, &res.BuildInfo); err != nil {
		return nil, errors.Wrap(err, "unable to decode buildinfo reply")
	}

	return res, nil
}

func (h *CommandHandshaker) isMasterCommand() bson.D {
	client := bson.D{
		{Key: "driver", Value: bson.D{
			{Key: "name", Value: DriverName},
			{Key: "version", Value: DriverVersion},
		}},
		{Key: "os", Value: bson.D{
			{Key: "type", Value: runtime.GOOS},
			{Key: "architecture", Value: runtime.GOARCH},
		}},
		{Key: "platform", Value: runtime.Version()},
	}
	if h.AppName != "" {
		client = append(bson.D{{Key: "application", Value: bson.D{{Key: "name", Value: h.AppName}}}}, client...)
	}

	cmd := bson.D{
		{Key: "isMaster", Value: 1},
		{Key: "client", Value: client},
	}
	if len(h.Compressors) > 0 {
		cmd = append(cmd, bson.E{Key: "compression", Value: h.Compressors})
	}
	return cmd
}

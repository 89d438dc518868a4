// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package connection

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/ikmak/mongo-driver-core/wiremessage"
)

// RunCommand sends cmd to database db over conn as an OP_MSG and returns the reply document. A
// reply with ok: 0 is returned as a CommandError.
func RunCommand(ctx context.Context, conn Connection, db string, cmd bson.D) (bson.Raw, error) {
	full := make(bson.D, 0, len(cmd)+1)
	full = append(full, cmd...)
	full = append(full, bson.E{Key: "$db", Value: db})

	doc, err := bson.Marshal(full)
	if err != nil {
		return nil, errors.Wrap(err, "unable to encode command")
	}

	requestID := wiremessage.NextRequestID()
	if err = conn.WriteWireMessage(ctx, wiremessage.AppendMsg(nil, requestID, 0, doc)); err != nil {
		return nil, err
	}

	wm, err := conn.ReadWireMessage(ctx)
	if err != nil {
		return nil, err
	}

	h, _, body, err := wiremessage.ReadMsg(wm)
	if err != nil {
		return nil, err
	}
	if h.ResponseTo != requestID {
		return nil, wiremessage.ProtocolError{Message: "reply does not answer the request"}
	}

	reply := bson.Raw(body)
	if err = reply.Validate(); err != nil {
		return nil, wiremessage.ProtocolError{Message: "reply is not a valid document: " + err.Error()}
	}
	return reply, extractError(reply)
}

func extractError(reply bson.Raw) error {
	okVal, err := reply.LookupErr("ok")
	if err != nil {
		return wiremessage.ProtocolError{Message: "reply is missing the ok field"}
	}

	var ok bool
	switch okVal.Type {
	case bson.TypeDouble:
		ok = okVal.Double() == 1
	case bson.TypeInt32:
		ok = okVal.Int32() == 1
	case bson.TypeInt64:
		ok = okVal.Int64() == 1
	case bson.TypeBoolean:
		ok = okVal.Boolean()
	}
	if ok {
		return nil
	}

	cerr := CommandError{Message: "command failed"}
	if v, err := reply.LookupErr("errmsg"); err == nil {
		if msg, isStr := v.StringValueOK(); isStr {
			cerr.Message = msg
		}
	}
	if v, err := reply.LookupErr("code"); err == nil {
		if code, isInt := v.Int32OK(); isInt {
			cerr.Code = code
		}
	}
	if v, err := reply.LookupErr("codeName"); err == nil {
		if name, isStr := v.StringValueOK(); isStr {
			cerr.Name = name
		}
	}
	return cerr
}

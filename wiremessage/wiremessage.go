// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package wiremessage contains the framing used to exchange messages with a server: the
// standard header, OP_MSG with a single body document and OP_COMPRESSED.
package wiremessage

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// HeaderLength is the length of the standard message header.
const HeaderLength = 16

var globalRequestID int32

// CurrentRequestID returns the current request ID.
func CurrentRequestID() int32 { return atomic.LoadInt32(&globalRequestID) }

// NextRequestID returns the next request ID.
func NextRequestID() int32 { return atomic.AddInt32(&globalRequestID, 1) }

// OpCode represents a wire protocol opcode.
type OpCode int32

// These constants are the opcodes known to this package. Only OP_MSG and OP_COMPRESSED are
// produced; the rest are named so that diagnostics can print them.
const (
	OpReply        OpCode = 1
	OpUpdate       OpCode = 2001
	OpInsert       OpCode = 2002
	OpQuery        OpCode = 2004
	OpGetMore      OpCode = 2005
	OpDelete       OpCode = 2006
	OpKillCursors  OpCode = 2007
	OpCommand      OpCode = 2010
	OpCommandReply OpCode = 2011
	OpCompressed   OpCode = 2012
	OpMsg          OpCode = 2013
)

var opCodeNames = map[OpCode]string{
	OpReply:        "OP_REPLY",
	OpUpdate:       "OP_UPDATE",
	OpInsert:       "OP_INSERT",
	OpQuery:        "OP_QUERY",
	OpGetMore:      "OP_GET_MORE",
	OpDelete:       "OP_DELETE",
	OpKillCursors:  "OP_KILL_CURSORS",
	OpCommand:      "OP_COMMAND",
	OpCommandReply: "OP_COMMANDREPLY",
	OpCompressed:   "OP_COMPRESSED",
	OpMsg:          "OP_MSG",
}

// String implements the fmt.Stringer interface.
func (oc OpCode) String() string {
	if name, ok := opCodeNames[oc]; ok {
		return name
	}
	return "<invalid opcode>"
}

// MsgFlag represents the flags on an OP_MSG message.
type MsgFlag uint32

// These constants represent the individual flags on an OP_MSG message.
const (
	ChecksumPresent MsgFlag = 1 << iota
	MoreToCome

	ExhaustAllowed MsgFlag = 1 << 16
)

// SectionType represents the type for 1 section in an OP_MSG
type SectionType uint8

// These constants represent the individual section types for a section in an OP_MSG
const (
	SingleDocument SectionType = iota
	DocumentSequence
)

// Header is the standard message header.
type Header struct {
	Length     int32
	RequestID  int32
	ResponseTo int32
	OpCode     OpCode
}

// String implements the fmt.Stringer interface.
func (h Header) String() string {
	return fmt.Sprintf("{ Length: %d, RequestID: %d, ResponseTo: %d, OpCode: %s }", h.Length, h.RequestID, h.ResponseTo, h.OpCode)
}

// AppendHeaderStart appends a header with a placeholder length to dst. The index of the header
// is returned so that UpdateLength can fill in the length once the body has been appended.
func AppendHeaderStart(dst []byte, reqid, respto int32, opcode OpCode) (index int32, b []byte) {
	index, dst = reserveLength(dst)
	dst = appendi32(dst, reqid)
	dst = appendi32(dst, respto)
	dst = appendi32(dst, int32(opcode))
	return index, dst
}

// UpdateLength writes the length of dst[index:] into the header that starts at index.
func UpdateLength(dst []byte, index int32) []byte {
	binary.LittleEndian.PutUint32(dst[index:], uint32(int32(len(dst))-index))
	return dst
}

// ReadHeader reads a header from the beginning of src.
func ReadHeader(src []byte) (Header, []byte, error) {
	if len(src) < HeaderLength {
		return Header{}, src, newProtocolError("message of %d bytes is shorter than a header", len(src))
	}
	h := Header{
		Length:     readi32(src[0:]),
		RequestID:  readi32(src[4:]),
		ResponseTo: readi32(src[8:]),
		OpCode:     OpCode(readi32(src[12:])),
	}
	if h.Length < HeaderLength {
		return Header{}, src, newProtocolError("header length %d is too small", h.Length)
	}
	if int(h.Length) > len(src) {
		return Header{}, src, newProtocolError("header length %d exceeds %d available bytes", h.Length, len(src))
	}
	return h, src[HeaderLength:h.Length], nil
}

// ProtocolError is returned when a message cannot be decoded.
type ProtocolError struct {
	Message string
}

func newProtocolError(format string, args ...interface{}) error {
	return ProtocolError{Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e ProtocolError) Error() string {
	return "malformed wire message: " + e.Message
}

func reserveLength(dst []byte) (int32, []byte) {
	index := int32(len(dst))
	return index, append(dst, 0x00, 0x00, 0x00, 0x00)
}

func appendi32(dst []byte, i32 int32) []byte {
	return binary.LittleEndian.AppendUint32(dst, uint32(i32))
}

func readi32(src []byte) int32 {
	return int32(binary.LittleEndian.Uint32(src))
}

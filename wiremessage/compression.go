// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wiremessage

import (
	"bytes"
	"compress/zlib"
	"io"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// CompressorID is the ID for each type of Compressor.
type CompressorID uint8

// These constants represent the individual compressor IDs for an OP_COMPRESSED.
const (
	CompressorNoOp CompressorID = iota
	CompressorSnappy
	CompressorZLib
)

// String implements the fmt.Stringer interface.
func (id CompressorID) String() string {
	switch id {
	case CompressorNoOp:
		return "CompressorNoOp"
	case CompressorSnappy:
		return "CompressorSnappy"
	case CompressorZLib:
		return "CompressorZLib"
	default:
		return "CompressorInvalid"
	}
}

// DefaultZlibLevel is the default level for zlib compression
const DefaultZlibLevel = 6

// Compressor is implemented by types that can compress and decompress message bodies.
type Compressor interface {
	ID() CompressorID
	Name() string
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte, uncompressedSize int32) ([]byte, error)
}

// SnappyCompressor uses the snappy method to compress data
type SnappyCompressor struct{}

// ID implements the Compressor interface.
func (SnappyCompressor) ID() CompressorID { return CompressorSnappy }

// Name implements the Compressor interface.
func (SnappyCompressor) Name() string { return "snappy" }

// Compress implements the Compressor interface.
func (SnappyCompressor) Compress(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

// Decompress implements the Compressor interface.
func (SnappyCompressor) Decompress(src []byte, uncompressedSize int32) ([]byte, error) {
	return snappy.Decode(make([]byte, uncompressedSize), src)
}

// ZlibCompressor uses the zlib method to compress data
type ZlibCompressor struct {
	Level int
}

// ID implements the Compressor interface.
func (ZlibCompressor) ID() CompressorID { return CompressorZLib }

// Name implements the Compressor interface.
func (ZlibCompressor) Name() string { return "zlib" }

// Compress implements the Compressor interface.
func (z ZlibCompressor) Compress(src []byte) ([]byte, error) {
	var b bytes.Buffer
	w, err := zlib.NewWriterLevel(&b, z.Level)
	if err != nil {
		return nil, err
	}
	if _, err = w.Write(src); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err = w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Decompress implements the Compressor interface.
func (ZlibCompressor) Decompress(src []byte, uncompressedSize int32) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = r.Close()
	}()

	uncompressed := make([]byte, uncompressedSize)
	if _, err = io.ReadFull(r, uncompressed); err != nil {
		return nil, err
	}
	return uncompressed, nil
}

// CompressorByName returns the compressor registered under name.
func CompressorByName(name string) (Compressor, bool) {
	switch name {
	case "snappy":
		return SnappyCompressor{}, true
	case "zlib":
		return ZlibCompressor{Level: DefaultZlibLevel}, true
	}
	return nil, false
}

// Compress wraps the complete message wm in an OP_COMPRESSED using c. The request ID and
// response target of the original header are preserved.
func Compress(wm []byte, c Compressor) ([]byte, error) {
	h, body, err := ReadHeader(wm)
	if err != nil {
		return nil, err
	}
	compressed, err := c.Compress(body)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to compress %s", h.OpCode)
	}

	idx, dst := AppendHeaderStart(make([]byte, 0, HeaderLength+9+len(compressed)), h.RequestID, h.ResponseTo, OpCompressed)
	dst = appendi32(dst, int32(h.OpCode))
	dst = appendi32(dst, int32(len(body)))
	dst = append(dst, byte(c.ID()))
	dst = append(dst, compressed...)
	return UpdateLength(dst, idx), nil
}

// Decompress returns the original message carried by an OP_COMPRESSED. Messages with any other
// opcode are returned unchanged.
func Decompress(wm []byte) ([]byte, error) {
	h, rem, err := ReadHeader(wm)
	if err != nil {
		return nil, err
	}
	if h.OpCode != OpCompressed {
		return wm, nil
	}
	if len(rem) < 9 {
		return nil, newProtocolError("OP_COMPRESSED is truncated")
	}
	original := OpCode(readi32(rem))
	size := readi32(rem[4:])
	id := CompressorID(rem[8])
	if size < 0 {
		return nil, newProtocolError("OP_COMPRESSED uncompressed size %d is negative", size)
	}

	var body []byte
	switch id {
	case CompressorNoOp:
		body = rem[9:]
	case CompressorSnappy:
		body, err = SnappyCompressor{}.Decompress(rem[9:], size)
	case CompressorZLib:
		body, err = ZlibCompressor{}.Decompress(rem[9:], size)
	default:
		return nil, newProtocolError("unknown compressor ID %v", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to decompress with %s", id)
	}

	idx, dst := AppendHeaderStart(make([]byte, 0, HeaderLength+len(body)), h.RequestID, h.ResponseTo, original)
	dst = append(dst, body...)
	return UpdateLength(dst, idx), nil
}

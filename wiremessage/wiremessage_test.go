// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wiremessage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// {"ping": 1} encoded as a document.
var pingDoc = []byte{
	0x0f, 0x00, 0x00, 0x00,
	0x10, 'p', 'i', 'n', 'g', 0x00,
	0x01, 0x00, 0x00, 0x00,
	0x00,
}

func TestOpCodeString(t *testing.T) {
	assert.Equal(t, "OP_MSG", OpMsg.String())
	assert.Equal(t, "OP_COMPRESSED", OpCompressed.String())
	assert.Equal(t, "<invalid opcode>", OpCode(42).String())
}

func TestNextRequestID(t *testing.T) {
	first := NextRequestID()
	second := NextRequestID()
	assert.Equal(t, first+1, second)
	assert.Equal(t, second, CurrentRequestID())
}

func TestMsg(t *testing.T) {
	t.Run("append and read", func(t *testing.T) {
		wm := AppendMsg(nil, 7, 0, pingDoc)
		require.Len(t, wm, HeaderLength+4+1+len(pingDoc))

		h, flags, body, err := ReadMsg(wm)
		require.NoError(t, err)
		assert.Equal(t, int32(len(wm)), h.Length)
		assert.Equal(t, int32(7), h.RequestID)
		assert.Equal(t, OpMsg, h.OpCode)
		assert.Equal(t, MsgFlag(0), flags)
		assert.Equal(t, pingDoc, body)
	})
	t.Run("document sequences are skipped", func(t *testing.T) {
		idx, wm := AppendHeaderStart(nil, 1, 0, OpMsg)
		wm = appendi32(wm, 0)
		wm = append(wm, byte(DocumentSequence))
		seqIdx, wm := reserveLength(wm)
		wm = append(wm, 'd', 'o', 'c', 's', 0x00)
		wm = append(wm, pingDoc...)
		wm = UpdateLength(wm, seqIdx)
		wm = append(wm, byte(SingleDocument))
		wm = append(wm, pingDoc...)
		wm = UpdateLength(wm, idx)

		_, _, body, err := ReadMsg(wm)
		require.NoError(t, err)
		assert.Equal(t, pingDoc, body)
	})
	t.Run("wrong opcode", func(t *testing.T) {
		idx, wm := AppendHeaderStart(nil, 1, 0, OpQuery)
		wm = UpdateLength(wm, idx)

		_, _, _, err := ReadMsg(wm)
		var perr ProtocolError
		require.ErrorAs(t, err, &perr)
	})
	t.Run("truncated", func(t *testing.T) {
		wm := AppendMsg(nil, 1, 0, pingDoc)
		_, _, _, err := ReadMsg(wm[:HeaderLength+2])
		require.Error(t, err)

		_, _, err = ReadHeader(wm[:10])
		require.Error(t, err)
	})
}

func TestCompression(t *testing.T) {
	payload := bytes.Repeat(pingDoc[:len(pingDoc)-1], 50)
	payload = append(payload, 0x00)
	original := AppendMsg(nil, 12, 0, pingDoc)
	large := AppendMsg(nil, 13, MoreToCome, payload)

	for _, name := range []string{"snappy", "zlib"} {
		c, ok := CompressorByName(name)
		require.True(t, ok, name)

		t.Run(name, func(t *testing.T) {
			for _, wm := range [][]byte{original, large} {
				compressed, err := Compress(wm, c)
				require.NoError(t, err)

				h, rem, err := ReadHeader(compressed)
				require.NoError(t, err)
				assert.Equal(t, OpCompressed, h.OpCode)
				assert.Equal(t, OpMsg, OpCode(readi32(rem)))
				assert.Equal(t, byte(c.ID()), rem[8])

				decompressed, err := Decompress(compressed)
				require.NoError(t, err)
				assert.Equal(t, wm, decompressed)
			}
		})
	}

	_, ok := CompressorByName("zstd")
	assert.False(t, ok)
}

func TestDecompressPassesThroughUncompressed(t *testing.T) {
	wm := AppendMsg(nil, 3, 0, pingDoc)
	out, err := Decompress(wm)
	require.NoError(t, err)
	assert.Equal(t, wm, out)
}

func TestDecompressUnknownCompressor(t *testing.T) {
	idx, wm := AppendHeaderStart(nil, 1, 0, OpCompressed)
	wm = appendi32(wm, int32(OpMsg))
	wm = appendi32(wm, 4)
	wm = append(wm, 9)
	wm = UpdateLength(wm, idx)

	_, err := Decompress(wm)
	var perr ProtocolError
	require.ErrorAs(t, err, &perr)
}

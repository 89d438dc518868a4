// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wiremessage

// AppendMsg appends a complete OP_MSG carrying doc as its body section to dst.
func AppendMsg(dst []byte, requestID int32, flags MsgFlag, doc []byte) []byte {
	idx, dst := AppendHeaderStart(dst, requestID, 0, OpMsg)
	dst = appendi32(dst, int32(flags))
	dst = append(dst, byte(SingleDocument))
	dst = append(dst, doc...)
	return UpdateLength(dst, idx)
}

// ReadMsg decodes an OP_MSG and returns its flags and body document. Document sequence
// sections are skipped.
func ReadMsg(wm []byte) (Header, MsgFlag, []byte, error) {
	h, rem, err := ReadHeader(wm)
	if err != nil {
		return h, 0, nil, err
	}
	if h.OpCode != OpMsg {
		return h, 0, nil, newProtocolError("expected %s but got %s", OpMsg, h.OpCode)
	}
	if len(rem) < 4 {
		return h, 0, nil, newProtocolError("OP_MSG is missing its flags")
	}
	flags := MsgFlag(readi32(rem))
	rem = rem[4:]
	if flags&ChecksumPresent == ChecksumPresent {
		if len(rem) < 4 {
			return h, 0, nil, newProtocolError("OP_MSG is missing its checksum")
		}
		rem = rem[:len(rem)-4]
	}

	var body []byte
	for len(rem) > 0 {
		stype := SectionType(rem[0])
		rem = rem[1:]
		switch stype {
		case SingleDocument:
			doc, rest, ok := readDocument(rem)
			if !ok {
				return h, 0, nil, newProtocolError("OP_MSG body section is truncated")
			}
			body, rem = doc, rest
		case DocumentSequence:
			if len(rem) < 4 {
				return h, 0, nil, newProtocolError("OP_MSG document sequence is truncated")
			}
			size := readi32(rem)
			if size < 4 || int(size) > len(rem) {
				return h, 0, nil, newProtocolError("OP_MSG document sequence length %d is invalid", size)
			}
			rem = rem[size:]
		default:
			return h, 0, nil, newProtocolError("unknown OP_MSG section type %d", stype)
		}
	}
	if body == nil {
		return h, 0, nil, newProtocolError("OP_MSG has no body section")
	}
	return h, flags, body, nil
}

func readDocument(src []byte) (doc []byte, rem []byte, ok bool) {
	if len(src) < 5 {
		return nil, src, false
	}
	size := readi32(src)
	if size < 5 || int(size) > len(src) {
		return nil, src, false
	}
	return src[:size], src[size:], true
}

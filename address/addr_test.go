// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddress(t *testing.T) {
	testCases := []struct {
		in      string
		network string
		host    string
		port    int
		canon   Address
	}{
		{"a", "tcp", "a", 27017, "a:27017"},
		{"A", "tcp", "a", 27017, "a:27017"},
		{"A:27017", "tcp", "a", 27017, "a:27017"},
		{"a:27018", "tcp", "a", 27018, "a:27018"},
		{"localhost:1000", "tcp", "localhost", 1000, "localhost:1000"},
		{"[::1]:27018", "tcp", "::1", 27018, "[::1]:27018"},
		{"/tmp/mongodb-27017.sock", "unix", "/tmp/mongodb-27017.sock", 0, "/tmp/mongodb-27017.sock"},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			a := Address(tc.in)
			assert.Equal(t, tc.network, a.Network())
			assert.Equal(t, tc.canon, a.Canonicalize())
			assert.Equal(t, tc.host, a.Host())
			assert.Equal(t, tc.port, a.Port())
		})
	}
}

func TestAddressEmpty(t *testing.T) {
	assert.Equal(t, "", Address("").String())
}

// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package serverselector

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ikmak/mongo-driver-core/address"
	"github.com/ikmak/mongo-driver-core/description"
	"github.com/ikmak/mongo-driver-core/readpref"
)

func rsMember(addr string, kind description.ServerKind, rtt time.Duration, tags ...string) description.Server {
	return description.Server{
		ID:              description.ServerID{Address: address.Address(addr)},
		Status:          description.Connected,
		Kind:            kind,
		AveragePingTime: rtt,
		ReplicaSetInfo:  &description.ReplicaSetInfo{Name: "rs", Tags: description.NewTagSet(tags...)},
	}
}

var (
	readPrefTestPrimary    = rsMember("localhost:27017", description.ReplicaSetPrimary, 5*time.Millisecond, "a", "1")
	readPrefTestSecondary1 = rsMember("localhost:27018", description.ReplicaSetSecondary, 5*time.Millisecond, "a", "1")
	readPrefTestSecondary2 = rsMember("localhost:27019", description.ReplicaSetSecondary, 5*time.Millisecond, "a", "2")
	readPrefTestTopology   = description.Topology{
		Kind:    description.TopologyReplicaSet,
		SetName: "rs",
		Servers: []description.Server{readPrefTestPrimary, readPrefTestSecondary1, readPrefTestSecondary2},
	}
)

func TestSelector_Standalone(t *testing.T) {
	t.Parallel()

	s := description.Server{
		ID:   description.ServerID{Address: "localhost:27017"},
		Kind: description.Standalone,
	}
	c := description.Topology{Kind: description.TopologyStandalone, Servers: []description.Server{s}}

	result, err := (&ReadPref{ReadPref: readpref.Secondary()}).SelectServer(c, c.Servers)

	require.NoError(t, err)
	require.Equal(t, []description.Server{s}, result)
}

func TestSelector_Sharded(t *testing.T) {
	t.Parallel()

	mongos := description.Server{ID: description.ServerID{Address: "localhost:27017"}, Kind: description.ShardRouter}
	unknown := description.Server{ID: description.ServerID{Address: "localhost:27018"}, Kind: description.Unknown}
	c := description.Topology{Kind: description.TopologySharded, Servers: []description.Server{mongos, unknown}}

	result, err := (&ReadPref{ReadPref: readpref.Primary()}).SelectServer(c, c.Servers)

	require.NoError(t, err)
	require.Equal(t, []description.Server{mongos}, result)
}

func TestSelector_UndiscoveredTopology(t *testing.T) {
	t.Parallel()

	c := description.Topology{
		Kind:    description.TopologyMulti,
		Servers: []description.Server{{ID: description.ServerID{Address: "localhost:27017"}}},
	}

	result, err := (&ReadPref{ReadPref: readpref.Primary()}).SelectServer(c, c.Servers)

	require.NoError(t, err)
	require.Empty(t, result)
}

func TestSelector_Primary(t *testing.T) {
	t.Parallel()

	result, err := (&ReadPref{ReadPref: readpref.Primary()}).
		SelectServer(readPrefTestTopology, readPrefTestTopology.Servers)

	require.NoError(t, err)
	require.Equal(t, []description.Server{readPrefTestPrimary}, result)
}

func TestSelector_Primary_with_no_primary(t *testing.T) {
	t.Parallel()

	result, err := (&ReadPref{ReadPref: readpref.Primary()}).
		SelectServer(readPrefTestTopology, []description.Server{readPrefTestSecondary1, readPrefTestSecondary2})

	require.NoError(t, err)
	require.Len(t, result, 0)
}

func TestSelector_PrimaryPreferred_with_no_primary_and_tags(t *testing.T) {
	t.Parallel()

	subject := readpref.PrimaryPreferred(readpref.WithTags("a", "2"))

	result, err := (&ReadPref{ReadPref: subject}).
		SelectServer(readPrefTestTopology, []description.Server{readPrefTestSecondary1, readPrefTestSecondary2})

	require.NoError(t, err)
	require.Equal(t, []description.Server{readPrefTestSecondary2}, result)
}

func TestSelector_SecondaryPreferred_with_tags_that_do_not_match(t *testing.T) {
	t.Parallel()

	subject := readpref.SecondaryPreferred(readpref.WithTags("a", "3"))

	result, err := (&ReadPref{ReadPref: subject}).
		SelectServer(readPrefTestTopology, readPrefTestTopology.Servers)

	require.NoError(t, err)
	require.Equal(t, []description.Server{readPrefTestPrimary}, result)
}

func TestSelector_Secondary_with_empty_tag_set(t *testing.T) {
	t.Parallel()

	subject := readpref.Secondary(readpref.WithTagSets(description.NewTagSet("a", "3"), description.NewTagSet()))

	result, err := (&ReadPref{ReadPref: subject}).
		SelectServer(readPrefTestTopology, readPrefTestTopology.Servers)

	require.NoError(t, err)
	require.Equal(t, []description.Server{readPrefTestSecondary1, readPrefTestSecondary2}, result)
}

func TestSelector_Nearest_with_tags(t *testing.T) {
	t.Parallel()

	subject := readpref.Nearest(readpref.WithTags("a", "1"))

	result, err := (&ReadPref{ReadPref: subject}).
		SelectServer(readPrefTestTopology, readPrefTestTopology.Servers)

	require.NoError(t, err)
	require.Equal(t, []description.Server{readPrefTestPrimary, readPrefTestSecondary1}, result)
}

func TestSelector_Write(t *testing.T) {
	t.Parallel()

	result, err := Write{}.SelectServer(readPrefTestTopology, readPrefTestTopology.Servers)

	require.NoError(t, err)
	require.Equal(t, []description.Server{readPrefTestPrimary}, result)
}

func TestSelector_Latency(t *testing.T) {
	t.Parallel()

	fast := rsMember("a:27017", description.ReplicaSetSecondary, 10*time.Millisecond)
	near := rsMember("b:27017", description.ReplicaSetSecondary, 24*time.Millisecond)
	slow := rsMember("c:27017", description.ReplicaSetSecondary, 26*time.Millisecond)
	candidates := []description.Server{fast, near, slow}

	t.Run("window", func(t *testing.T) {
		result, err := (&Latency{Latency: DefaultLocalThreshold}).SelectServer(readPrefTestTopology, candidates)
		require.NoError(t, err)
		require.Equal(t, []description.Server{fast, near}, result)
	})
	t.Run("negative disables", func(t *testing.T) {
		result, err := (&Latency{Latency: -1}).SelectServer(readPrefTestTopology, candidates)
		require.NoError(t, err)
		require.Equal(t, candidates, result)
	})
}

func TestSelector_Connected(t *testing.T) {
	t.Parallel()

	connecting := readPrefTestSecondary1
	connecting.Status = description.Connecting

	result, err := Connected{}.SelectServer(readPrefTestTopology, []description.Server{readPrefTestPrimary, connecting})

	require.NoError(t, err)
	require.Equal(t, []description.Server{readPrefTestPrimary}, result)
}

func TestSelector_Address(t *testing.T) {
	t.Parallel()

	result, err := (&Address{Address: "LOCALHOST:27018"}).
		SelectServer(readPrefTestTopology, readPrefTestTopology.Servers)

	require.NoError(t, err)
	require.Equal(t, []description.Server{readPrefTestSecondary1}, result)
}

func TestSelector_Composite(t *testing.T) {
	t.Parallel()

	subject := &Composite{Selectors: []description.ServerSelector{
		&ReadPref{ReadPref: readpref.Nearest()},
		&Address{Address: "localhost:27019"},
	}}

	result, err := subject.SelectServer(readPrefTestTopology, readPrefTestTopology.Servers)
	require.NoError(t, err)
	require.Equal(t, []description.Server{readPrefTestSecondary2}, result)
	require.Equal(t, "composite(readPreference(nearest), address(localhost:27019))", subject.String())

	boom := errors.New("boom")
	failing := &Composite{Selectors: []description.ServerSelector{
		Func(func(description.Topology, []description.Server) ([]description.Server, error) { return nil, boom }),
		Any{},
	}}
	_, err = failing.SelectServer(readPrefTestTopology, readPrefTestTopology.Servers)
	require.ErrorIs(t, err, boom)
}

type unnamedSelector struct{}

func (unnamedSelector) SelectServer(_ description.Topology, c []description.Server) ([]description.Server, error) {
	return c, nil
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	require.Equal(t, "writable", Describe(Write{}))
	require.Equal(t, "serverselector.unnamedSelector", Describe(unnamedSelector{}))
}

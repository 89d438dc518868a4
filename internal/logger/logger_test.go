// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ikmak/mongo-driver-core/address"
)

type recordingSink struct {
	infos  []string
	levels []int
	errors []error
}

func (s *recordingSink) Info(level int, msg string, _ ...interface{}) {
	s.infos = append(s.infos, msg)
	s.levels = append(s.levels, level)
}

func (s *recordingSink) Error(err error, msg string, _ ...interface{}) {
	s.errors = append(s.errors, err)
}

func clearEnv(t *testing.T) {
	t.Helper()
	for envVar := range componentEnvVarMap {
		t.Setenv(envVar, "")
	}
}

func TestSelectComponentLevels(t *testing.T) {
	t.Run("environment", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(mongoDBLogTopologyEnvVar, "debug")
		t.Setenv(mongoDBLogConnectionEnvVar, "warn")

		got := selectComponentLevels(nil)
		assert.Equal(t, LevelDebug, got[ComponentTopology])
		assert.Equal(t, LevelInfo, got[ComponentConnection])
		assert.Equal(t, LevelOff, got[ComponentServerSelection])
		assert.True(t, EnvHasComponentVariables())
	})
	t.Run("all overrides individual variables", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(mongoDBLogAllEnvVar, "trace")
		t.Setenv(mongoDBLogTopologyEnvVar, "off")

		got := selectComponentLevels(nil)
		for _, c := range []Component{ComponentTopology, ComponentServerSelection, ComponentConnection} {
			assert.Equal(t, LevelDebug, got[c])
		}
	})
	t.Run("arguments override environment", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(mongoDBLogTopologyEnvVar, "debug")

		got := selectComponentLevels(map[Component]Level{ComponentTopology: LevelInfo})
		assert.Equal(t, LevelInfo, got[ComponentTopology])
	})
	t.Run("ComponentAll argument", func(t *testing.T) {
		clearEnv(t)
		assert.False(t, EnvHasComponentVariables())

		got := selectComponentLevels(map[Component]Level{ComponentAll: LevelDebug})
		assert.Equal(t, LevelDebug, got[ComponentConnection])
		assert.Equal(t, LevelDebug, got[ComponentServerSelection])
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("TRACE"))
	assert.Equal(t, LevelInfo, ParseLevel("Emergency"))
	assert.Equal(t, LevelOff, ParseLevel("loud"))
}

func TestLoggerPrint(t *testing.T) {
	clearEnv(t)
	sink := &recordingSink{}
	l := New(sink, map[Component]Level{ComponentConnection: LevelInfo})

	l.Print(LevelInfo, ComponentConnection, "pool created")
	l.Print(LevelDebug, ComponentConnection, "connection checked out")
	l.Print(LevelInfo, ComponentTopology, "cluster opened")
	l.Error(ComponentConnection, errors.New("boom"), "connection closed")

	assert.Equal(t, []string{"pool created"}, sink.infos)
	assert.Equal(t, []int{0}, sink.levels)
	require.Len(t, sink.errors, 1)

	var nilLogger *Logger
	assert.NotPanics(t, func() { nilLogger.Print(LevelInfo, ComponentTopology, "ignored") })
}

func TestLogrusSink(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(logrus.InfoLevel)

	sink := NewLogrusSink(l)
	sink.Info(0, "server added", SerializeServer(address.Address("db.example.com:27018"))...)
	sink.Info(1, "dropped at info level")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "server added", entry["msg"])
	assert.Equal(t, "db.example.com", entry[KeyServerHost])
	assert.Equal(t, float64(27018), entry[KeyServerPort])
}

func TestZapSink(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewZapSink(zap.New(core))

	sink.Info(0, "cluster opened", KeyClusterID, "abc")
	sink.Info(1, "checked out")
	sink.Error(errors.New("boom"), "heartbeat failed")

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "abc", entries[0].ContextMap()[KeyClusterID])
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package logger is the structured logger used by pools, servers and clusters. Messages are
// filtered per component and handed to a LogSink.
package logger

import (
	"os"
	"strings"
)

// LogSink represents a logging implementation.
type LogSink interface {
	// Info logs a non-error message with the given key/value pairs. The level argument is
	// provided for optional logging.
	Info(level int, msg string, keysAndValues ...interface{})

	// Error logs an error, with the given message and key/value pairs.
	Error(err error, msg string, keysAndValues ...interface{})
}

// Logger represents the configuration for the internal logger.
type Logger struct {
	ComponentLevels map[Component]Level
	Sink            LogSink
}

// New will construct a new logger. If any of the given options are the zero-value of the
// argument type, then the constructor will attempt to source the data from the environment. If
// the environment has not been set, then the constructor will use the logrus standard logger.
func New(sink LogSink, componentLevels map[Component]Level) *Logger {
	return &Logger{
		ComponentLevels: selectComponentLevels(componentLevels),
		Sink:            selectLogSink(sink),
	}
}

// LevelComponentEnabled will return true if the given Level is enabled for the given
// Component. A nil Logger is never enabled.
func (logger *Logger) LevelComponentEnabled(level Level, component Component) bool {
	if logger == nil {
		return false
	}

	if logger.ComponentLevels == nil {
		return false
	}

	return logger.ComponentLevels[component] >= level
}

// Print will synchronously print the given message to the configured LogSink. If the LogSink
// is nil, then this method will do nothing.
func (logger *Logger) Print(level Level, component Component, msg string, keysAndValues ...interface{}) {
	if !logger.LevelComponentEnabled(level, component) || logger.Sink == nil {
		return
	}

	logger.Sink.Info(int(level)-DiffToInfo, msg, keysAndValues...)
}

// Error logs an error against a component when the component is enabled at LevelInfo or above.
func (logger *Logger) Error(component Component, err error, msg string, keysAndValues ...interface{}) {
	if !logger.LevelComponentEnabled(LevelInfo, component) || logger.Sink == nil {
		return
	}

	logger.Sink.Error(err, msg, keysAndValues...)
}

// selectLogSink will return the first non-nil LogSink, with the logrus standard logger as a
// fallback.
func selectLogSink(sink LogSink) LogSink {
	if sink != nil {
		return sink
	}

	return NewLogrusSink(nil)
}

// selectComponentLevels returns a new map of Components to Levels. Levels given as arguments
// take precedence over the environment.
func selectComponentLevels(componentLevels map[Component]Level) map[Component]Level {
	selected := make(map[Component]Level)

	// Levels from the environment apply first.
	globalEnvLevel := ParseLevel(strings.TrimSpace(os.Getenv(mongoDBLogAllEnvVar)))
	for envVar, component := range componentEnvVarMap {
		if component == ComponentAll {
			continue
		}
		if globalEnvLevel != LevelOff {
			selected[component] = globalEnvLevel
			continue
		}
		selected[component] = ParseLevel(strings.TrimSpace(os.Getenv(envVar)))
	}

	for component, level := range componentLevels {
		if component == ComponentAll {
			for envVar, c := range componentEnvVarMap {
				if envVar != mongoDBLogAllEnvVar {
					selected[c] = level
				}
			}
			continue
		}
		selected[component] = level
	}

	return selected
}

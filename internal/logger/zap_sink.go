// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package logger

import "go.uber.org/zap"

// ZapSink writes messages to a zap logger.
type ZapSink struct {
	log *zap.SugaredLogger
}

var _ LogSink = &ZapSink{}

// NewZapSink creates a sink for l.
func NewZapSink(l *zap.Logger) *ZapSink {
	return &ZapSink{log: l.Sugar()}
}

// Info implements the LogSink interface.
func (s *ZapSink) Info(level int, msg string, keysAndValues ...interface{}) {
	if level <= 0 {
		s.log.Infow(msg, keysAndValues...)
		return
	}
	s.log.Debugw(msg, keysAndValues...)
}

// Error implements the LogSink interface.
func (s *ZapSink) Error(err error, msg string, keysAndValues ...interface{}) {
	s.log.Errorw(msg, append(keysAndValues, KeyError, err)...)
}

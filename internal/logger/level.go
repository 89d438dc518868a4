// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package logger

import "strings"

// DiffToInfo is the number of levels that come before the "Info" level. This ensures that
// "Info" is the 0th level passed to the sink.
const DiffToInfo = 1

// Level is an enumeration representing the log severity levels supported by the driver.
type Level int

const (
	// LevelOff suppresses logging.
	LevelOff Level = iota

	// LevelInfo enables logging of informational messages such as a cluster being opened or a
	// server being added.
	LevelInfo

	// LevelDebug enables logging of debug messages. These logs can be voluminous, for example
	// every connection check out.
	LevelDebug
)

// LevelLiteral are the logging levels read from environment variables.
type LevelLiteral string

// Accepted level literals.
const (
	LevelLiteralOff       LevelLiteral = "off"
	LevelLiteralEmergency LevelLiteral = "emergency"
	LevelLiteralAlert     LevelLiteral = "alert"
	LevelLiteralCritical  LevelLiteral = "critical"
	LevelLiteralError     LevelLiteral = "error"
	LevelLiteralWarning   LevelLiteral = "warn"
	LevelLiteralNotice    LevelLiteral = "notice"
	LevelLiteralInfo      LevelLiteral = "info"
	LevelLiteralDebug     LevelLiteral = "debug"
	LevelLiteralTrace     LevelLiteral = "trace"
)

var levelLiteralMap = map[LevelLiteral]Level{
	LevelLiteralOff:       LevelOff,
	LevelLiteralEmergency: LevelInfo,
	LevelLiteralAlert:     LevelInfo,
	LevelLiteralCritical:  LevelInfo,
	LevelLiteralError:     LevelInfo,
	LevelLiteralWarning:   LevelInfo,
	LevelLiteralNotice:    LevelInfo,
	LevelLiteralInfo:      LevelInfo,
	LevelLiteralDebug:     LevelDebug,
	LevelLiteralTrace:     LevelDebug,
}

// ParseLevel will check if the given string is a valid level literal. If it is, then it will
// return the Level. The default Level is "Off".
func ParseLevel(str string) Level {
	for literal, level := range levelLiteralMap {
		if strings.EqualFold(string(literal), str) {
			return level
		}
	}

	return LevelOff
}

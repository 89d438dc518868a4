// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package main

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/ikmak/mongo-driver-core/connection"
	"github.com/ikmak/mongo-driver-core/description"
	"github.com/ikmak/mongo-driver-core/internal/logger"
	"github.com/ikmak/mongo-driver-core/topology"
)

// Environment variables that override the configuration file.
const (
	envSeeds      = "CLUSTERMON_SEEDS"
	envReplicaSet = "CLUSTERMON_REPLICA_SET"
	envLogLevel   = "CLUSTERMON_LOG_LEVEL"
)

type config struct {
	Seeds                  []string `toml:"seeds"`
	ReplicaSet             string   `toml:"replica_set"`
	Direct                 bool     `toml:"direct"`
	ServerSelectionTimeout string   `toml:"server_selection_timeout"`
	HeartbeatFrequency     string   `toml:"heartbeat_frequency"`
	LocalThreshold         string   `toml:"local_threshold"`
	AppName                string   `toml:"app_name"`
	Compressors            []string `toml:"compressors"`

	Pool struct {
		MaxSize          uint64 `toml:"max_size"`
		MinSize          uint64 `toml:"min_size"`
		MaxWaitQueueSize int    `toml:"max_wait_queue_size"`
		MaxIdleTime      string `toml:"max_idle_time"`
	} `toml:"pool"`

	Log struct {
		Level string `toml:"level"`
		Sink  string `toml:"sink"`
	} `toml:"log"`

	Output struct {
		Format string `toml:"format"`
		Color  bool   `toml:"color"`
	} `toml:"output"`

	Ping struct {
		Interval   string `toml:"interval"`
		MaxRetries uint64 `toml:"max_retries"`
	} `toml:"ping"`
}

func defaultConfig() *config {
	cfg := &config{
		Seeds:              []string{"localhost:27017"},
		HeartbeatFrequency: "10s",
	}
	cfg.Log.Level = "info"
	cfg.Log.Sink = "logrus"
	cfg.Output.Format = "text"
	cfg.Ping.Interval = "5s"
	cfg.Ping.MaxRetries = 5
	return cfg
}

// loadConfig reads the optional .env file and the optional TOML file at path, in that order, and
// then applies the environment overrides.
func loadConfig(path, envFile string) (*config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err = godotenv.Load(envFile); err != nil {
				return nil, errors.Wrapf(err, "unable to load %s", envFile)
			}
		}
	}

	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "unable to read configuration")
		}
		if err = toml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "unable to parse %s", path)
		}
	}

	if v := os.Getenv(envSeeds); v != "" {
		cfg.Seeds = strings.Split(v, ",")
	}
	if v := os.Getenv(envReplicaSet); v != "" {
		cfg.ReplicaSet = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.Log.Level = v
	}
	return cfg, nil
}

func parseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	if value == "infinite" {
		return topology.Infinite, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", name)
	}
	return d, nil
}

// clusterOptions maps the configuration onto cluster options.
func (cfg *config) clusterOptions(l *logger.Logger) ([]topology.ClusterOption, error) {
	opts := []topology.ClusterOption{
		topology.WithSeeds(cfg.Seeds...),
		topology.WithClusterLogger(l),
	}
	if cfg.Direct {
		opts = append(opts, topology.WithConnectionMode(topology.DirectMode))
	}
	if cfg.ReplicaSet != "" {
		opts = append(opts, topology.WithReplicaSetName(cfg.ReplicaSet))
	}

	timeout, err := parseDuration("server_selection_timeout", cfg.ServerSelectionTimeout)
	if err != nil {
		return nil, err
	}
	if cfg.ServerSelectionTimeout != "" {
		opts = append(opts, topology.WithServerSelectionTimeout(timeout))
	}

	threshold, err := parseDuration("local_threshold", cfg.LocalThreshold)
	if err != nil {
		return nil, err
	}
	if threshold > 0 {
		opts = append(opts, topology.WithLocalThreshold(threshold))
	}

	serverOpts, err := cfg.serverOptions()
	if err != nil {
		return nil, err
	}
	return append(opts, topology.WithServerOptions(serverOpts...)), nil
}

func (cfg *config) serverOptions() ([]topology.ServerOption, error) {
	var opts []topology.ServerOption

	heartbeat, err := parseDuration("heartbeat_frequency", cfg.HeartbeatFrequency)
	if err != nil {
		return nil, err
	}
	if heartbeat > 0 {
		opts = append(opts, topology.WithHeartbeatFrequency(heartbeat))
	}

	if cfg.AppName != "" || len(cfg.Compressors) > 0 {
		h := &connection.CommandHandshaker{AppName: cfg.AppName, Compressors: cfg.Compressors}
		f, err := connection.NewFactory(
			connection.WithAppName(cfg.AppName),
			connection.WithCompressors(cfg.Compressors...),
			connection.WithHandshaker(h),
		)
		if err != nil {
			return nil, err
		}
		opts = append(opts, topology.WithHandshaker(h), topology.WithConnectionFactory(f))
	}

	var poolOpts []topology.PoolOption
	if cfg.Pool.MaxSize > 0 {
		poolOpts = append(poolOpts, topology.WithMaxPoolSize(cfg.Pool.MaxSize))
	}
	if cfg.Pool.MinSize > 0 {
		poolOpts = append(poolOpts, topology.WithMinPoolSize(cfg.Pool.MinSize))
	}
	if cfg.Pool.MaxWaitQueueSize > 0 {
		poolOpts = append(poolOpts, topology.WithMaxWaitQueueSize(cfg.Pool.MaxWaitQueueSize))
	}
	idle, err := parseDuration("pool.max_idle_time", cfg.Pool.MaxIdleTime)
	if err != nil {
		return nil, err
	}
	if cfg.Pool.MaxIdleTime != "" {
		poolOpts = append(poolOpts, topology.WithMaxIdleTime(idle))
	}
	if len(poolOpts) > 0 {
		opts = append(opts, topology.WithPoolOptions(poolOpts...))
	}
	return opts, nil
}

// componentLevels returns the level of every logged component.
func (cfg *config) componentLevels() map[logger.Component]logger.Level {
	level := logger.ParseLevel(cfg.Log.Level)
	return map[logger.Component]logger.Level{
		logger.ComponentTopology:        level,
		logger.ComponentServerSelection: level,
		logger.ComponentConnection:      level,
	}
}

// describeKind names a topology kind for output.
func describeKind(kind description.TopologyKind) string {
	return strings.ToLower(kind.String())
}

// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Command clustermon discovers a deployment, prints every change to its description and pings
// a selected server at a fixed interval until interrupted.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kr/pretty"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	jsonpretty "github.com/tidwall/pretty"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/ikmak/mongo-driver-core/description"
	"github.com/ikmak/mongo-driver-core/event"
	"github.com/ikmak/mongo-driver-core/internal/logger"
	"github.com/ikmak/mongo-driver-core/readpref"
	"github.com/ikmak/mongo-driver-core/serverselector"
	"github.com/ikmak/mongo-driver-core/topology"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML configuration file")
	envFile := flag.String("env", ".env", "path to an optional .env file")
	readPref := flag.String("readpref", "primaryPreferred", "read preference used to select the pinged server")
	flag.Parse()

	log := logrus.New()
	if err := run(*configPath, *envFile, *readPref, log); err != nil {
		log.WithError(err).Fatal("clustermon failed")
	}
}

func run(configPath, envFile, readPref string, log *logrus.Logger) error {
	cfg, err := loadConfig(configPath, envFile)
	if err != nil {
		return err
	}

	mode, err := readpref.ModeFromString(readPref)
	if err != nil {
		return err
	}
	rp, err := readpref.New(mode)
	if err != nil {
		return err
	}

	sink, closeSink, err := newSink(cfg.Log.Sink, log)
	if err != nil {
		return err
	}
	defer closeSink()

	pub := event.NewPublisher()
	detach := watch(pub, log)
	defer detach()

	opts, err := cfg.clusterOptions(logger.New(sink, cfg.componentLevels()))
	if err != nil {
		return err
	}
	opts = append(opts, topology.WithClusterPublisher(pub))

	cluster, err := topology.New(opts...)
	if err != nil {
		return err
	}

	out := &printer{w: os.Stdout, format: cfg.Output.Format, color: cfg.Output.Color}
	unsubscribe := cluster.Subscribe(func(desc description.Topology) {
		if err := out.print(desc); err != nil {
			log.WithError(err).Warn("unable to print the cluster description")
		}
	})
	defer unsubscribe()

	cluster.Initialize()
	defer cluster.Dispose()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval, err := parseDuration("ping.interval", cfg.Ping.Interval)
	if err != nil {
		return err
	}
	if interval <= 0 {
		return errors.New("ping.interval must be positive")
	}

	selector := &serverselector.ReadPref{ReadPref: rp}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := pingWithRetry(ctx, cluster, selector, cfg.Ping.MaxRetries); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Error("ping failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// newSink builds the log sink named by the configuration.
func newSink(name string, log *logrus.Logger) (logger.LogSink, func(), error) {
	switch name {
	case "", "logrus":
		return logger.NewLogrusSink(log), func() {}, nil
	case "zap":
		z, err := zap.NewProduction()
		if err != nil {
			return nil, nil, errors.Wrap(err, "unable to create zap logger")
		}
		return logger.NewZapSink(z), func() { _ = z.Sync() }, nil
	}
	return nil, nil, errors.Errorf("unknown log sink %q", name)
}

// watch logs server and pool events published on pub.
func watch(pub *event.Publisher, log *logrus.Logger) (detach func()) {
	servers := &event.ServerMonitor{
		ServerAdded: func(e *event.ServerAddedEvent) {
			log.WithField("address", e.ServerID.Address).Info("server added")
		},
		ServerRemoved: func(e *event.ServerRemovedEvent) {
			log.WithFields(logrus.Fields{"address": e.ServerID.Address, "reason": e.Reason}).Info("server removed")
		},
		ServerHeartbeatFailed: func(e *event.ServerHeartbeatFailedEvent) {
			log.WithField("address", e.Address).WithError(e.Failure).Warn("heartbeat failed")
		},
	}
	pools := &event.PoolMonitor{
		Event: func(e *event.PoolEvent) {
			if e.Type == event.PoolCleared {
				log.WithFields(logrus.Fields{"address": e.Address, "generation": e.Generation}).Warn("pool cleared")
			}
		},
	}

	detachServers := servers.Attach(pub)
	detachPools := pools.Attach(pub)
	return func() {
		detachServers()
		detachPools()
	}
}

// pingWithRetry runs ping against a selected server, retrying with exponential backoff.
func pingWithRetry(ctx context.Context, cluster topology.Cluster, selector description.ServerSelector, maxRetries uint64) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	return backoff.Retry(func() error {
		srv, err := cluster.SelectServer(ctx, selector, cluster.ServerSelectionTimeout())
		if err != nil {
			return err
		}

		ch, err := srv.GetChannel(ctx, cluster.ServerSelectionTimeout())
		if err != nil {
			return err
		}
		defer ch.Close()

		if _, err = ch.RunCommand(ctx, "admin", bson.D{{Key: "ping", Value: 1}}); err != nil {
			return errors.Wrapf(err, "ping %s", srv.Address())
		}
		return nil
	}, b)
}

type serverView struct {
	Address     string        `json:"address"`
	Kind        string        `json:"kind"`
	Status      string        `json:"status"`
	SetName     string        `json:"setName,omitempty"`
	AverageRTT  time.Duration `json:"averageRTT"`
	WireVersion string        `json:"wireVersion,omitempty"`
	LastError   string        `json:"lastError,omitempty"`
}

type topologyView struct {
	ClusterID string       `json:"clusterId"`
	Kind      string       `json:"kind"`
	SetName   string       `json:"setName,omitempty"`
	Servers   []serverView `json:"servers"`
}

func newTopologyView(desc description.Topology) topologyView {
	view := topologyView{
		ClusterID: desc.ClusterID.String(),
		Kind:      describeKind(desc.Kind),
		SetName:   desc.SetName,
		Servers:   make([]serverView, 0, len(desc.Servers)),
	}
	for _, s := range desc.Servers {
		sv := serverView{
			Address:    s.Address().String(),
			Kind:       s.Kind.String(),
			Status:     s.Status.String(),
			SetName:    s.SetName(),
			AverageRTT: s.AveragePingTime,
		}
		if s.WireVersion != nil {
			sv.WireVersion = fmt.Sprintf("%d-%d", s.WireVersion.Min, s.WireVersion.Max)
		}
		if s.LastError != nil {
			sv.LastError = s.LastError.Error()
		}
		view.Servers = append(view.Servers, sv)
	}
	return view
}

// printer writes cluster descriptions as Go values or as indented JSON.
type printer struct {
	w      io.Writer
	format string
	color  bool
}

func (p *printer) print(desc description.Topology) error {
	view := newTopologyView(desc)
	switch p.format {
	case "json":
		b, err := json.Marshal(view)
		if err != nil {
			return err
		}
		b = jsonpretty.Pretty(b)
		if p.color {
			b = jsonpretty.Color(b, nil)
		}
		_, err = p.w.Write(b)
		return err
	default:
		_, err := fmt.Fprintf(p.w, "%# v\n", pretty.Formatter(view))
		return err
	}
}

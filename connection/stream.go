// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package connection

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/proxy"

	"github.com/ikmak/mongo-driver-core/address"
)

// StreamFactory opens the byte stream a Connection runs over. Factories are composed so that,
// for example, TLS can run over a SOCKS5 tunnel.
type StreamFactory interface {
	Dial(ctx context.Context, addr address.Address) (net.Conn, error)
}

// StreamFactoryFunc is a function that can be used as a StreamFactory.
type StreamFactoryFunc func(ctx context.Context, addr address.Address) (net.Conn, error)

// Dial implements the StreamFactory interface.
func (f StreamFactoryFunc) Dial(ctx context.Context, addr address.Address) (net.Conn, error) {
	return f(ctx, addr)
}

// TCPStreamFactory dials plain TCP or unix socket streams.
type TCPStreamFactory struct {
	KeepAlive time.Duration
}

// DefaultKeepAlive is the keep alive period used by a zero TCPStreamFactory.
const DefaultKeepAlive = 300 * time.Second

// Dial implements the StreamFactory interface.
func (f *TCPStreamFactory) Dial(ctx context.Context, addr address.Address) (net.Conn, error) {
	d := &net.Dialer{KeepAlive: f.KeepAlive}
	if d.KeepAlive == 0 {
		d.KeepAlive = DefaultKeepAlive
	}
	return d.DialContext(ctx, addr.Network(), addr.String())
}

// TLSStreamFactory wraps the streams of another factory in TLS.
type TLSStreamFactory struct {
	Inner  StreamFactory
	Config *tls.Config
}

// Dial implements the StreamFactory interface.
func (f *TLSStreamFactory) Dial(ctx context.Context, addr address.Address) (net.Conn, error) {
	nc, err := f.Inner.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}

	cfg := f.Config.Clone()
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = addr.Host()
	}

	client := tls.Client(nc, cfg)
	if err = client.HandshakeContext(ctx); err != nil {
		_ = nc.Close()
		return nil, errors.Wrap(err, "tls handshake failed")
	}
	return client, nil
}

// SOCKS5StreamFactory tunnels streams through a SOCKS5 proxy.
type SOCKS5StreamFactory struct {
	ProxyAddress string
	Auth         *proxy.Auth
	// Forward dials the proxy itself. Defaults to a plain TCP dialer.
	Forward proxy.Dialer
}

// Dial implements the StreamFactory interface.
func (f *SOCKS5StreamFactory) Dial(ctx context.Context, addr address.Address) (net.Conn, error) {
	forward := f.Forward
	if forward == nil {
		forward = &net.Dialer{KeepAlive: DefaultKeepAlive}
	}

	dialer, err := proxy.SOCKS5("tcp", f.ProxyAddress, f.Auth, forward)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to create SOCKS5 dialer for %s", f.ProxyAddress)
	}
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", addr.String())
	}
	return dialer.Dial("tcp", addr.String())
}

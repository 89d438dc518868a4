// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package connection

import "github.com/ikmak/mongo-driver-core/address"

// Factory creates unopened connections sharing one configuration.
type Factory struct {
	cfg *config
}

// NewFactory validates opts and returns a Factory.
func NewFactory(opts ...Option) (*Factory, error) {
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}
	return &Factory{cfg: cfg}, nil
}

// CreateConnection returns a new unopened connection to addr.
func (f *Factory) CreateConnection(addr address.Address) (Connection, error) {
	return newConnection(addr, f.cfg), nil
}

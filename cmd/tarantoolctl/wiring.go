package main

import (
	"context"
	"fmt"

	"github.com/cuemby/tarantoolctl/pkg/allocator"
	"github.com/cuemby/tarantoolctl/pkg/coordstore"
	"github.com/cuemby/tarantoolctl/pkg/hostclient"
	"github.com/cuemby/tarantoolctl/pkg/ipalloc"
	"github.com/cuemby/tarantoolctl/pkg/lifecycle"
	"github.com/cuemby/tarantoolctl/pkg/security"
	"github.com/cuemby/tarantoolctl/pkg/sensor"
	"github.com/cuemby/tarantoolctl/pkg/storage"
)

// controlPlane bundles every long-lived collaborator the lifecycle
// engine needs, built once at process start.
type controlPlane struct {
	store  *coordstore.Store
	sensor *sensor.Sensor
	engine *lifecycle.Engine
}

func newControlPlane(cfg Config) (*controlPlane, error) {
	store, err := coordstore.New(coordstore.Config{
		NodeID:   cfg.NodeID,
		BindAddr: cfg.BindAddr,
		DataDir:  cfg.DataDir,
	})
	if err != nil {
		return nil, fmt.Errorf("create coordination store: %w", err)
	}
	if err := store.Bootstrap(); err != nil {
		return nil, fmt.Errorf("bootstrap coordination store: %w", err)
	}

	caStore, err := storage.NewBoltStore(cfg.DataDir + "/ca")
	if err != nil {
		return nil, fmt.Errorf("open certificate store: %w", err)
	}
	ca := security.NewCertAuthority(caStore)
	if !ca.IsInitialized() {
		if err := ca.Initialize(); err != nil {
			return nil, fmt.Errorf("initialize certificate authority: %w", err)
		}
	}

	pool := hostclient.NewPool(ca, cfg.ClientID)

	snr := sensor.New(store, pool)
	if err := snr.Update(context.Background()); err != nil {
		return nil, fmt.Errorf("initial snapshot refresh: %w", err)
	}
	snr.Start()

	alloc := allocator.New()

	hosts := func(addr string) (lifecycle.HostClient, error) { return pool.Client(addr) }

	ips, err := ipalloc.New(cfg.Subnet, lifecycle.UsedAddrs(snr))
	if err != nil {
		return nil, fmt.Errorf("create ip pool: %w", err)
	}

	engine := lifecycle.New(store, hosts, snr, alloc, ips)

	return &controlPlane{store: store, sensor: snr, engine: engine}, nil
}

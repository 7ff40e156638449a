package hostclient

import (
	"context"
	"crypto/x509"
	"sync"

	"github.com/cuemby/tarantoolctl/pkg/security"
	"github.com/cuemby/tarantoolctl/pkg/sensor"
	"github.com/cuemby/tarantoolctl/pkg/types"
)

// Pool adapts per-host *Client construction to the sensor.HostClient
// interface, caching a client per address (Design Note "Scoped
// container-engine clients" permits, but does not require, this).
type Pool struct {
	ca       *security.CertAuthority
	clientID string

	mu      sync.Mutex
	clients map[string]*Client
}

// NewPool creates a Pool that authenticates as clientID using certificates
// issued by ca.
func NewPool(ca *security.CertAuthority, clientID string) *Pool {
	return &Pool{
		ca:       ca,
		clientID: clientID,
		clients:  make(map[string]*Client),
	}
}

func (p *Pool) clientFor(addr string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[addr]; ok {
		return c, nil
	}

	cert, err := p.ca.IssueClientCertificate(p.clientID)
	if err != nil {
		return nil, err
	}

	caCert, err := x509.ParseCertificate(p.ca.GetRootCACert())
	if err != nil {
		return nil, err
	}

	c, err := Dial(addr, *cert, caCert)
	if err != nil {
		return nil, err
	}

	p.clients[addr] = c
	return c, nil
}

// ListContainers implements sensor.HostClient.
func (p *Pool) ListContainers(ctx context.Context, addr string) ([]types.Container, error) {
	c, err := p.clientFor(addr)
	if err != nil {
		return nil, err
	}
	return c.ListContainers(ctx)
}

// Info implements sensor.HostClient.
func (p *Pool) Info(ctx context.Context, addr string) (sensor.HostInfo, error) {
	c, err := p.clientFor(addr)
	if err != nil {
		return sensor.HostInfo{}, err
	}
	info, err := c.Info(ctx)
	if err != nil {
		return sensor.HostInfo{}, err
	}
	return sensor.HostInfo{CPUs: info.CPUs, MemoryGiB: info.MemoryGiB}, nil
}

// Client returns the cached or newly dialed *Client for addr, for
// lifecycle operations that need the full operation surface beyond what
// sensor.HostClient exposes.
func (p *Pool) Client(addr string) (*Client, error) {
	return p.clientFor(addr)
}

var _ sensor.HostClient = (*Pool)(nil)

// Package hostclient talks to the container engine running on a single
// container host, over mutual TLS, per §4.B. A *Client is built from the
// host's address, the control plane's client identity, and the root CA;
// Pool dials one Client per address on first use and reuses it for every
// later call to that address (Design Note "Scoped container-engine
// clients").
package hostclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/tarantoolctl/pkg/errs"
	"github.com/cuemby/tarantoolctl/pkg/types"
)

const defaultCallTimeout = 30 * time.Second

// Client is a handle to one container host's engine API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Dial builds a Client for addr ("host:port") authenticated with cert and
// verifying the host's server certificate against caCert, per
// pkg/client/client.go's connectWithMTLS pattern adapted from gRPC to
// plain HTTPS.
func Dial(addr string, cert tls.Certificate, caCert *x509.Certificate) (*Client, error) {
	pool := x509.NewCertPool()
	pool.AddCert(caCert)

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS13,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
			Timeout:   defaultCallTimeout,
		},
		baseURL: "https://" + addr,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errs.Wrap(errs.Validation, err, "marshal request body")
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errs.Wrap(errs.Transient, err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.Transient, err, fmt.Sprintf("%s %s", method, path))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.Transient, err, "read response body")
	}

	if resp.StatusCode == http.StatusNotFound {
		return errs.New(errs.NotFound, fmt.Sprintf("%s %s: not found", method, path))
	}
	if resp.StatusCode >= 300 {
		return errs.New(errs.Transient, fmt.Sprintf("%s %s: status %d: %s", method, path, resp.StatusCode, string(respBody)))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errs.Wrap(errs.Transient, err, "decode response body")
	}
	return nil
}

// Info is the subset of the container engine's /info response the
// allocator needs to size a host.
type Info struct {
	CPUs      int
	MemoryGiB float64
}

type infoWire struct {
	NCPU     int   `json:"NCPU"`
	MemTotal int64 `json:"MemTotal"`
}

// Info fetches the engine's self-reported CPU count and total memory.
func (c *Client) Info(ctx context.Context) (Info, error) {
	var wire infoWire
	if err := c.do(ctx, http.MethodGet, "/info", nil, &wire); err != nil {
		return Info{}, err
	}
	return Info{
		CPUs:      wire.NCPU,
		MemoryGiB: float64(wire.MemTotal) / (1024 * 1024 * 1024),
	}, nil
}

type containerListWire struct {
	ID              string `json:"Id"`
	Names           []string `json:"Names"`
	Labels          map[string]string `json:"Labels"`
	State           string `json:"State"`
	NetworkSettings struct {
		Networks map[string]struct {
			IPAMConfig struct {
				IPv4Address string `json:"IPv4Address"`
			} `json:"IPAMConfig"`
		} `json:"Networks"`
	} `json:"NetworkSettings"`
}

// ListContainers lists every container on the host, running or not
// (`all=true`), per §4.C.
func (c *Client) ListContainers(ctx context.Context) ([]types.Container, error) {
	var wire []containerListWire
	if err := c.do(ctx, http.MethodGet, "/containers/json?all=true", nil, &wire); err != nil {
		return nil, err
	}

	out := make([]types.Container, 0, len(wire))
	for _, w := range wire {
		name := ""
		if len(w.Names) > 0 {
			name = w.Names[0]
		}

		labels := make([]string, 0, len(w.Labels))
		for k := range w.Labels {
			labels = append(labels, k)
		}

		networks := make(map[string]string, len(w.NetworkSettings.Networks))
		for netName, n := range w.NetworkSettings.Networks {
			networks[netName] = n.IPAMConfig.IPv4Address
		}

		out = append(out, types.Container{
			ID:       w.ID,
			Name:     name,
			Labels:   labels,
			State:    w.State,
			Networks: networks,
		})
	}
	return out, nil
}

// InspectContainer fetches detailed state for one container, including its
// bind mounts (used by Upgrade to preserve them, §4.F).
func (c *Client) InspectContainer(ctx context.Context, id string) (*types.Container, error) {
	var wire struct {
		ID    string `json:"Id"`
		Name  string `json:"Name"`
		State struct {
			Status string `json:"Status"`
		} `json:"State"`
		Config struct {
			Labels map[string]string `json:"Labels"`
		} `json:"Config"`
		Mounts []struct {
			Source      string `json:"Source"`
			Destination string `json:"Destination"`
		} `json:"Mounts"`
		NetworkSettings struct {
			Networks map[string]struct {
				IPAMConfig struct {
					IPv4Address string `json:"IPv4Address"`
				} `json:"IPAMConfig"`
			} `json:"Networks"`
		} `json:"NetworkSettings"`
	}

	if err := c.do(ctx, http.MethodGet, "/containers/"+id+"/json", nil, &wire); err != nil {
		return nil, err
	}

	mounts := make([]types.Mount, len(wire.Mounts))
	for i, m := range wire.Mounts {
		mounts[i] = types.Mount{Source: m.Source, Destination: m.Destination}
	}

	networks := make(map[string]string, len(wire.NetworkSettings.Networks))
	for name, n := range wire.NetworkSettings.Networks {
		networks[name] = n.IPAMConfig.IPv4Address
	}

	labels := make([]string, 0, len(wire.Config.Labels))
	for k := range wire.Config.Labels {
		labels = append(labels, k)
	}

	return &types.Container{
		ID:       wire.ID,
		Name:     wire.Name,
		Labels:   labels,
		State:    wire.State.Status,
		Mounts:   mounts,
		Networks: networks,
	}, nil
}

// CreateContainerSpec is the subset of container creation options this
// control plane ever sets (§4.B).
type CreateContainerSpec struct {
	Image       string
	Name        string
	Env         []string
	Labels      map[string]string
	Mounts      []types.Mount
	NetworkName string
	IPv4        string
}

// CreateContainer creates (but does not start) a container with the
// restart policy "unless-stopped" and unlimited retries (§4.B).
func (c *Client) CreateContainer(ctx context.Context, spec CreateContainerSpec) (string, error) {
	binds := make([]string, len(spec.Mounts))
	for i, m := range spec.Mounts {
		binds[i] = m.Source + ":" + m.Destination
	}

	req := map[string]interface{}{
		"Image":  spec.Image,
		"Env":    spec.Env,
		"Labels": spec.Labels,
		"HostConfig": map[string]interface{}{
			"Binds":         binds,
			"RestartPolicy": map[string]interface{}{"Name": "unless-stopped", "MaximumRetryCount": 0},
		},
		"NetworkingConfig": map[string]interface{}{
			"EndpointsConfig": map[string]interface{}{
				spec.NetworkName: map[string]interface{}{
					"IPAMConfig": map[string]interface{}{"IPv4Address": spec.IPv4},
				},
			},
		},
	}

	var resp struct {
		ID string `json:"Id"`
	}
	if err := c.do(ctx, http.MethodPost, "/containers/create?name="+spec.Name, req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// ConnectToNetwork explicitly connects a container to a network at a
// fixed IPv4, a defense against engines that only honor one of the
// create-time or connect-time address assignment (§4.F step 5).
func (c *Client) ConnectToNetwork(ctx context.Context, networkID, containerID, ipv4 string) error {
	req := map[string]interface{}{
		"Container": containerID,
		"EndpointConfig": map[string]interface{}{
			"IPAMConfig": map[string]interface{}{"IPv4Address": ipv4},
		},
	}
	return c.do(ctx, http.MethodPost, "/networks/"+networkID+"/connect", req, nil)
}

// StartContainer starts a created container.
func (c *Client) StartContainer(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/containers/"+id+"/start", nil, nil)
}

// StopContainer stops a container gracefully, grounded on
// pkg/runtime/containerd.go's StopContainer: ask nicely within timeout,
// the engine itself escalates to SIGKILL past that deadline (Docker's
// /containers/{id}/stop already implements graceful-then-kill, so this
// call carries the timeout through rather than reimplementing the
// SIGTERM/SIGKILL race locally).
func (c *Client) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	path := fmt.Sprintf("/containers/%s/stop?t=%d", id, seconds)
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		if errs.Is(err, errs.NotFound) {
			return nil
		}
		return err
	}
	return nil
}

// RestartContainer restarts a container.
func (c *Client) RestartContainer(ctx context.Context, id string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/containers/%s/restart?t=%d", id, seconds), nil, nil)
}

// RemoveContainer removes a stopped container.
func (c *Client) RemoveContainer(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/containers/"+id, nil, nil); err != nil {
		if errs.Is(err, errs.NotFound) {
			return nil
		}
		return err
	}
	return nil
}

// Images lists images present on the host.
func (c *Client) Images(ctx context.Context) ([]string, error) {
	var wire []struct {
		RepoTags []string `json:"RepoTags"`
	}
	if err := c.do(ctx, http.MethodGet, "/images/json", nil, &wire); err != nil {
		return nil, err
	}
	var tags []string
	for _, img := range wire {
		tags = append(tags, img.RepoTags...)
	}
	return tags, nil
}

// EnsureImage pulls image if it is not already present on the host.
func (c *Client) EnsureImage(ctx context.Context, image string) error {
	tags, err := c.Images(ctx)
	if err != nil {
		return err
	}
	for _, t := range tags {
		if t == image {
			return nil
		}
	}
	return c.do(ctx, http.MethodPost, "/images/create?fromImage="+image, nil, nil)
}

// Networks lists networks present on the host.
func (c *Client) Networks(ctx context.Context) ([]string, error) {
	var wire []struct {
		Name string `json:"Name"`
	}
	if err := c.do(ctx, http.MethodGet, "/networks", nil, &wire); err != nil {
		return nil, err
	}
	names := make([]string, len(wire))
	for i, n := range wire {
		names[i] = n.Name
	}
	return names, nil
}

// CreateNetwork sends a create request for name and returns the new
// network's id. It does not check for an existing network of that name;
// the engine's error for a duplicate is returned as a transient error.
func (c *Client) CreateNetwork(ctx context.Context, name, subnet string) (string, error) {
	req := map[string]interface{}{
		"Name":   name,
		"Driver": "bridge",
		"IPAM": map[string]interface{}{
			"Config": []map[string]interface{}{{"Subnet": subnet}},
		},
	}
	var resp struct {
		ID string `json:"Id"`
	}
	if err := c.do(ctx, http.MethodPost, "/networks/create", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// ExecCreate creates an exec instance bound to a running container.
func (c *Client) ExecCreate(ctx context.Context, containerID string, cmd []string) (string, error) {
	req := map[string]interface{}{
		"Cmd":          cmd,
		"AttachStdout": true,
		"AttachStderr": true,
	}
	var resp struct {
		ID string `json:"Id"`
	}
	if err := c.do(ctx, http.MethodPost, "/containers/"+containerID+"/exec", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// ExecStart runs a previously created exec instance to completion.
func (c *Client) ExecStart(ctx context.Context, execID string) error {
	req := map[string]interface{}{"Detach": false}
	return c.do(ctx, http.MethodPost, "/exec/"+execID+"/start", req, nil)
}

// ExecInspect returns the exit code of a finished exec instance.
func (c *Client) ExecInspect(ctx context.Context, execID string) (int, error) {
	var resp struct {
		ExitCode int  `json:"ExitCode"`
		Running  bool `json:"Running"`
	}
	if err := c.do(ctx, http.MethodGet, "/exec/"+execID+"/json", nil, &resp); err != nil {
		return 0, err
	}
	return resp.ExitCode, nil
}

// Exec runs cmd inside containerID to completion and returns its exit
// code, composing ExecCreate/ExecStart/ExecInspect (the shape every
// lifecycle step that configures a running instance uses).
func (c *Client) Exec(ctx context.Context, containerID string, cmd []string) (int, error) {
	id, err := c.ExecCreate(ctx, containerID, cmd)
	if err != nil {
		return 0, err
	}
	if err := c.ExecStart(ctx, id); err != nil {
		return 0, err
	}
	return c.ExecInspect(ctx, id)
}

// PutArchive uploads a tar archive into dest inside containerID.
func (c *Client) PutArchive(ctx context.Context, containerID, dest string, tarBytes []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.baseURL+"/containers/"+containerID+"/archive?path="+dest,
		bytes.NewReader(tarBytes))
	if err != nil {
		return errs.Wrap(errs.Transient, err, "build put-archive request")
	}
	req.Header.Set("Content-Type", "application/x-tar")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.Transient, err, "put archive")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return errs.New(errs.Transient, fmt.Sprintf("put archive: status %d: %s", resp.StatusCode, string(body)))
	}
	return nil
}

// GetArchive downloads a tar archive of path from inside containerID.
func (c *Client) GetArchive(ctx context.Context, containerID, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/containers/"+containerID+"/archive?path="+path, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, err, "build get-archive request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, err, "get archive")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errs.New(errs.NotFound, "get archive: "+path+" not found")
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, errs.New(errs.Transient, fmt.Sprintf("get archive: status %d: %s", resp.StatusCode, string(body)))
	}

	return io.ReadAll(resp.Body)
}

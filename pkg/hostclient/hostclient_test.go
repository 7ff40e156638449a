package hostclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/tarantoolctl/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &Client{httpClient: server.Client(), baseURL: server.URL}
}

func TestInfoParsesCPUsAndMemory(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/info", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"NCPU":     8,
			"MemTotal": int64(16 * 1024 * 1024 * 1024),
		})
	})

	info, err := c.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, info.CPUs)
	assert.Equal(t, float64(16), info.MemoryGiB)
}

func TestListContainersParsesLabelsAndNetworks(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/containers/json", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("all"))
		_ = json.NewEncoder(w).Encode([]map[string]interface{}{
			{
				"Id":     "c1",
				"Names":  []string{"/g1_1"},
				"Labels": map[string]string{"tarantool": ""},
				"State":  "running",
				"NetworkSettings": map[string]interface{}{
					"Networks": map[string]interface{}{
						"tarantool_net": map[string]interface{}{
							"IPAMConfig": map[string]interface{}{"IPv4Address": "10.1.0.1"},
						},
					},
				},
			},
		})
	})

	containers, err := c.ListContainers(context.Background())
	require.NoError(t, err)
	require.Len(t, containers, 1)

	ct := containers[0]
	assert.Equal(t, "c1", ct.ID)
	assert.Equal(t, "/g1_1", ct.Name)
	assert.Contains(t, ct.Labels, "tarantool")
	assert.True(t, ct.IsRunning())

	addr, ok := ct.AddrOn("tarantool_net")
	assert.True(t, ok)
	assert.Equal(t, "10.1.0.1:3301", addr)
}

func TestExecComposesCreateStartInspect(t *testing.T) {
	var calls []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch {
		case r.URL.Path == "/containers/c1/exec":
			_ = json.NewEncoder(w).Encode(map[string]string{"Id": "exec1"})
		case r.URL.Path == "/exec/exec1/start":
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/exec/exec1/json":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"ExitCode": 0, "Running": false})
		}
	})

	code, err := c.Exec(context.Background(), "c1", []string{"tarantool-config", "set-replication-source"})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, []string{
		"POST /containers/c1/exec",
		"POST /exec/exec1/start",
		"GET /exec/exec1/json",
	}, calls)
}

func TestNotFoundMapsToNotFoundKind(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.InspectContainer(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestStopContainerTreatsNotFoundAsNoop(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	err := c.StopContainer(context.Background(), "missing", 0)
	assert.NoError(t, err)
}

func TestGetArchiveReturnsBytes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/opt/tarantool/auth.sasldb", r.URL.Query().Get("path"))
		_, _ = w.Write([]byte("tarball-bytes"))
	})

	data, err := c.GetArchive(context.Background(), "c1", "/opt/tarantool/auth.sasldb")
	require.NoError(t, err)
	assert.Equal(t, "tarball-bytes", string(data))
}

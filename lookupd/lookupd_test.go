package lookupd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newLookupd starts a fake nsqlookupd serving the given status and body on the
// /nodes endpoint, counting the requests made.
func newLookupd(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()

	hits := new(int32)
	mux := http.NewServeMux()
	mux.HandleFunc("/nodes", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server, hits
}

// Tests that the enveloped producer list is turned into base URLs in order.
func TestNodesEnveloped(t *testing.T) {
	server, hits := newLookupd(t, http.StatusOK, `{"data": {"producers": [
		{"hostname": "nsqd-useast1a-101", "http_port": 4151},
		{"hostname": "nsqd-useast1b-102", "http_port": 4251}
	]}}`)

	client, err := New(&Config{Address: server.URL})
	require.NoError(t, err)

	nodes, err := client.Nodes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"http://nsqd-useast1a-101:4151", "http://nsqd-useast1b-102:4251"}, nodes)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
}

// Tests that the bare producer list of newer nsqlookupd versions is accepted.
func TestNodesBare(t *testing.T) {
	server, _ := newLookupd(t, http.StatusOK, `{"producers": [{"hostname": "10.0.0.7", "http_port": 4151, "tcp_port": 4150}]}`)

	client, err := New(&Config{Address: server.URL})
	require.NoError(t, err)

	nodes, err := client.Nodes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"http://10.0.0.7:4151"}, nodes)
}

// Tests that an empty cluster yields an empty node list, not a failure.
func TestNodesEmpty(t *testing.T) {
	server, _ := newLookupd(t, http.StatusOK, `{"data": {"producers": []}}`)

	client, err := New(&Config{Address: server.URL})
	require.NoError(t, err)

	nodes, err := client.Nodes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

// Tests that a failure status is reported before the body is even parsed.
func TestNodesBadStatus(t *testing.T) {
	server, _ := newLookupd(t, http.StatusInternalServerError, `{"data": {"producers": [{"hostname": "ignored", "http_port": 1}]}}`)

	client, err := New(&Config{Address: server.URL})
	require.NoError(t, err)

	nodes, err := client.Nodes(context.Background())
	assert.Nil(t, nodes)

	var derr *DiscoveryError
	require.True(t, errors.As(err, &derr), "have %T, want *DiscoveryError", err)
	assert.Equal(t, http.StatusInternalServerError, derr.StatusCode)
	assert.Contains(t, derr.Error(), "500")
}

// Tests that malformed or incomplete lookup replies are discovery failures.
func TestNodesMalformed(t *testing.T) {
	tests := []string{
		`not json`,
		`{"data": {}}`,
		`{}`,
		`{"data": {"producers": []}} trailing`,
		`{"data": {"producers": [{"http_port": 4151}]}}`,
		`{"data": {"producers": [{"hostname": "nsqd-useast1a-101"}]}}`,
		`{"producers": [{"hostname": "nsqd-useast1a-101", "http_port": null}]}`,
	}
	for _, body := range tests {
		server, _ := newLookupd(t, http.StatusOK, body)

		client, err := New(&Config{Address: server.URL})
		require.NoError(t, err)

		_, err = client.Nodes(context.Background())

		var derr *DiscoveryError
		if assert.True(t, errors.As(err, &derr), "body %q: have %v, want *DiscoveryError", body, err) {
			assert.Zero(t, derr.StatusCode, "body %q", body)
			assert.Error(t, derr.Unwrap(), "body %q", body)
		}
	}
}

// Tests that an unresponsive lookup daemon is cut off by the timeout.
func TestNodesTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client, err := New(&Config{Address: server.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = client.Nodes(context.Background())

	var derr *DiscoveryError
	require.True(t, errors.As(err, &derr), "have %v, want *DiscoveryError", err)
	assert.Zero(t, derr.StatusCode)
}

// Tests that the nodes endpoint replaces any path on the configured address.
func TestEndpointResolution(t *testing.T) {
	tests := []struct {
		address  string
		endpoint string
	}{
		{"http://prod-nsq-lookup-useast1b-201:4161", "http://prod-nsq-lookup-useast1b-201:4161/nodes"},
		{"http://127.0.0.1:4161/", "http://127.0.0.1:4161/nodes"},
		{"http://127.0.0.1:4161/some/path", "http://127.0.0.1:4161/nodes"},
	}
	for _, tt := range tests {
		client, err := New(&Config{Address: tt.address})
		require.NoError(t, err, "address %s", tt.address)
		assert.Equal(t, tt.endpoint, client.Endpoint())
	}
}

// Tests that non-absolute addresses are rejected up front.
func TestInvalidAddress(t *testing.T) {
	for _, address := range []string{"", "prod-nsq-lookup", "://broken"} {
		_, err := New(&Config{Address: address})
		assert.Error(t, err, "address %q", address)
	}
}

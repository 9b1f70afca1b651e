// Package lookupd discovers the nsqd broker nodes registered with an nsqlookupd.
package lookupd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// DefaultTimeout is the time allowance of a single lookup request.
const DefaultTimeout = 3 * time.Second

// Config is the set of options to fine tune the node discovery.
type Config struct {
	Address string        // Base URL of the nsqlookupd HTTP interface
	Timeout time.Duration // Time allowance for the lookup request (0 = DefaultTimeout)

	Logger log.Logger // Logger to allow differentiating lookups if many is embedded
}

// DiscoveryError is returned if the broker nodes cannot be retrieved from the
// nsqlookupd. There is no fallback node list, so it is fatal to a census.
type DiscoveryError struct {
	Address    string // Lookup endpoint that was queried
	StatusCode int    // HTTP status code of the response, 0 if none was received
	Err        error  // Underlying transport or decoding failure, if any
}

// Error implements the error interface.
func (e *DiscoveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("bad response from nsqlookupd %s with status code %d", e.Address, e.StatusCode)
	}
	return fmt.Sprintf("failed to query nsqlookupd %s: %v", e.Address, e.Err)
}

// Unwrap returns the underlying failure.
func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// errMissingProducers is returned if the lookup response has no producer list
// in either the enveloped or the bare format.
var errMissingProducers = errors.New("missing producers in lookup response")

// errIncompleteProducer is returned if a producer lacks its hostname or port.
var errIncompleteProducer = errors.New("missing hostname or http_port of producer")

// Client is an HTTP interface to a single nsqlookupd.
type Client struct {
	endpoint *url.URL     // Fully resolved /nodes endpoint
	client   *http.Client // HTTP client with the request timeout set
	logger   log.Logger
}

// New creates a lookup client for the nsqlookupd at the configured address.
func New(config *Config) (*Client, error) {
	base, err := url.Parse(config.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid nsqlookupd address '%s': %w", config.Address, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid nsqlookupd address '%s', must be an absolute URL", config.Address)
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New()
	}
	return &Client{
		endpoint: base.ResolveReference(&url.URL{Path: "/nodes"}),
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}, nil
}

// Endpoint returns the URL the nodes are retrieved from.
func (c *Client) Endpoint() string {
	return c.endpoint.String()
}

// Nodes retrieves the HTTP base URLs of all the nsqd instances registered with
// the nsqlookupd, in the order they were reported.
func (c *Client) Nodes(ctx context.Context) ([]string, error) {
	addr := c.endpoint.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return nil, &DiscoveryError{Address: addr, Err: err}
	}
	res, err := c.client.Do(req)
	if err != nil {
		return nil, &DiscoveryError{Address: addr, Err: err}
	}
	defer res.Body.Close()

	// Reject failures before looking at the body, it's usually not JSON anyway
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &DiscoveryError{Address: addr, StatusCode: res.StatusCode}
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &DiscoveryError{Address: addr, Err: err}
	}
	reply := new(nodesResponse)
	if err := json.Unmarshal(body, reply); err != nil {
		return nil, &DiscoveryError{Address: addr, Err: err}
	}
	producers, err := reply.producers()
	if err != nil {
		return nil, &DiscoveryError{Address: addr, Err: err}
	}
	nodes := make([]string, 0, len(producers))
	for i, prod := range producers {
		if prod.Hostname == nil || prod.HTTPPort == nil {
			return nil, &DiscoveryError{Address: addr, Err: fmt.Errorf("producer #%d: %w", i, errIncompleteProducer)}
		}
		nodes = append(nodes, fmt.Sprintf("http://%s:%d", *prod.Hostname, *prod.HTTPPort))
	}
	c.logger.Debug("Retrieved broker nodes", "lookupd", addr, "nodes", len(nodes))
	return nodes, nil
}

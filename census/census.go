// Package census inventories the authenticated clients connected to the nsqd
// brokers of an NSQ cluster, grouping the hosts by the identity they use.
package census

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/nsqio/go-nsq"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/sproutsocial/nsqd-client-finder/lookupd"
)

// DefaultTimeout is the time allowance of a single stats request.
const DefaultTimeout = 3 * time.Second

// Config is the set of options to fine tune the client census.
type Config struct {
	Lookupd     string        // Base URL of the nsqlookupd to discover brokers through
	Timeout     time.Duration // Time allowance for each HTTP request (0 = DefaultTimeout)
	Concurrency int           // Number of brokers to query simultaneously (<= 1 = sequential)

	Topic   string // Only count clients of this topic (empty = all topics)
	Channel string // Only count clients of this channel (empty = all channels)

	Logger log.Logger // Logger to allow differentiating censuses if many is embedded
}

// Result is the outcome of querying the clients of a single nsqd broker.
type Result struct {
	Node    string // HTTP base URL of the queried broker
	Clients Report // Identities and hosts seen on the broker, empty on failure
	Err     error  // Reason the broker could not be inventoried, nil on success
}

// Summary is the merged outcome of a full cluster census.
type Summary struct {
	Report Report    // Identities and hosts merged across all brokers
	Nodes  []*Result // Per broker results in discovery order
}

// Err combines the failures of all the brokers that could not be inventoried.
func (s *Summary) Err() error {
	var err error
	for _, res := range s.Nodes {
		if res.Err != nil {
			err = multierr.Append(err, fmt.Errorf("nsqd %s: %w", res.Node, res.Err))
		}
	}
	return err
}

// Collector queries the brokers of an NSQ cluster for their connected clients.
type Collector struct {
	lookup *lookupd.Client // Discovery client to enumerate the brokers through
	client *http.Client    // HTTP client with the request timeout set

	topic       string
	channel     string
	concurrency int

	logger log.Logger
}

// New creates a census collector for the cluster behind the configured lookup
// daemon. No network traffic is generated until a census is requested.
func New(config *Config) (*Collector, error) {
	// Make sure the config is valid
	if config.Topic != "" && !nsq.IsValidTopicName(config.Topic) {
		return nil, fmt.Errorf("invalid topic filter '%s'", config.Topic)
	}
	if config.Channel != "" && !nsq.IsValidChannelName(config.Channel) {
		return nil, fmt.Errorf("invalid channel filter '%s'", config.Channel)
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	concurrency := config.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New()
	}
	lookup, err := lookupd.New(&lookupd.Config{
		Address: config.Lookupd,
		Timeout: timeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	return &Collector{
		lookup:      lookup,
		client:      &http.Client{Timeout: timeout},
		topic:       config.Topic,
		channel:     config.Channel,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

// Run discovers all the brokers of the cluster and inventories each of them,
// merging the results. Only a discovery failure is returned as an error, any
// broker that cannot be queried is logged and contributes nothing.
func (c *Collector) Run(ctx context.Context) (*Summary, error) {
	nodes, err := c.lookup.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Discovered broker nodes", "lookupd", c.lookup.Endpoint(), "count", len(nodes))

	// Query the brokers, each into its own slot so ordering is preserved even
	// if multiple are in flight
	results := make([]*Result, len(nodes))

	var group errgroup.Group
	group.SetLimit(c.concurrency)
	for i, node := range nodes {
		i, node := i, node
		group.Go(func() error {
			results[i] = c.Collect(ctx, node)
			return nil
		})
	}
	group.Wait()

	// All brokers done, merge them in discovery order
	report := make(Report)
	for _, res := range results {
		report.Merge(res.Clients)
	}
	return &Summary{Report: report, Nodes: results}, nil
}

// Collect inventories the clients connected to a single broker. Failures are
// not fatal: they are logged and reported in the result with no clients.
func (c *Collector) Collect(ctx context.Context, node string) *Result {
	logger := c.logger.New("nsqd", node)

	clients, err := c.collect(ctx, node)
	if err != nil {
		logger.Warn("Failed to collect broker clients", "err", err)
		return &Result{Node: node, Clients: make(Report), Err: err}
	}
	logger.Debug("Collected broker clients", "identities", len(clients))
	return &Result{Node: node, Clients: clients}
}

// collect retrieves the stats of a broker and extracts the identity to host
// mapping of its clients.
func (c *Collector) collect(ctx context.Context, node string) (Report, error) {
	base, err := url.Parse(node)
	if err != nil {
		return nil, err
	}
	endpoint := base.ResolveReference(&url.URL{Path: "/stats"})
	endpoint.RawQuery = url.Values{
		"format":          {"json"},
		"include_clients": {"true"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	res, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("bad response with status code %d", res.StatusCode)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	reply := new(statsResponse)
	if err := json.Unmarshal(body, reply); err != nil {
		return nil, err
	}
	topics, err := reply.topics()
	if err != nil {
		return nil, err
	}
	// Clients belong to channels and channels to topics, flatten them out into
	// the hosts using each identity. Filtered out entries must still be complete.
	clients := make(Report)
	for _, topic := range topics {
		if topic.Channels == nil {
			return nil, fmt.Errorf("topic '%s': %w", topic.Name, errMissingChannels)
		}
		for _, channel := range topic.Channels {
			if channel.Clients == nil {
				return nil, fmt.Errorf("channel '%s/%s': %w", topic.Name, channel.Name, errMissingClients)
			}
			for _, client := range channel.Clients {
				if client.Hostname == nil {
					return nil, fmt.Errorf("channel '%s/%s': %w", topic.Name, channel.Name, errMissingHostname)
				}
				if client.AuthIdentity == nil {
					return nil, fmt.Errorf("channel '%s/%s': %w", topic.Name, channel.Name, errMissingIdentity)
				}
				if c.topic != "" && topic.Name != c.topic {
					continue
				}
				if c.channel != "" && channel.Name != c.channel {
					continue
				}
				clients.Add(*client.AuthIdentity, NormalizeHost(*client.Hostname))
			}
		}
	}
	return clients, nil
}

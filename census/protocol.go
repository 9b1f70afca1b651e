package census

import "errors"

// errMissingTopics is returned if a stats reply has no topic list in either
// the enveloped or the bare format.
var errMissingTopics = errors.New("missing topics in stats response")

// Errors returned if a stats reply lacks one of the fields the census is built
// from. A null value counts as missing.
var (
	errMissingChannels = errors.New("missing channels in topic stats")
	errMissingClients  = errors.New("missing clients in channel stats")
	errMissingHostname = errors.New("missing hostname in client stats")
	errMissingIdentity = errors.New("missing auth_identity in client stats")
)

// statsResponse is the reply of nsqd's /stats endpoint. Legacy daemons wrap the
// payload in a data envelope, newer ones return it bare.
type statsResponse struct {
	Data   *statsData   `json:"data"`
	Topics []topicStats `json:"topics"`
}

// statsData is the payload of the /stats endpoint.
type statsData struct {
	Topics []topicStats `json:"topics"`
}

// topicStats is the part of a topic's stats the census cares about.
type topicStats struct {
	Name     string         `json:"topic_name"`
	Channels []channelStats `json:"channels"`
}

// channelStats is the part of a channel's stats the census cares about.
type channelStats struct {
	Name    string        `json:"channel_name"`
	Clients []clientStats `json:"clients"`
}

// clientStats is a consumer connected to a channel.
type clientStats struct {
	Hostname     *string `json:"hostname"`      // Hostname the client identified with
	AuthIdentity *string `json:"auth_identity"` // Identity granted by the auth server, omitted without auth
}

// topics returns the topic list from whichever format the reply used.
func (r *statsResponse) topics() ([]topicStats, error) {
	if r.Data != nil && r.Data.Topics != nil {
		return r.Data.Topics, nil
	}
	if r.Topics != nil {
		return r.Topics, nil
	}
	return nil, errMissingTopics
}

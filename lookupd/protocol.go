package lookupd

// nodesResponse is the reply of nsqlookupd's /nodes endpoint. Legacy daemons
// wrap the payload in a data envelope, newer ones return it bare.
type nodesResponse struct {
	Data      *nodesData `json:"data"`
	Producers []producer `json:"producers"`
}

// nodesData is the payload of the /nodes endpoint.
type nodesData struct {
	Producers []producer `json:"producers"`
}

// producer is an nsqd instance registered with the lookup daemon.
type producer struct {
	Hostname *string `json:"hostname"`  // Hostname the nsqd is reachable through
	HTTPPort *int    `json:"http_port"` // Port of the nsqd HTTP interface
}

// producers returns the producer list from whichever format the reply used.
func (r *nodesResponse) producers() ([]producer, error) {
	if r.Data != nil && r.Data.Producers != nil {
		return r.Data.Producers, nil
	}
	if r.Producers != nil {
		return r.Producers, nil
	}
	return nil, errMissingProducers
}

package census

import (
	"encoding/json"
	"io"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// Hosts is a set of normalized hostnames.
type Hosts map[string]struct{}

// Sorted returns the hosts of the set in lexicographic order.
func (h Hosts) Sorted() []string {
	hosts := make([]string, 0, len(h))
	for host := range h {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}

// Report maps each client identity to the set of hosts using it.
type Report map[string]Hosts

// Add records a host as using the given identity.
func (r Report) Add(identity string, host string) {
	hosts, ok := r[identity]
	if !ok {
		hosts = make(Hosts)
		r[identity] = hosts
	}
	hosts[host] = struct{}{}
}

// Merge unions another report into this one.
func (r Report) Merge(other Report) {
	for identity, hosts := range other {
		for host := range hosts {
			r.Add(identity, host)
		}
	}
}

// identities returns the identities of the report in lexicographic order.
func (r Report) identities() []string {
	identities := make([]string, 0, len(r))
	for identity := range r {
		identities = append(identities, identity)
	}
	sort.Strings(identities)
	return identities
}

// WriteJSON serializes the report as an indented JSON object mapping each
// identity to the sorted list of its hosts.
func (r Report) WriteJSON(w io.Writer) error {
	flat := make(map[string][]string, len(r))
	for identity, hosts := range r {
		flat[identity] = hosts.Sorted()
	}
	blob, err := json.MarshalIndent(flat, "", "    ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(blob, '\n'))
	return err
}

// WriteTable renders the report as a human readable table, one row per host.
func (r Report) WriteTable(w io.Writer) error {
	rows := make([][]string, 0, len(r))
	for i, identity := range r.identities() {
		var (
			id    = strconv.Itoa(i + 1)
			hosts = r[identity].Sorted()
			count = strconv.Itoa(len(hosts))
		)
		if len(hosts) == 0 {
			rows = append(rows, []string{id, identity, count, ""})
			continue
		}
		rows = append(rows, []string{id, identity, count, hosts[0]})
		for _, host := range hosts[1:] {
			rows = append(rows, []string{"", "", "", host})
		}
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Identity", "Hosts", "Host list"})
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.AppendBulk(rows)
	table.Render()

	return nil
}

package census

import "strings"

// infraMarker is the hostname fragment all fixed (non-Kubernetes) machines of
// the fleet carry in their name.
const infraMarker = "-useast1"

// podPrefix is prepended to the workload name extracted from a pod hostname.
const podPrefix = "k8s-pod-"

// NormalizeHost collapses a client hostname into a stable logical name.
//
// Infrastructure hosts are returned unchanged. Anything else is assumed to be a
// Kubernetes pod named <workload>-<replicaset-hash>-<pod-hash>, so the last two
// dash separated segments are dropped and the remainder prefixed. Hostnames
// with fewer than three segments degenerate into the bare prefix.
func NormalizeHost(hostname string) string {
	if strings.Contains(hostname, infraMarker) {
		return hostname
	}
	parts := strings.Split(hostname, "-")
	if n := len(parts) - 2; n > 0 {
		parts = parts[:n]
	} else {
		parts = nil
	}
	return podPrefix + strings.Join(parts, "-")
}

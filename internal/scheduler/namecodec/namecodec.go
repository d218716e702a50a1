// Package namecodec derives a cluster-legal Kubernetes workload name from a Waiter
// service-id. Grounded on the teacher's util.ExtractJobId-style identity
// extraction (internal/executor/util/pod_util.go), but the direction is reversed:
// here we compute a name from an id, rather than an id from a name.
package namecodec

import (
	"fmt"
	"strings"
)

// waiterPrefix is the literal prefix every Waiter service-id carries ahead of the
// human-readable service name; it is implied by ownership labels elsewhere, so it
// is dropped before budgeting the app-name.
const waiterPrefix = "waiter-"

// minHashLength is the minimum hex length of the trailing hash segment: an 8-char
// x plus an 8-char z.
const minHashLength = 16

// ComputeAppName derives a Kubernetes-legal app-name from a Waiter service-id.
// The service-id is expected to look like "waiter-<prefix>-<x:8><y><z:8>" where
// x, y, z are hex segments of a content hash. The output is bounded by
// maxNameLength - podSuffixLength - 1, since Kubernetes appends a generated
// suffix of podSuffixLength characters (plus a separating dash) to derive pod
// names from the owning ReplicaSet's name.
//
// When the allowable length is at least 48 the full hash (x+y+z) is preserved;
// otherwise only x+z is kept. Whatever budget remains goes to prefix, truncated
// from the right.
func ComputeAppName(serviceId string, maxNameLength, podSuffixLength int) (string, error) {
	trimmed := strings.TrimPrefix(serviceId, waiterPrefix)

	idx := strings.LastIndex(trimmed, "-")
	if idx < 0 {
		return "", fmt.Errorf("service-id %q does not contain a '-' separating prefix from hash", serviceId)
	}
	prefix := trimmed[:idx]
	hash := trimmed[idx+1:]
	if len(hash) < minHashLength {
		return "", fmt.Errorf("service-id %q has a hash segment shorter than %d characters", serviceId, minHashLength)
	}

	x := hash[:8]
	y := hash[8 : len(hash)-8]
	z := hash[len(hash)-8:]

	allowable := maxNameLength - podSuffixLength - 1
	if allowable < 0 {
		return "", fmt.Errorf("max-name-length %d too small for pod-suffix-length %d", maxNameLength, podSuffixLength)
	}

	hashSuffix := x + z
	if allowable >= 48 {
		hashSuffix = x + y + z
	}

	prefixBudget := allowable - len(hashSuffix) - 1
	if prefixBudget < 0 {
		return "", fmt.Errorf("max-name-length %d with pod-suffix-length %d leaves no room for the %d-character hash", maxNameLength, podSuffixLength, len(hashSuffix))
	}
	if len(prefix) > prefixBudget {
		prefix = prefix[:prefixBudget]
	}

	return prefix + "-" + hashSuffix, nil
}

// Package authorizer is the capability-check collaborator validate-service
// delegates to (spec.md 1's "out of scope... authorizer"); the scheduler core
// only needs a narrow interface, which this package defines plus the two
// backends the configured authorizer.kind selects between.
package authorizer

import "fmt"

// Authorizer decides whether the caller is entitled to act on a service-id.
// The rest of Waiter's authorization model (who the caller is) is resolved
// upstream; this interface only asks "is this service-id allowed".
type Authorizer interface {
	Authorize(serviceId string) error
}

// AllowAll permits every service-id; used in tests and for the "allow-all"
// authorizer.kind.
type AllowAll struct{}

func (AllowAll) Authorize(string) error { return nil }

// DenyAll permits nothing; used for the "deny-all" authorizer.kind and as a
// safe default if misconfigured.
type DenyAll struct{}

func (DenyAll) Authorize(serviceId string) error {
	return fmt.Errorf("service %s is not authorized", serviceId)
}

// New selects an Authorizer by the authorizer.kind configuration value.
func New(kind string) Authorizer {
	switch kind {
	case "allow-all", "":
		return AllowAll{}
	case "deny-all":
		return DenyAll{}
	default:
		return DenyAll{}
	}
}

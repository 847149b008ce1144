package resolvers

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/atlasdns/atlas/internal/dns"
)

// ErrNoCustomDNS is returned when no custom DNS resolver is configured.
var ErrNoCustomDNS = errors.New("no custom DNS resolver configured")

// ReloadableCustomDNSResolver lets an operator swap the active
// CustomDNSResolver in place - e.g. after a config-file edit or an API
// call that adds a host override - without restarting the listeners or
// disturbing in-flight queries.
//
// The active resolver lives behind an atomic.Pointer rather than a
// mutex: readers on the hot query path never block a writer doing a
// reload, and a reload never blocks a reader either.
type ReloadableCustomDNSResolver struct {
	active atomic.Pointer[CustomDNSResolver]
}

// NewReloadableCustomDNSResolver wraps an initial CustomDNSResolver.
// A nil initial resolver starts the wrapper empty.
func NewReloadableCustomDNSResolver(initial *CustomDNSResolver) *ReloadableCustomDNSResolver {
	r := &ReloadableCustomDNSResolver{}
	r.active.Store(initial)
	return r
}

// Resolve delegates to whichever CustomDNSResolver is currently active.
func (r *ReloadableCustomDNSResolver) Resolve(ctx context.Context, req dns.Packet, reqBytes []byte) (Result, error) {
	current := r.active.Load()
	if current == nil || current.IsEmpty() {
		return Result{}, ErrNoCustomDNS
	}
	return current.Resolve(ctx, req, reqBytes)
}

// Reload swaps in a freshly built CustomDNSResolver and closes the one
// it replaces. Passing nil disables custom DNS until the next reload.
func (r *ReloadableCustomDNSResolver) Reload(next *CustomDNSResolver) error {
	previous := r.active.Swap(next)
	if previous != nil {
		return previous.Close()
	}
	return nil
}

// Close shuts down whichever resolver is currently active.
func (r *ReloadableCustomDNSResolver) Close() error {
	if current := r.active.Load(); current != nil {
		return current.Close()
	}
	return nil
}

// IsEmpty reports whether there is no active resolver, or the active
// resolver has no entries configured.
func (r *ReloadableCustomDNSResolver) IsEmpty() bool {
	current := r.active.Load()
	return current == nil || current.IsEmpty()
}

// ContainsDomain reports whether name has an override in the active resolver.
func (r *ReloadableCustomDNSResolver) ContainsDomain(name string) bool {
	current := r.active.Load()
	return current != nil && current.ContainsDomain(name)
}

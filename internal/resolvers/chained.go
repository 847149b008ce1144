package resolvers

import (
	"context"
	"errors"

	"github.com/atlasdns/atlas/internal/dns"
)

// ErrChainExhausted is returned when every stage of a Chained resolver
// declined or failed to answer a query and none of them reported a
// more specific error.
var ErrChainExhausted = errors.New("resolver pipeline exhausted without an answer")

// Chained wires several Resolver stages into a single pipeline, walking
// them in order until one of them produces an answer.
//
// A typical pipeline looks like:
//
//	FilteringResolver -> CustomDNSResolver -> ForwardingResolver
//
// Policy runs first so a blocked name never reaches the network; local
// overrides run next so operator-defined hosts win over the configured
// upstream; the forwarding (or recursive) stage is the fallback.
//
// A stage "wins" by returning a nil error. A stage that wants the query
// to continue down the pipeline returns an error (not necessarily a
// failure in the operational sense - FilteringResolver's pass-through
// case, for instance, delegates rather than erroring). Once every stage
// has been tried, the most recent stage error is surfaced to the caller.
type Chained struct {
	Resolvers []Resolver
}

// Resolve walks the pipeline stage by stage, returning as soon as one
// stage answers. The context is checked before each stage so a
// cancelled query doesn't keep burning pipeline stages after a caller
// has given up.
func (c *Chained) Resolve(ctx context.Context, req dns.Packet, reqBytes []byte) (Result, error) {
	var stageErr error

	for _, stage := range c.Resolvers {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		result, err := stage.Resolve(ctx, req, reqBytes)
		if err == nil {
			return result, nil
		}
		stageErr = err
	}

	if stageErr != nil {
		return Result{}, stageErr
	}
	return Result{}, ErrChainExhausted
}

// Close tears down every stage regardless of individual failures and
// reports the last one encountered, if any.
func (c *Chained) Close() error {
	var closeErr error
	for _, stage := range c.Resolvers {
		if err := stage.Close(); err != nil {
			closeErr = err
		}
	}
	return closeErr
}

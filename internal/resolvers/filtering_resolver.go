package resolvers

import (
	"context"

	"github.com/atlasdns/atlas/internal/dns"
	"github.com/atlasdns/atlas/internal/filtering"
)

// FilteringResolver sits at the head of the resolver pipeline and
// consults a filtering.PolicyEngine before any other stage sees the
// query. A blocked name short-circuits the pipeline with a synthesized
// NXDOMAIN; everything else is handed to the next stage.
//
// Placement matters: this resolver must be first in the chain, or a
// later stage (custom hosts, forwarding) could answer a name the
// policy was supposed to block.
type FilteringResolver struct {
	policy *filtering.PolicyEngine
	next   Resolver
}

// NewFilteringResolver pairs a policy engine with the downstream
// resolver that handles names the policy doesn't block.
func NewFilteringResolver(policy *filtering.PolicyEngine, next Resolver) *FilteringResolver {
	return &FilteringResolver{policy: policy, next: next}
}

// Resolve evaluates the query name against policy and either answers
// with NXDOMAIN directly (ActionBlock) or defers to the next stage
// (ActionAllow, ActionLog, or any action this resolver doesn't
// recognize - deferring is always the safe default).
func (f *FilteringResolver) Resolve(ctx context.Context, req dns.Packet, reqBytes []byte) (Result, error) {
	if len(req.Questions) == 0 {
		return f.next.Resolve(ctx, req, reqBytes)
	}

	decision := f.policy.Evaluate(req.Questions[0].Name)
	if decision.Action != filtering.ActionBlock {
		return f.next.Resolve(ctx, req, reqBytes)
	}

	blocked := nxdomainResponse(req)
	respBytes, err := blocked.Marshal()
	if err != nil {
		return Result{}, err
	}
	return Result{ResponseBytes: respBytes, Source: "filtered-blocked"}, nil
}

// Close shuts down the policy engine and the downstream resolver.
func (f *FilteringResolver) Close() error {
	var err error
	if f.policy != nil {
		err = f.policy.Close()
	}
	if f.next != nil {
		if nextErr := f.next.Close(); nextErr != nil && err == nil {
			err = nextErr
		}
	}
	return err
}

// Policy exposes the underlying policy engine for stats and admin use.
func (f *FilteringResolver) Policy() *filtering.PolicyEngine {
	return f.policy
}

// nxdomainResponse builds the NXDOMAIN reply sent for a blocked query:
// the original question echoed back, no answer/authority/additional
// records, and response flags derived from the request.
func nxdomainResponse(req dns.Packet) dns.Packet {
	return dns.Packet{
		Header: dns.Header{
			ID:    req.Header.ID,
			Flags: nxdomainFlags(req.Header.Flags),
		},
		Questions: req.Questions,
	}
}

// nxdomainFlags sets QR and RCODE=NXDOMAIN, preserves the request's
// opcode, and mirrors RD into RA when the client asked for recursion -
// the block decision was made recursively on the client's behalf.
func nxdomainFlags(reqFlags uint16) uint16 {
	flags := dns.QRFlag | (reqFlags & dns.OpcodeMask)
	if reqFlags&dns.RDFlag != 0 {
		flags |= dns.RDFlag | dns.RAFlag
	}
	flags |= uint16(dns.RCodeNXDomain)
	return flags
}

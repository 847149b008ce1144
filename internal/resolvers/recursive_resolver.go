package resolvers

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/atlasdns/atlas/internal/dns"
	"github.com/atlasdns/atlas/internal/security"
)

// Recursive resolver tuning constants (spec §4.5).
const (
	maxDelegationDepth = 10
	maxCNAMEDepth      = 10
	circuitBreakerTrip = 5                // consecutive failures before opening
	circuitCooldown    = 30 * time.Second // half-open retry after this long
	queryTimeout       = 2 * time.Second
)

// serverHealth tracks RTT and circuit-breaker state for one nameserver,
// mirroring the upstream health tracking in ForwardingResolver but adding
// an EWMA of round-trip time used to prefer the fastest candidate.
type serverHealth struct {
	mu sync.Mutex

	ewmaRTT          time.Duration
	consecutiveFails int
	openedAt         time.Time
}

const ewmaAlpha = 0.3

func (h *serverHealth) recordSuccess(rtt time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveFails = 0
	if h.ewmaRTT == 0 {
		h.ewmaRTT = rtt
		return
	}
	h.ewmaRTT = time.Duration(ewmaAlpha*float64(rtt) + (1-ewmaAlpha)*float64(h.ewmaRTT))
}

func (h *serverHealth) recordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveFails++
	if h.consecutiveFails >= circuitBreakerTrip {
		h.openedAt = time.Now()
	}
}

// available reports whether the circuit breaker allows a query through: it
// is closed (healthy), or open but past its cooldown (half-open retry).
func (h *serverHealth) available() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.consecutiveFails < circuitBreakerTrip {
		return true
	}
	return time.Since(h.openedAt) >= circuitCooldown
}

func (h *serverHealth) rtt() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ewmaRTT == 0 {
		return time.Hour // unknown servers sort last, not first
	}
	return h.ewmaRTT
}

// RecursiveResolver performs iterative resolution starting from root hints,
// following delegations and resolving glueless NS names, with CNAME
// chaining and per-server circuit breakers.
type RecursiveResolver struct {
	rootHints []string

	healthMu sync.Mutex
	health   map[string]*serverHealth

	dialTimeout time.Duration
	minTTL      uint32
	maxTTL      uint32
}

// NewRecursiveResolver creates a RecursiveResolver seeded with rootHints (or
// the built-in IANA root hints if empty).
func NewRecursiveResolver(rootHints []string) *RecursiveResolver {
	if len(rootHints) == 0 {
		rootHints = RootHints
	}
	return &RecursiveResolver{
		rootHints:   rootHints,
		health:      map[string]*serverHealth{},
		dialTimeout: queryTimeout,
		minTTL:      0,
		maxTTL:      7 * 24 * 3600,
	}
}

// Close releases resources. RecursiveResolver holds none persistently.
func (r *RecursiveResolver) Close() error { return nil }

// Resolve performs the iterative walk described in spec §4.5: start at the
// root, follow delegations (preferring glue, lowest-RTT, jittered), resolve
// glueless NS names recursively, and chain through CNAMEs up to
// maxCNAMEDepth.
func (r *RecursiveResolver) Resolve(ctx context.Context, req dns.Packet, _ []byte) (Result, error) {
	if len(req.Questions) == 0 {
		return Result{}, errors.New("recursive resolve: empty question section")
	}
	q := req.Questions[0]

	answers, rcode, err := r.resolveChain(ctx, q.Name, dns.RecordType(q.Type), 0)
	if err != nil {
		return Result{}, err
	}
	r.clampAnswerTTLs(answers)

	resp := dns.Packet{
		Header: dns.Header{
			ID:      req.Header.ID,
			Flags:   dns.QRFlag | dns.RDFlag | dns.RAFlag | uint16(rcode),
			QDCount: 1,
		},
		Questions: req.Questions,
		Answers:   answers,
	}
	respBytes, err := resp.Marshal()
	if err != nil {
		return Result{}, err
	}
	return Result{ResponseBytes: respBytes, Source: "recursive"}, nil
}

// resolveChain resolves qname/qtype, following CNAMEs, up to maxCNAMEDepth.
func (r *RecursiveResolver) resolveChain(ctx context.Context, qname string, qtype dns.RecordType, cnameDepth int) ([]dns.Record, dns.RCode, error) {
	if cnameDepth > maxCNAMEDepth {
		return nil, dns.RCodeServFail, errors.New("recursive resolve: CNAME chain too deep")
	}

	answers, rcode, err := r.iterate(ctx, qname, qtype, r.rootHints, 0)
	if err != nil {
		return nil, dns.RCodeServFail, err
	}
	if rcode != dns.RCodeNoError {
		return answers, rcode, nil
	}

	// If we got a CNAME but not the final type requested, chase it.
	for _, a := range answers {
		cname, ok := a.(*dns.NameRecord)
		if !ok || cname.Type() != dns.TypeCNAME {
			continue
		}
		if qtype == dns.TypeCNAME {
			break
		}
		if hasTypeAnswer(answers, qtype) {
			break
		}
		chained, chainedRcode, err := r.resolveChain(ctx, cname.Target, qtype, cnameDepth+1)
		if err != nil {
			return answers, dns.RCodeServFail, err
		}
		answers = append(answers, chained...)
		return answers, chainedRcode, nil
	}
	return answers, rcode, nil
}

// clampAnswerTTLs bounds every answer's TTL to [minTTL, maxTTL] in place,
// per the cache-poisoning hardening contract (spec §4.4 step 7).
func (r *RecursiveResolver) clampAnswerTTLs(answers []dns.Record) {
	for _, a := range answers {
		h := a.Header()
		h.TTL = security.ClampTTL(h.TTL, r.minTTL, r.maxTTL)
		a.SetHeader(h)
	}
}

func hasTypeAnswer(answers []dns.Record, qtype dns.RecordType) bool {
	for _, a := range answers {
		if a.Type() == qtype {
			return true
		}
	}
	return false
}

// iterate walks from candidate servers toward an authoritative answer,
// following delegations up to maxDelegationDepth.
func (r *RecursiveResolver) iterate(ctx context.Context, qname string, qtype dns.RecordType, servers []string, depth int) ([]dns.Record, dns.RCode, error) {
	if depth > maxDelegationDepth {
		return nil, dns.RCodeServFail, errors.New("recursive resolve: delegation depth exceeded")
	}

	server, err := r.pickServer(servers)
	if err != nil {
		return nil, dns.RCodeServFail, err
	}

	resp, err := r.queryServer(ctx, server, qname, qtype)
	if err != nil {
		r.healthFor(server).recordFailure()
		return nil, dns.RCodeServFail, err
	}

	rcode := dns.RCodeFromFlags(resp.Header.Flags)
	if rcode == dns.RCodeNXDomain {
		return nil, rcode, nil
	}
	if len(resp.Answers) > 0 {
		return resp.Answers, dns.RCodeNoError, nil
	}

	// No answers: look for a delegation in the authority section.
	next, err := r.delegationTargets(ctx, resp)
	if err != nil || len(next) == 0 {
		// Authoritative but empty: NODATA.
		return nil, dns.RCodeNoError, nil
	}
	return r.iterate(ctx, qname, qtype, next, depth+1)
}

// delegationTargets extracts the next set of nameserver addresses to query:
// glue A records from the additional section when present, otherwise the
// delegated NS names are resolved recursively; each such lookup starts a new
// iterate walk from the root hints at depth 0 with its own depth bound.
func (r *RecursiveResolver) delegationTargets(ctx context.Context, resp dns.Packet) ([]string, error) {
	var nsNames []string
	for _, rr := range resp.Authorities {
		if rr.Type() != dns.TypeNS {
			continue
		}
		if ns, ok := rr.(*dns.NameRecord); ok {
			nsNames = append(nsNames, ns.Target)
		}
	}
	if len(nsNames) == 0 {
		return nil, nil
	}

	var glue []string
	for _, rr := range resp.Additionals {
		if rr.Type() != dns.TypeA {
			continue
		}
		ip, ok := rr.(*dns.IPRecord)
		if !ok {
			continue
		}
		for _, ns := range nsNames {
			if equalDNSNames(rr.Header().Name, ns) {
				glue = append(glue, ip.Addr.String())
			}
		}
	}
	if len(glue) > 0 {
		return glue, nil
	}

	// Glueless delegation: resolve one NS name via the same mechanism.
	for _, ns := range nsNames {
		answers, rcode, err := r.iterate(ctx, ns, dns.TypeA, r.rootHints, 0)
		if err != nil || rcode != dns.RCodeNoError {
			continue
		}
		var addrs []string
		for _, a := range answers {
			if ip, ok := a.(*dns.IPRecord); ok {
				addrs = append(addrs, ip.Addr.String())
			}
		}
		if len(addrs) > 0 {
			return addrs, nil
		}
	}
	return nil, fmt.Errorf("recursive resolve: glueless delegation to %v could not be resolved", nsNames)
}

// pickServer chooses a candidate with the breaker closed, preferring the
// lowest EWMA RTT with light jitter so ties (and near-ties) don't pin all
// traffic to a single server.
func (r *RecursiveResolver) pickServer(servers []string) (string, error) {
	type candidate struct {
		addr string
		rtt  time.Duration
	}
	var available []candidate
	for _, s := range servers {
		if r.healthFor(s).available() {
			available = append(available, candidate{addr: s, rtt: r.healthFor(s).rtt()})
		}
	}
	if len(available) == 0 {
		// All breakers open: try anyway with the first configured server
		// rather than failing the query outright.
		if len(servers) > 0 {
			return servers[0], nil
		}
		return "", errors.New("recursive resolve: no candidate nameservers")
	}

	best := available[0]
	for _, c := range available[1:] {
		jitter := jitterFraction()
		if float64(c.rtt)*(1-jitter) < float64(best.rtt) {
			best = c
		}
	}
	return best.addr, nil
}

// jitterFraction returns a small random fraction in [0, 0.1) used to avoid
// always picking the exact same "lowest RTT" server under ties.
func jitterFraction() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	if err != nil {
		return 0
	}
	return float64(n.Int64()) / 10000.0
}

func (r *RecursiveResolver) healthFor(server string) *serverHealth {
	r.healthMu.Lock()
	defer r.healthMu.Unlock()
	h, ok := r.health[server]
	if !ok {
		h = &serverHealth{}
		r.health[server] = h
	}
	return h
}

// queryServer sends a single 0x20-mixed UDP query to server and validates
// the response: random txid and source port, bounded response window, txid
// match and 0x20 casing match. Record owners in the response are not checked
// against a bailiwick.
func (r *RecursiveResolver) queryServer(ctx context.Context, server, qname string, qtype dns.RecordType) (dns.Packet, error) {
	mixed := security.Mix0x20(qname)
	txid := security.RandomTransactionID()

	req := dns.Packet{
		Header:    dns.Header{ID: txid, Flags: 0, QDCount: 1},
		Questions: []dns.Question{{Name: mixed, Type: uint16(qtype), Class: uint16(dns.ClassIN)}},
	}
	reqBytes, err := req.Marshal()
	if err != nil {
		return dns.Packet{}, err
	}

	start := time.Now()
	respBytes, err := r.sendUDP(ctx, server, reqBytes)
	if err != nil {
		return dns.Packet{}, err
	}
	rtt := time.Since(start)

	resp, err := dns.ParsePacket(respBytes)
	if err != nil {
		return dns.Packet{}, fmt.Errorf("recursive resolve: malformed response from %s: %w", server, err)
	}
	if resp.Header.ID != txid {
		return dns.Packet{}, fmt.Errorf("recursive resolve: txid mismatch from %s", server)
	}
	if len(resp.Questions) == 0 || !security.CaseMatches(mixed, resp.Questions[0].Name) {
		return dns.Packet{}, fmt.Errorf("recursive resolve: 0x20 casing mismatch from %s", server)
	}

	r.healthFor(server).recordSuccess(rtt)
	return resp, nil
}

// sendUDP sends reqBytes to server:53 from a random ephemeral source port
// and waits up to a bounded window for the response.
func (r *RecursiveResolver) sendUDP(ctx context.Context, server string, reqBytes []byte) ([]byte, error) {
	srcPort := security.RandomSourcePort()
	localAddr := &net.UDPAddr{Port: srcPort}
	remoteAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(server, "53"))
	if err != nil {
		return nil, err
	}

	conn, err := net.DialUDP("udp", localAddr, remoteAddr)
	if err != nil {
		// Ephemeral port may be taken; fall back to OS-assigned port.
		conn, err = net.DialUDP("udp", nil, remoteAddr)
		if err != nil {
			return nil, err
		}
	}
	defer conn.Close()

	deadline := time.Now().Add(r.dialTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	if _, err := conn.Write(reqBytes); err != nil {
		return nil, err
	}

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n:n], nil
}

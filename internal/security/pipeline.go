package security

import (
	"strings"
	"time"

	"github.com/atlasdns/atlas/internal/dns"
	"github.com/atlasdns/atlas/internal/ratelimit"
)

// Outcome is the result of running a query through the pipeline.
type Outcome int

const (
	// Pass means the query may proceed to the resolver.
	Pass Outcome = iota
	// RejectFormErr means the query was malformed.
	RejectFormErr
	// RejectRefused means the query is refused by policy (ban, rate limit).
	RejectRefused
	// RejectTruncate means the caller should set TC=1 and force TCP.
	RejectTruncate
)

// MaxUDPSizeDefault and MaxTCPSizeDefault are the default pre-parse size
// caps; UDP may be raised per-session once EDNS has been negotiated.
const (
	MaxUDPSizeDefault = 512
	MaxTCPSizeDefault = 4096

	maxQuestions  = 1
	maxNameLength = 253
	maxLabelLen   = 63
)

// amplificationProne lists qtypes whose answers tend to be large relative to
// the query, making them attractive for reflection amplification.
var amplificationProne = map[dns.RecordType]bool{
	dns.TypeTXT:    true,
	dns.TypeANY:    true,
	dns.TypeRRSIG:  true,
	dns.TypeDNSKEY: true,
}

// Pipeline wires the reputation store and rate limiter into the ordered
// admission checks.
type Pipeline struct {
	Reputation  *ReputationStore
	RateLimiter *ratelimit.Limiter
}

// New builds a Pipeline with default-configured collaborators.
func New() *Pipeline {
	return &Pipeline{
		Reputation:  NewReputationStore(DefaultReputationConfig()),
		RateLimiter: ratelimit.New(ratelimit.DefaultConfig()),
	}
}

// CheckSize enforces the pre-parse packet size limit (step 1). Oversize
// packets strike the client's reputation.
func (p *Pipeline) CheckSize(clientIP string, size int, isTCP bool, ednsNegotiated bool) Outcome {
	limit := MaxUDPSizeDefault
	if isTCP {
		limit = MaxTCPSizeDefault
	} else if ednsNegotiated {
		limit = MaxTCPSizeDefault
	}
	if size <= limit {
		return Pass
	}
	p.Reputation.Strike(clientIP)
	return RejectFormErr
}

// CheckContent enforces post-parse content limits (step 2).
func CheckContent(questionCount int, qname string) Outcome {
	if questionCount > maxQuestions {
		return RejectFormErr
	}
	name := strings.TrimSuffix(qname, ".")
	if len(name) > maxNameLength {
		return RejectFormErr
	}
	for _, label := range strings.Split(name, ".") {
		if len(label) > maxLabelLen {
			return RejectFormErr
		}
	}
	return Pass
}

// CheckBan enforces the ban check (step 3).
func (p *Pipeline) CheckBan(clientIP string) Outcome {
	if p.Reputation.IsBanned(clientIP) {
		return RejectRefused
	}
	return Pass
}

// CheckRateLimit enforces the rate limit (step 4) and applies a small
// reputation penalty on rejection.
func (p *Pipeline) CheckRateLimit(clientIP string) (Outcome, time.Duration) {
	res := p.RateLimiter.Check(clientIP)
	if res.Verdict == ratelimit.Limited {
		p.Reputation.Penalize(clientIP, -0.05)
		return RejectRefused, res.RetryAfter
	}
	p.RateLimiter.Record(clientIP)
	return Pass, 0
}

// CheckAmplification enforces the amplification check (step 5).
func CheckAmplification(qtype dns.RecordType, qname string, ednsOffered bool) Outcome {
	if ednsOffered {
		return Pass
	}
	if !amplificationProne[qtype] {
		return Pass
	}
	if len(strings.TrimSuffix(qname, ".")) < 10 {
		return RejectTruncate
	}
	return Pass
}

// CheckDDoS runs the DDoS pattern detectors (step 6) and applies their
// reputation penalties. Returns RejectRefused if the client crosses the
// suspicion threshold as a result.
func (p *Pipeline) CheckDDoS(clientIP, qname string, gotNXDOMAIN bool) Outcome {
	labels := strings.Split(strings.TrimSuffix(qname, "."), ".")
	for _, d := range Classify(labels) {
		p.Reputation.Penalize(clientIP, d.Penalty)
	}
	if gotNXDOMAIN {
		if d, ok := DetectNXDOMAINFlood(p.Reputation.RecordNXDOMAIN(clientIP)); ok {
			p.Reputation.Penalize(clientIP, d.Penalty)
		}
	}
	if p.Reputation.IsBanned(clientIP) {
		return RejectRefused
	}
	return Pass
}

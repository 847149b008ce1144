// Package security implements the per-query admission pipeline: size and
// content limits, ban enforcement, DDoS pattern detection, and the
// cache-poisoning hardening applied to outbound queries.
package security

import (
	"hash/fnv"
	"sync"
	"time"
)

// SuspicionThreshold is the reputation score below which a client is banned.
const SuspicionThreshold = 0.7

// clientState tracks a single client's strikes, NXDOMAIN history, and
// reputation score.
type clientState struct {
	mu sync.Mutex

	reputation float64
	bannedTil  time.Time

	strikes       []time.Time
	nxdomainTimes []time.Time
}

func newClientState() *clientState {
	return &clientState{reputation: 1.0}
}

type repShard struct {
	mu      sync.Mutex
	clients map[string]*clientState
}

// ReputationStore tracks per-client reputation, strikes, and bans. It is
// sharded by client IP hash so that unrelated clients never contend on the
// same lock.
type ReputationStore struct {
	shards []*repShard

	strikeWindow  time.Duration
	strikeLimit   int
	banDuration   time.Duration
	nxWindow      time.Duration
	nxFloodLimit  int
}

// ReputationConfig configures strike thresholds and ban duration.
type ReputationConfig struct {
	StrikeWindow time.Duration // default 5 minutes
	StrikeLimit  int           // default 3
	BanDuration  time.Duration // default configured duration
	NXWindow     time.Duration // default 10s
	NXFloodLimit int           // default 20
	Shards       int
}

// DefaultReputationConfig matches the documented defaults.
func DefaultReputationConfig() ReputationConfig {
	return ReputationConfig{
		StrikeWindow: 5 * time.Minute,
		StrikeLimit:  3,
		BanDuration:  10 * time.Minute,
		NXWindow:     10 * time.Second,
		NXFloodLimit: 20,
		Shards:       32,
	}
}

// NewReputationStore builds a store from cfg, filling zero fields from
// DefaultReputationConfig.
func NewReputationStore(cfg ReputationConfig) *ReputationStore {
	d := DefaultReputationConfig()
	if cfg.StrikeWindow <= 0 {
		cfg.StrikeWindow = d.StrikeWindow
	}
	if cfg.StrikeLimit <= 0 {
		cfg.StrikeLimit = d.StrikeLimit
	}
	if cfg.BanDuration <= 0 {
		cfg.BanDuration = d.BanDuration
	}
	if cfg.NXWindow <= 0 {
		cfg.NXWindow = d.NXWindow
	}
	if cfg.NXFloodLimit <= 0 {
		cfg.NXFloodLimit = d.NXFloodLimit
	}
	if cfg.Shards <= 0 {
		cfg.Shards = d.Shards
	}

	shards := make([]*repShard, cfg.Shards)
	for i := range shards {
		shards[i] = &repShard{clients: make(map[string]*clientState)}
	}

	return &ReputationStore{
		shards:       shards,
		strikeWindow: cfg.StrikeWindow,
		strikeLimit:  cfg.StrikeLimit,
		banDuration:  cfg.BanDuration,
		nxWindow:     cfg.NXWindow,
		nxFloodLimit: cfg.NXFloodLimit,
	}
}

func (s *ReputationStore) shardFor(clientIP string) *repShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(clientIP))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

func (s *ReputationStore) stateFor(clientIP string) *clientState {
	sh := s.shardFor(clientIP)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	cs, ok := sh.clients[clientIP]
	if !ok {
		cs = newClientState()
		sh.clients[clientIP] = cs
	}
	return cs
}

// IsBanned reports whether clientIP is currently under an active ban.
func (s *ReputationStore) IsBanned(clientIP string) bool {
	cs := s.stateFor(clientIP)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return time.Now().Before(cs.bannedTil)
}

// Strike records an oversize-packet strike against clientIP. If the client
// has accumulated StrikeLimit strikes within StrikeWindow, it is banned for
// BanDuration.
func (s *ReputationStore) Strike(clientIP string) {
	now := time.Now()
	cs := s.stateFor(clientIP)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.strikes = pruneOlderThan(cs.strikes, now.Add(-s.strikeWindow))
	cs.strikes = append(cs.strikes, now)
	if len(cs.strikes) >= s.strikeLimit {
		cs.bannedTil = now.Add(s.banDuration)
	}
}

// RecordNXDOMAIN notes an NXDOMAIN response delivered to clientIP and
// returns true if the client has crossed the NXDOMAIN-flood threshold.
func (s *ReputationStore) RecordNXDOMAIN(clientIP string) bool {
	now := time.Now()
	cs := s.stateFor(clientIP)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.nxdomainTimes = pruneOlderThan(cs.nxdomainTimes, now.Add(-s.nxWindow))
	cs.nxdomainTimes = append(cs.nxdomainTimes, now)
	return len(cs.nxdomainTimes) > s.nxFloodLimit
}

// Penalize applies delta (negative to punish, e.g. rate-limit rejection) to
// the client's reputation, banning the client if it drops below
// SuspicionThreshold.
func (s *ReputationStore) Penalize(clientIP string, delta float64) {
	now := time.Now()
	cs := s.stateFor(clientIP)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.reputation += delta
	if cs.reputation > 1.0 {
		cs.reputation = 1.0
	}
	if cs.reputation < 0 {
		cs.reputation = 0
	}
	if cs.reputation < SuspicionThreshold {
		cs.bannedTil = now.Add(s.banDuration)
	}
}

// Reputation returns the client's current reputation score, for
// observability.
func (s *ReputationStore) Reputation(clientIP string) float64 {
	cs := s.stateFor(clientIP)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.reputation
}

func pruneOlderThan(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// Package handlers implements the REST API endpoint handlers for Atlas.
//
// @title Atlas Management API
// @version 1.0
// @description REST API for managing Atlas server configuration, zones, and filtering.
//
// @contact.name Atlas Support
// @contact.url https://github.com/atlasdns/atlas
//
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
//
// @host localhost:8080
// @BasePath /api/v1
//
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
package handlers

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atlasdns/atlas/internal/cluster"
	"github.com/atlasdns/atlas/internal/config"
	"github.com/atlasdns/atlas/internal/database"
	"github.com/atlasdns/atlas/internal/filtering"
	"github.com/atlasdns/atlas/internal/zone"
)

// Handler contains dependencies for API handlers.
type Handler struct {
	cfg       *config.Config
	db        *database.DB
	logger    *slog.Logger
	startTime time.Time

	// Runtime components (set after server starts)
	policyEngine  *filtering.PolicyEngine
	zones         []*zone.Zone
	clusterSyncer *cluster.Syncer
	dnsStatsFunc  func() DNSStatsSnapshot

	// customDNSReloadFunc, if set, is invoked after a custom DNS host/CNAME
	// mutation so the live resolver chain picks up the change.
	customDNSReloadFunc func() error

	mu sync.RWMutex
}

// DNSStatsSnapshot is a point-in-time snapshot of DNS server statistics,
// decoupled from the internal/server collector so handlers don't import it.
type DNSStatsSnapshot struct {
	QueriesTotal uint64
	QueriesUDP   uint64
	QueriesTCP   uint64
	ResponsesNX  uint64
	ResponsesErr uint64
	AvgLatencyMs float64
}

// New creates a new Handler with the given configuration. db may be nil,
// in which case endpoints backed by persistent storage (filtering lists,
// blocklists, cluster config) return errors instead of panicking.
func New(cfg *config.Config, db *database.DB, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		db:        db,
		logger:    logger,
		startTime: time.Now(),
	}
}

// SetPolicyEngine sets the filtering policy engine for runtime access.
func (h *Handler) SetPolicyEngine(pe *filtering.PolicyEngine) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.policyEngine = pe
}

// SetZones sets the loaded zones for runtime access.
func (h *Handler) SetZones(zones []*zone.Zone) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.zones = zones
}

// SetClusterSyncer sets the active secondary-node config syncer for runtime
// access (status reporting, forced sync, stop-on-reconfigure). Nil clears it.
func (h *Handler) SetClusterSyncer(syncer *cluster.Syncer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clusterSyncer = syncer
}

// GetPolicyEngine returns the active filtering policy engine, or nil if one
// has not been wired up yet.
func (h *Handler) GetPolicyEngine() *filtering.PolicyEngine {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.policyEngine
}

// SetDNSStatsFunc wires a callback the handler uses to fetch a live DNS
// statistics snapshot for the /stats endpoint.
func (h *Handler) SetDNSStatsFunc(fn func() DNSStatsSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dnsStatsFunc = fn
}

// GetDNSStatsFunc returns the wired DNS statistics callback, or nil.
func (h *Handler) GetDNSStatsFunc() func() DNSStatsSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dnsStatsFunc
}

// SetCustomDNSReloadFunc wires the callback invoked after a custom DNS
// host/CNAME record is added, updated, or deleted through the API.
func (h *Handler) SetCustomDNSReloadFunc(fn func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.customDNSReloadFunc = fn
}

// formatRData converts zone record RData to a display string.
func formatRData(rdata any) string {
	if rdata == nil {
		return ""
	}
	return fmt.Sprintf("%v", rdata)
}

// formatRecordType converts a DNS record type to its name.
func formatRecordType(t uint16) string {
	switch t {
	case 1:
		return "A"
	case 2:
		return "NS"
	case 5:
		return "CNAME"
	case 6:
		return "SOA"
	case 12:
		return "PTR"
	case 15:
		return "MX"
	case 16:
		return "TXT"
	case 28:
		return "AAAA"
	default:
		return fmt.Sprintf("TYPE%d", t)
	}
}

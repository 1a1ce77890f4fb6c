package internal

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

type Metrics struct {
	registrations   atomic.Uint64
	logins          atomic.Uint64
	federatedLogins atomic.Uint64
	failedLogins    atomic.Uint64
	rateLimited     atomic.Uint64
	activeConns     atomic.Int64
	onlineUsers     atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncRegistration() {
	m.registrations.Add(1)
}

func (m *Metrics) IncLogin() {
	m.logins.Add(1)
}

func (m *Metrics) IncFederatedLogin() {
	m.federatedLogins.Add(1)
}

func (m *Metrics) IncFailedLogin() {
	m.failedLogins.Add(1)
}

func (m *Metrics) IncRateLimited() {
	m.rateLimited.Add(1)
}

// SetPresence records the hub's current listener and distinct-user counts.
func (m *Metrics) SetPresence(conns, online int) {
	m.activeConns.Store(int64(conns))
	m.onlineUsers.Store(int64(online))
}

// OnlineUsers is the last count reported by the hub.
func (m *Metrics) OnlineUsers() int64 {
	return m.onlineUsers.Load()
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"registrations_total":    m.registrations.Load(),
		"logins_total":           m.logins.Load(),
		"federated_logins_total": m.federatedLogins.Load(),
		"failed_logins_total":    m.failedLogins.Load(),
		"rate_limited_total":     m.rateLimited.Load(),
		"active_connections":     m.activeConns.Load(),
		"online_users":           m.onlineUsers.Load(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

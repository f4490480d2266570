package health

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"perp-ledger/internal/httputil"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pinger is a dependency that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Counter reports a monotonically growing number, like dropped bus events.
type Counter func() uint64

type Handler struct {
	startedAt time.Time
	checks    map[string]Pinger
	dropped   Counter
	now       func() time.Time
}

// NewHandler builds the health endpoints. pool may be nil when the memory
// store is in use.
func NewHandler(startedAt time.Time, pool *pgxpool.Pool, dropped Counter) *Handler {
	start := startedAt.UTC()
	if start.IsZero() {
		start = time.Now().UTC()
	}
	h := &Handler{startedAt: start, checks: map[string]Pinger{}, dropped: dropped, now: time.Now}
	if pool != nil {
		h.checks["postgres"] = pool
	}
	return h
}

// Check registers another dependency for the readiness probe.
func (h *Handler) Check(name string, p Pinger) {
	if p != nil {
		h.checks[name] = p
	}
}

type liveResponse struct {
	Status        string `json:"status"`
	Timestamp     string `json:"timestamp"`
	UptimeSec     int64  `json:"uptime_sec"`
	Goroutines    int    `json:"goroutines"`
	DroppedEvents uint64 `json:"dropped_events"`
}

type dependency struct {
	Name      string `json:"name"`
	Reachable bool   `json:"reachable"`
	PingMs    int64  `json:"ping_ms"`
	Error     string `json:"error,omitempty"`
}

type readyResponse struct {
	Status       string       `json:"status"`
	Timestamp    string       `json:"timestamp"`
	Dependencies []dependency `json:"dependencies"`
}

func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	uptime := now.Sub(h.startedAt)
	if uptime < 0 {
		uptime = 0
	}
	resp := liveResponse{
		Status:     "ok",
		Timestamp:  now.Format(time.RFC3339),
		UptimeSec:  int64(uptime.Seconds()),
		Goroutines: runtime.NumGoroutine(),
	}
	if h.dropped != nil {
		resp.DroppedEvents = h.dropped()
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// Ready pings every registered dependency and answers 503 if any is down.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := readyResponse{Status: "ready", Timestamp: h.now().UTC().Format(time.RFC3339), Dependencies: []dependency{}}
	status := http.StatusOK
	for _, name := range names {
		start := time.Now()
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		err := h.checks[name].Ping(ctx)
		cancel()
		dep := dependency{Name: name, Reachable: err == nil, PingMs: time.Since(start).Milliseconds()}
		if err != nil {
			dep.Error = err.Error()
			resp.Status = "not_ready"
			status = http.StatusServiceUnavailable
		}
		resp.Dependencies = append(resp.Dependencies, dep)
	}
	httputil.WriteJSON(w, status, resp)
}

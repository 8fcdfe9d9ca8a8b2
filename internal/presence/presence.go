// ABOUTME: AFK presence gate controlling whether agent-to-human notifications are delivered.
// ABOUTME: File-backed flag with lazy auto-expiry; persistence is best-effort and never fails a caller.

package presence

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// state is the persisted AFK record. One record per host, keyed implicitly
// by the state file path.
type state struct {
	Active          bool      `json:"is_active"`
	Reason          string    `json:"reason,omitempty"`
	Since           time.Time `json:"since"`
	AutoReturnHours float64   `json:"auto_return_hours,omitempty"`
}

// Status is the derived view returned by Gate.Status.
type Status struct {
	Active            bool
	Reason            string
	Since             time.Time
	DurationHours     float64 // hours since activation, when active
	AutoReturnHours   float64 // configured auto-return window, when armed
	AutoReturnInHours float64 // hours remaining before auto-return, when armed
}

// Gate is the single source of truth for whether the human operator is away.
// Writes are last-write-wins across processes sharing the state file; a read
// that races a write falls back to defaults rather than failing.
type Gate struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewGate creates a presence gate backed by the given state file.
func NewGate(path string, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		path:   path,
		logger: logger.With("component", "presence"),
		now:    time.Now,
	}
}

// Activate marks the operator away. reason is free text; autoReturnHours of
// zero means no automatic return. Always succeeds: a failed save is logged
// and discarded, presence tracking must never block a caller.
func (g *Gate) Activate(reason string, autoReturnHours float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.save(state{
		Active:          true,
		Reason:          reason,
		Since:           g.now(),
		AutoReturnHours: autoReturnHours,
	})
	g.logger.Info("AFK activated", "reason", reason, "auto_return_hours", autoReturnHours)
}

// Deactivate resets to the default inactive state. Returns whether the gate
// was active; deactivating an inactive gate still succeeds.
func (g *Gate) Deactivate() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.load()
	wasActive := st.Active

	g.save(state{})
	if wasActive {
		g.logger.Info("AFK deactivated")
	}
	return wasActive
}

// Toggle deactivates when active, activates otherwise.
// Returns the resulting active state.
func (g *Gate) Toggle(reason string, autoReturnHours float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.load()
	if st.Active {
		g.save(state{})
		g.logger.Info("AFK deactivated")
		return false
	}

	g.save(state{
		Active:          true,
		Reason:          reason,
		Since:           g.now(),
		AutoReturnHours: autoReturnHours,
	})
	g.logger.Info("AFK activated", "reason", reason, "auto_return_hours", autoReturnHours)
	return true
}

// IsActive reports the current state. The auto-expiry check runs on every
// read: there is no background timer, so an elapsed auto-return window is
// applied lazily here, persisting the deactivation.
func (g *Gate) IsActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.loadChecked().Active
}

// Status returns the current state with derived durations.
func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.loadChecked()
	s := Status{
		Active:          st.Active,
		Reason:          st.Reason,
		Since:           st.Since,
		AutoReturnHours: st.AutoReturnHours,
	}
	if !st.Active {
		return s
	}

	elapsed := g.now().Sub(st.Since).Hours()
	s.DurationHours = elapsed
	if st.AutoReturnHours > 0 {
		s.AutoReturnInHours = st.AutoReturnHours - elapsed
	}
	return s
}

// loadChecked loads the state and applies lazy auto-expiry. Must be called
// with mu held.
func (g *Gate) loadChecked() state {
	st := g.load()
	if !st.Active || st.AutoReturnHours <= 0 {
		return st
	}

	deadline := st.Since.Add(time.Duration(st.AutoReturnHours * float64(time.Hour)))
	if g.now().After(deadline) {
		g.save(state{})
		g.logger.Info("AFK auto-expired", "since", st.Since, "auto_return_hours", st.AutoReturnHours)
		return state{}
	}
	return st
}

// load reads the persisted state, falling back to defaults on any failure.
func (g *Gate) load() state {
	data, err := os.ReadFile(g.path)
	if err != nil {
		return state{}
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		g.logger.Warn("unreadable AFK state, using defaults", "path", g.path, "error", err)
		return state{}
	}
	return st
}

// save persists the state best-effort. Failures are logged and discarded.
func (g *Gate) save(st state) {
	if err := os.MkdirAll(filepath.Dir(g.path), 0755); err != nil {
		g.logger.Warn("failed to create AFK state directory", "error", err)
		return
	}

	data, err := json.Marshal(st)
	if err != nil {
		g.logger.Warn("failed to encode AFK state", "error", err)
		return
	}

	if err := os.WriteFile(g.path, data, 0644); err != nil {
		g.logger.Warn("failed to save AFK state", "error", err)
	}
}

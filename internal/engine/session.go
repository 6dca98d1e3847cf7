package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/quantpulse/trading-engine/internal/observ"
)

// Session aggregates one trading day's activity. Exactly one session is
// active at a time; the learning loop finalizes its episode when the session
// ends.
type Session struct {
	SessionID          string    `json:"session_id"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time,omitempty"`
	TradesExecuted     int       `json:"trades_executed"`
	TotalPnL           float64   `json:"total_pnl"`
	MaxDrawdown        float64   `json:"max_drawdown"`
	Predictions        int       `json:"predictions"`
	CorrectPredictions int       `json:"correct_predictions"`
}

// Accuracy is the session's realized hit rate, 0 with no predictions.
func (s Session) Accuracy() float64 {
	if s.Predictions == 0 {
		return 0
	}
	return float64(s.CorrectPredictions) / float64(s.Predictions)
}

// SessionManager owns the active session.
type SessionManager struct {
	mu     sync.Mutex
	active *Session
}

func NewSessionManager() *SessionManager {
	return &SessionManager{}
}

// Start opens a new session, ending any session still active.
func (m *SessionManager) Start(now time.Time) Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		m.endLocked(now)
	}
	m.active = &Session{
		SessionID: fmt.Sprintf("sess-%s", now.UTC().Format("20060102-150405")),
		StartTime: now,
	}
	observ.Log("session_started", map[string]any{"session_id": m.active.SessionID})
	return *m.active
}

// End closes the active session and returns its final snapshot.
func (m *SessionManager) End(now time.Time) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return Session{}, false
	}
	s := m.endLocked(now)
	return s, true
}

func (m *SessionManager) endLocked(now time.Time) Session {
	m.active.EndTime = now
	s := *m.active
	m.active = nil
	observ.Log("session_ended", map[string]any{
		"session_id": s.SessionID, "trades": s.TradesExecuted,
		"pnl": s.TotalPnL, "accuracy": s.Accuracy(),
	})
	return s
}

// Active returns a snapshot of the current session.
func (m *SessionManager) Active() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return Session{}, false
	}
	return *m.active, true
}

// RecordTrade books an executed trade against the active session.
func (m *SessionManager) RecordTrade() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		m.active.TradesExecuted++
	}
}

// RecordOutcome books a closed trade's P&L and prediction result.
func (m *SessionManager) RecordOutcome(pnl float64, correct bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return
	}
	m.active.TotalPnL += pnl
	m.active.Predictions++
	if correct {
		m.active.CorrectPredictions++
	}
}

// ObserveDrawdown keeps the session's worst drawdown.
func (m *SessionManager) ObserveDrawdown(dd float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && dd > m.active.MaxDrawdown {
		m.active.MaxDrawdown = dd
	}
}

package playbook

import (
	"context"
	"sync"
	"time"

	"guardbot/internal/modules/audit"
	"guardbot/internal/utils"
)

// State is a snapshot of a community's raid lockdown.
type State struct {
	Lockdown bool
	Since    time.Time
	Reason   string
}

// Engine holds per-community lockdown flags. Lockdown never expires on its
// own; an operator clears it.
type Engine struct {
	mu     sync.RWMutex
	clock  utils.Clock
	audit  *audit.Logger
	states map[string]*State
}

func New(auditLogger *audit.Logger) *Engine {
	return &Engine{
		clock:  utils.RealClock(),
		audit:  auditLogger,
		states: make(map[string]*State),
	}
}

func (e *Engine) WithClock(clock utils.Clock) {
	e.clock = clock
}

// TriggerLockdown reports whether this call activated the lockdown. The
// caller records the activation with its evidence.
func (e *Engine) TriggerLockdown(_ context.Context, guildID, reason string) bool {
	e.mu.Lock()
	state := e.stateLocked(guildID)
	if state.Lockdown {
		e.mu.Unlock()
		return false
	}
	state.Lockdown = true
	state.Since = e.clock.Now()
	state.Reason = reason
	e.mu.Unlock()
	return true
}

// ClearLockdown unsets the flag. Roles already granted stay in place.
func (e *Engine) ClearLockdown(ctx context.Context, guildID string) bool {
	e.mu.Lock()
	state := e.states[guildID]
	if state == nil || !state.Lockdown {
		e.mu.Unlock()
		return false
	}
	*state = State{}
	e.mu.Unlock()

	e.audit.Log(ctx, audit.LevelInfo, guildID, "", audit.EventRaidCleared, "lockdown cleared by operator")
	return true
}

func (e *Engine) IsLockdown(guildID string) State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	state := e.states[guildID]
	if state == nil {
		return State{}
	}
	return *state
}

func (e *Engine) stateLocked(guildID string) *State {
	state := e.states[guildID]
	if state == nil {
		state = &State{}
		e.states[guildID] = state
	}
	return state
}

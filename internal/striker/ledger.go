package striker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// schedulerTick is how often the rollback scheduler scans the ledger
const schedulerTick = 30 * time.Second

// RollbackEntry records how to reverse a completed action
type RollbackEntry struct {
	ActionID           string                 `json:"action_id"`
	ActionType         string                 `json:"action_type"`
	RollbackActionType string                 `json:"rollback_action_type"`
	RollbackParams     map[string]interface{} `json:"rollback_params"`
	RegisteredAt       time.Time              `json:"registered_at"`
	AutoRollbackAt     *time.Time             `json:"auto_rollback_at,omitempty"`
	RolledBack         bool                   `json:"rolled_back"`
}

// RollbackPublisher emits the synthetic rollback action
type RollbackPublisher func(entry *RollbackEntry)

// Ledger is the in-memory record of reversible actions. Owned by one
// Striker; the scheduler loop and the action handler both go through its
// lock.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*RollbackEntry
	publish RollbackPublisher
	log     zerolog.Logger
	now     func() time.Time

	stop chan struct{}
	done chan struct{}
}

// NewLedger creates an empty rollback ledger
func NewLedger(publish RollbackPublisher, log zerolog.Logger) *Ledger {
	return &Ledger{
		entries: make(map[string]*RollbackEntry),
		publish: publish,
		log:     log.With().Str("service", "rollback_manager").Logger(),
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// SetClock overrides the ledger's time source. Tests only.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Register records a rollback entry for a completed action. autoAfter zero
// means the rollback waits for an operator.
func (l *Ledger) Register(actionID, actionType, rollbackType string, rollbackParams map[string]interface{}, autoAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := &RollbackEntry{
		ActionID:           actionID,
		ActionType:         actionType,
		RollbackActionType: rollbackType,
		RollbackParams:     rollbackParams,
		RegisteredAt:       l.now().UTC(),
	}
	if autoAfter > 0 {
		at := entry.RegisteredAt.Add(autoAfter)
		entry.AutoRollbackAt = &at
	}
	l.entries[actionID] = entry

	evt := l.log.Info().
		Str("action_id", actionID).
		Str("rollback_type", rollbackType)
	if autoAfter > 0 {
		evt = evt.Dur("auto_after", autoAfter)
	}
	evt.Msg("Rollback registered")
}

// Get returns a copy of the entry for an action, or nil
func (l *Ledger) Get(actionID string) *RollbackEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[actionID]
	if !ok {
		return nil
	}
	copied := *entry
	return &copied
}

// MarkRolledBack flags an entry so the scheduler never re-fires it
func (l *Ledger) MarkRolledBack(actionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.entries[actionID]; ok {
		entry.RolledBack = true
	}
}

// Pending returns copies of every not-yet-rolled-back entry. Shutdown uses
// it to flush the ledger into the final status report.
func (l *Ledger) Pending() []RollbackEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []RollbackEntry
	for _, entry := range l.entries {
		if !entry.RolledBack {
			out = append(out, *entry)
		}
	}
	return out
}

// Start launches the rollback scheduler loop
func (l *Ledger) Start() {
	go l.loop()
	l.log.Info().Msg("Rollback scheduler started")
}

// Stop terminates the scheduler loop
func (l *Ledger) Stop() {
	close(l.stop)
	<-l.done
	l.log.Info().Msg("Rollback scheduler stopped")
}

func (l *Ledger) loop() {
	defer close(l.done)
	ticker := time.NewTicker(schedulerTick)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// Sweep fires the rollback for every entry whose deadline has passed. Each
// entry fires exactly once: it is marked rolled back before publishing.
func (l *Ledger) Sweep() {
	l.mu.Lock()
	var due []*RollbackEntry
	now := l.now()
	for _, entry := range l.entries {
		if entry.RolledBack || entry.AutoRollbackAt == nil {
			continue
		}
		if !now.Before(*entry.AutoRollbackAt) {
			entry.RolledBack = true
			copied := *entry
			due = append(due, &copied)
		}
	}
	l.mu.Unlock()

	for _, entry := range due {
		l.log.Info().Str("action_id", entry.ActionID).Msg("Auto-rollback triggered")
		l.publish(entry)
	}
}

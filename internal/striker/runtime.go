package striker

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yasasalwis/Naga-7/internal/agentruntime"
	"github.com/yasasalwis/Naga-7/internal/bus"
	"github.com/yasasalwis/Naga-7/internal/domain"
	"github.com/yasasalwis/Naga-7/internal/wire"
)

// BusConn is the slice of the bus client the runtime uses
type BusConn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler bus.Handler) error
	QueueSubscribe(subject, queue string, handler bus.Handler) error
}

// Runtime receives actions off the bus and drives them through allowlist
// check, defaults merge, pre/post evidence capture, execution, rollback
// registration, and status reporting.
type Runtime struct {
	strikerID string
	busClient BusConn
	cfg       *agentruntime.LiveConfig
	registry  map[string]*Descriptor
	evidence  *EvidenceCollector
	ledger    *Ledger
	log       zerolog.Logger

	// semaphore bounding in-flight handlers; nil when unbounded
	slots chan struct{}
}

// NewRuntime creates the action runtime for one Striker
func NewRuntime(strikerID string, busClient BusConn, cfg *agentruntime.LiveConfig, log zerolog.Logger) *Runtime {
	r := &Runtime{
		strikerID: strikerID,
		busClient: busClient,
		cfg:       cfg,
		registry:  Registry(),
		evidence:  NewEvidenceCollector(log),
		log:       log.With().Str("service", "action_executor").Logger(),
	}
	r.ledger = NewLedger(r.publishRollback, log)
	return r
}

// Ledger exposes the rollback ledger
func (r *Runtime) Ledger() *Ledger { return r.ledger }

// Start subscribes to the direct and broadcast action subjects and launches
// the rollback scheduler.
func (r *Runtime) Start() error {
	if err := r.busClient.Subscribe(bus.SubjectActionsDirect(r.strikerID), r.HandleAction); err != nil {
		return err
	}
	// Broadcast subject: one queue group shared by all action types, so each
	// broadcast action runs on a single Striker; there are no per-type groups
	// on this subject
	if err := r.busClient.QueueSubscribe(bus.SubjectActionsBroadcast, "action_executor", r.HandleAction); err != nil {
		return err
	}

	// Per-type subjects: every broadcast-capable action this Striker carries
	// gets a load-balanced subscription so Core can target capability pools.
	for actionType, descriptor := range r.registry {
		if !descriptor.AllowBroadcast {
			continue
		}
		if err := r.busClient.QueueSubscribe(bus.SubjectActionType(actionType), "action_executor_"+actionType, r.HandleAction); err != nil {
			return err
		}
	}

	_, _, maxConcurrent := r.cfg.Snapshot()
	if maxConcurrent > 0 {
		r.slots = make(chan struct{}, maxConcurrent)
	}

	r.ledger.Start()
	r.log.Info().Str("striker_id", r.strikerID).Msg("Action runtime started")
	return nil
}

// Stop halts the rollback scheduler
func (r *Runtime) Stop() {
	r.ledger.Stop()
}

// HandleAction processes one action message (binary takes precedence over
// JSON when it decodes to a non-empty action_type).
func (r *Runtime) HandleAction(subject string, data []byte) {
	action, err := wire.DecodeAction(data)
	if err != nil {
		r.log.Warn().Err(err).Str("subject", subject).Msg("Dropping undecodable action")
		return
	}
	if action.ActionID == "" {
		action.ActionID = uuid.NewString()
	}

	r.log.Info().
		Str("action_id", action.ActionID).
		Str("action_type", action.ActionType).
		Msg("Action received")

	descriptor, ok := r.registry[action.ActionType]
	if !ok {
		r.log.Error().Str("action_type", action.ActionType).Msg("Unknown action type, dropped")
		return
	}

	allowed, defaults, _ := r.cfg.Snapshot()

	// Allowlist: a non-nil list not containing the type rejects without
	// ever invoking the handler.
	if allowed != nil && !contains(allowed, action.ActionType) {
		r.log.Warn().
			Str("action_id", action.ActionID).
			Str("action_type", action.ActionType).
			Msg("Action not in allowlist, rejected")
		r.reportStatus(action, domain.ActionStatusRejected,
			map[string]interface{}{"reason": "action type not in allowlist"}, nil)
		return
	}

	// Merge per-type defaults under the incoming params (incoming wins)
	params := map[string]interface{}{}
	for k, v := range defaults[action.ActionType] {
		params[k] = v
	}
	for k, v := range action.Parameters {
		params[k] = v
	}
	action.Parameters = params

	// Concurrency cap: additional actions wait for a slot
	if r.slots != nil {
		r.slots <- struct{}{}
		defer func() { <-r.slots }()
	}

	r.execute(action, descriptor)
}

func (r *Runtime) execute(action *domain.Action, descriptor *Descriptor) {
	pre := r.evidence.CollectPre(action.ActionID, action.ActionType, action.Parameters)

	result := descriptor.Execute(action.Parameters, r.log)
	success, _ := result["success"].(bool)

	post := r.evidence.CollectPost(action.ActionID, action.ActionType, result)

	if success && descriptor.Reversible() {
		rollbackParams := descriptor.BuildRollback(action.Parameters)
		rollbackParams["original_action_id"] = action.ActionID
		r.ledger.Register(action.ActionID, action.ActionType, descriptor.RollbackType, rollbackParams, descriptor.AutoRollback)
	}

	status := domain.ActionStatusSucceeded
	if !success {
		status = domain.ActionStatusFailed
	}
	r.reportStatus(action, status, result, map[string]interface{}{"pre": pre, "post": post})
}

// reportStatus publishes the outcome on actions.status, binary form first
// with a JSON fallback.
func (r *Runtime) reportStatus(action *domain.Action, status string, result, evidence map[string]interface{}) {
	report := &domain.ActionStatus{
		ActionID:   action.ActionID,
		StrikerID:  r.strikerID,
		ActionType: action.ActionType,
		Status:     status,
		ResultData: result,
		Evidence:   evidence,
	}

	payload, err := wire.EncodeActionStatusBinary(report)
	if err != nil {
		payload, err = wire.EncodeActionStatusJSON(report)
		if err != nil {
			r.log.Error().Err(err).Str("action_id", action.ActionID).Msg("Failed to encode status report")
			return
		}
	}

	if err := r.busClient.Publish(bus.SubjectActionsStatus, payload); err != nil {
		r.log.Error().Err(err).Str("action_id", action.ActionID).Msg("Status publish failed")
		return
	}
	r.log.Info().
		Str("action_id", action.ActionID).
		Str("status", status).
		Msg("Status reported")
}

// publishRollback emits the synthetic rollback action on this Striker's own
// direct subject.
func (r *Runtime) publishRollback(entry *RollbackEntry) {
	rollback := &domain.Action{
		ActionID:   "rollback_" + entry.ActionID,
		StrikerID:  r.strikerID,
		ActionType: entry.RollbackActionType,
		Parameters: entry.RollbackParams,
		Status:     domain.ActionStatusQueued,
	}
	rollback.Parameters["is_rollback"] = true
	rollback.Parameters["original_action_id"] = entry.ActionID

	payload, err := wire.EncodeActionBinary(rollback)
	if err != nil {
		r.log.Error().Err(err).Str("action_id", entry.ActionID).Msg("Failed to encode rollback action")
		return
	}
	if err := r.busClient.Publish(bus.SubjectActionsDirect(r.strikerID), payload); err != nil {
		r.log.Error().Err(err).Str("action_id", entry.ActionID).Msg("Rollback publish failed")
		return
	}
	r.log.Info().
		Str("original_action_id", entry.ActionID).
		Str("rollback_type", entry.RollbackActionType).
		Msg("Rollback action published")
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

package bus

// Subject layout for the platform. Events ride a durable stream; everything
// else is ephemeral.
const (
	// SubjectEventsWildcard matches every Sentinel event subject, including
	// the dedicated honeytoken channel events.sentinel.deception.
	SubjectEventsWildcard = "events.>"

	// SubjectInternalEvents carries post-ingest events to the correlator
	SubjectInternalEvents = "internal.events"

	// SubjectLLMAnalyze carries alert bundles from the correlator to the
	// LLM analyzer
	SubjectLLMAnalyze = "llm.analyze"

	// SubjectAlerts carries enriched alerts to the decision engine
	SubjectAlerts = "alerts"

	// SubjectActionsBroadcast is the fallback subject any capable Striker
	// may accept (queue-group load balanced)
	SubjectActionsBroadcast = "actions.broadcast"

	// SubjectActionsStatus carries final action outcomes back to Core
	SubjectActionsStatus = "actions.status"

	// SubjectHeartbeatWildcard matches heartbeat.<agent_type>.<agent_id>
	SubjectHeartbeatWildcard = "heartbeat.>"

	// SubjectNodeMetadataWildcard matches node.metadata.<agent_id>
	SubjectNodeMetadataWildcard = "node.metadata.>"

	// SubjectNotifications is consumed by the external notifier
	SubjectNotifications = "notifications"

	// EventStreamName is the JetStream stream backing events.>
	EventStreamName = "EVENTS"
)

// SubjectEvents returns the publish subject for a Sentinel subtype
func SubjectEvents(subtype string) string {
	return "events.sentinel." + subtype
}

// SubjectActionType returns the per-type action subject dispatched to any
// capable Striker
func SubjectActionType(actionType string) string {
	return "actions." + actionType
}

// SubjectActionsDirect returns the direct dispatch subject for one Striker
func SubjectActionsDirect(strikerID string) string {
	return "actions." + strikerID
}

// SubjectHeartbeat returns the publish subject for an agent's heartbeat
func SubjectHeartbeat(agentType, agentID string) string {
	return "heartbeat." + agentType + "." + agentID
}

// SubjectNodeMetadata returns the publish subject for an agent's node metadata
func SubjectNodeMetadata(agentID string) string {
	return "node.metadata." + agentID
}

// SubjectConfig returns the push subject for one agent's config updates
func SubjectConfig(agentID string) string {
	return "config." + agentID
}

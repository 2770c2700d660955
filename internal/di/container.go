// Package di wires the Core services together. Components receive their
// collaborators through constructors; the container is the single place
// where the graph is composed.
package di

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/yasasalwis/Naga-7/internal/bus"
	"github.com/yasasalwis/Naga-7/internal/cache"
	"github.com/yasasalwis/Naga-7/internal/config"
	"github.com/yasasalwis/Naga-7/internal/crypto"
	"github.com/yasasalwis/Naga-7/internal/database"
	"github.com/yasasalwis/Naga-7/internal/modules/agentconfig"
	"github.com/yasasalwis/Naga-7/internal/modules/agents"
	"github.com/yasasalwis/Naga-7/internal/modules/alerts"
	"github.com/yasasalwis/Naga-7/internal/modules/audit"
	"github.com/yasasalwis/Naga-7/internal/modules/correlation"
	"github.com/yasasalwis/Naga-7/internal/modules/decision"
	"github.com/yasasalwis/Naga-7/internal/modules/deployment"
	"github.com/yasasalwis/Naga-7/internal/modules/enrichment"
	"github.com/yasasalwis/Naga-7/internal/modules/events"
	"github.com/yasasalwis/Naga-7/internal/modules/ingest"
	"github.com/yasasalwis/Naga-7/internal/modules/intel"
	"github.com/yasasalwis/Naga-7/internal/modules/users"
	"github.com/yasasalwis/Naga-7/internal/reliability"
	"github.com/yasasalwis/Naga-7/internal/scheduler"
	"github.com/yasasalwis/Naga-7/internal/server"
)

// Container holds every wired Core service
type Container struct {
	Cfg   *config.Config
	Log   zerolog.Logger
	DB    *database.DB
	Cache cache.Cache
	Bus   *bus.Client

	CA *crypto.CA

	EventRepo  *events.Repository
	AlertRepo  *alerts.Repository
	ActionRepo *decision.ActionRepository
	AgentRepo  *agents.Repository
	ConfigRepo *agentconfig.Repository
	NodeRepo   *deployment.Repository
	AuditRepo  *audit.Repository

	IntelStore    *intel.Store
	IntelFetcher  *intel.Fetcher
	Pipeline      *ingest.Pipeline
	Correlator    *correlation.Engine
	Enricher      *enrichment.Service
	Decision      *decision.Engine
	AgentService  *agents.Service
	ConfigService *agentconfig.Service
	UserService   *users.Service
	Backup        *reliability.BackupService

	AlertStream *server.AlertStream
	Scheduler   *scheduler.Runner
}

// Build composes the full Core service graph
func Build(cfg *config.Config, db *database.DB, busClient *bus.Client, c cache.Cache, log zerolog.Logger) (*Container, error) {
	ca, err := crypto.LoadOrCreateCA(cfg.CAKeyPath, cfg.CACertPath)
	if err != nil {
		return nil, fmt.Errorf("certificate authority: %w", err)
	}

	conn := db.Conn()

	ct := &Container{
		Cfg:   cfg,
		Log:   log,
		DB:    db,
		Cache: c,
		Bus:   busClient,
		CA:    ca,
	}

	// Repositories
	ct.EventRepo = events.NewRepository(conn, log)
	ct.AlertRepo = alerts.NewRepository(conn, log)
	ct.ActionRepo = decision.NewActionRepository(conn, log)
	ct.AgentRepo = agents.NewRepository(conn, log)
	ct.ConfigRepo = agentconfig.NewRepository(conn, log)
	ct.NodeRepo = deployment.NewRepository(conn, log)
	ct.AuditRepo = audit.NewRepository(conn, log)

	// Threat intel
	ct.IntelStore = intel.NewStore(c, time.Duration(cfg.TIIOCTTL)*time.Second, log)
	ct.IntelFetcher = intel.NewFetcher(ct.IntelStore, cfg.OTXAPIKey, time.Duration(cfg.TIIOCTTL)*time.Second, log)

	// Pipeline chain
	ct.Pipeline = ingest.New(c, ct.IntelStore, ct.EventRepo, busClient, log)
	ct.Correlator = correlation.NewEngine(correlation.DefaultRules(), c, ct.AlertRepo, busClient, log)
	ollama := enrichment.NewOllamaClient(cfg.OllamaURL, cfg.OllamaModel, log)
	ct.Enricher = enrichment.NewService(ollama, c, ct.AlertRepo, busClient, log)
	ct.Decision = decision.NewEngine(ct.AlertRepo, ct.ActionRepo, busClient, ct.AuditRepo, log)

	// Agent lifecycle
	ct.AgentService = agents.NewService(ct.AgentRepo, ca, ct.AuditRepo, log)
	ct.ConfigService = agentconfig.NewService(ct.ConfigRepo, cfg.MasterSecret, busClient, ct.AuditRepo, log)
	ct.UserService = users.NewService(conn, cfg.MasterSecret, time.Duration(cfg.JWTExpiryMin)*time.Minute, log)

	// Reliability
	ct.Backup, err = reliability.NewBackupService(cfg.BackupBucket, cfg.BackupEndpoint, cfg.BackupRegion, cfg.DatabasePath, log)
	if err != nil {
		return nil, fmt.Errorf("backup service: %w", err)
	}

	ct.AlertStream = server.NewAlertStream(log)
	ct.Scheduler = scheduler.NewRunner(log)

	return ct, nil
}

// Subscribe attaches every bus consumer with its queue group
func (ct *Container) Subscribe() error {
	subs := []struct {
		subject string
		queue   string
		handler bus.Handler
	}{
		{bus.SubjectEventsWildcard, "event_pipeline", ct.Pipeline.HandleMessage},
		{bus.SubjectInternalEvents, "threat_correlator", ct.Correlator.HandleInternalEvent},
		{bus.SubjectLLMAnalyze, "llm_analyzer", ct.Enricher.HandleAnalyzeRequest},
		{bus.SubjectAlerts, "decision_engine", ct.Decision.HandleAlert},
		{bus.SubjectActionsStatus, "decision_engine", ct.Decision.HandleActionStatus},
		{bus.SubjectHeartbeatWildcard, "agent_manager", ct.AgentService.HandleHeartbeat},
		{bus.SubjectNodeMetadataWildcard, "agent_manager", ct.AgentService.HandleNodeMetadata},
	}
	for _, s := range subs {
		if err := ct.Bus.QueueSubscribe(s.subject, s.queue, s.handler); err != nil {
			return err
		}
	}

	// Dashboard stream gets its own (non-queued) copy of every alert
	return ct.Bus.Subscribe(bus.SubjectAlerts, ct.AlertStream.HandleBusAlert)
}

// RegisterJobs attaches the background jobs to the scheduler
func (ct *Container) RegisterJobs() error {
	sweep := agents.NewLivenessSweep(ct.AgentRepo, ct.Log)
	if err := ct.Scheduler.Every(30*time.Second, sweep.Name(), sweep.Run); err != nil {
		return err
	}
	interval := time.Duration(ct.Cfg.TIFetchInterval) * time.Second
	if err := ct.Scheduler.Every(interval, ct.IntelFetcher.Name(), ct.IntelFetcher.Run); err != nil {
		return err
	}
	if ct.Backup != nil {
		if err := ct.Scheduler.At("0 3 * * *", ct.Backup.Name(), ct.Backup.Run); err != nil {
			return err
		}
	}
	return nil
}

// HTTPServer builds the composed API server
func (ct *Container) HTTPServer() *server.Server {
	agentHandlers := agents.NewHandler(ct.AgentService, ct.cascadeAgentEdit, ct.Log)
	return server.New(server.Config{
		Port:               ct.Cfg.Port,
		DevMode:            ct.Cfg.DevMode,
		Log:                ct.Log,
		UserService:        ct.UserService,
		AgentService:       ct.AgentService,
		UserHandlers:       users.NewHandler(ct.UserService, ct.Log),
		AgentHandlers:      agentHandlers,
		ConfigHandlers:     agentconfig.NewHandler(ct.ConfigService, ct.AgentRepo, ct.Log),
		EventHandlers:      events.NewHandler(ct.EventRepo, ct.Decision, ct.Log),
		AlertHandlers:      alerts.NewHandler(ct.AlertRepo, ct.Decision, ct.Log),
		IntelHandlers:      intel.NewHandler(ct.IntelStore, ct.Log),
		DeploymentHandlers: deployment.NewHandler(ct.NodeRepo, ct.Log),
		AlertStream:        ct.AlertStream,
		LLM:                ct.Enricher,
	})
}

// cascadeAgentEdit propagates operator edits of an agent row into its config
func (ct *Container) cascadeAgentEdit(agentID, agentType string, zone *string, capabilities []string, actor string) {
	update := &agentconfig.Update{Zone: zone, Capabilities: capabilities}
	if update.Empty() {
		return
	}
	if _, err := ct.ConfigService.Upsert(agentID, agentType, update, actor); err != nil {
		ct.Log.Warn().Err(err).Str("agent_id", agentID).Msg("Config cascade failed")
	}
}

// Check verifies the container wiring is complete. Guards against a half
// initialized process serving traffic.
func (ct *Container) Check() error {
	if ct.Bus == nil || ct.Cache == nil || ct.DB == nil {
		return fmt.Errorf("container missing core infrastructure")
	}
	if ct.Cfg.MasterSecret == "" && !ct.Cfg.DevMode {
		return fmt.Errorf("master secret not configured")
	}
	return nil
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/yasasalwis/Naga-7/internal/agentruntime"
	"github.com/yasasalwis/Naga-7/internal/bus"
	"github.com/yasasalwis/Naga-7/internal/domain"
	"github.com/yasasalwis/Naga-7/internal/striker"
	"github.com/yasasalwis/Naga-7/pkg/logger"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	_ = godotenv.Load()

	log := logger.New(logger.Options{
		Process: "striker",
		Level:   getenv("LOG_LEVEL", "info"),
		Pretty:  getenv("DEV_MODE", "") == "true",
	})
	logger.ReplaceGlobal(log)

	log.Info().Msg("Starting Naga-7 Striker")

	stateDir := getenv("STATE_DIR", "./state")
	coreAPIURL := getenv("CORE_API_URL", "http://localhost:8000/api/v1")
	natsURL := getenv("NATS_URL", "nats://localhost:4222")
	subtype := getenv("AGENT_SUBTYPE", "endpoint")
	zone := getenv("ZONE", "default")

	identity, err := agentruntime.LoadIdentity(stateDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load agent identity")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	capabilities := []string{"network_block", "network_unblock", "isolate_host", "unisolate_host", "kill_process"}

	// Register (with backoff) before touching the bus so the cert triple is
	// on disk for mTLS.
	core := agentruntime.NewCoreClient(coreAPIURL, identity, log)
	if err := core.Register(ctx, domain.AgentTypeStriker, subtype, zone, capabilities); err != nil {
		log.Fatal().Err(err).Msg("Registration failed")
	}

	certFile, keyFile, caFile := identity.CertPaths()
	busClient, err := bus.Connect(bus.Options{
		URL:      natsURL,
		Name:     "naga7-striker-" + identity.AgentID,
		CertFile: certFile,
		KeyFile:  keyFile,
		CAFile:   caFile,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to message bus")
	}

	liveCfg := &agentruntime.LiveConfig{Zone: zone, Capabilities: capabilities}
	runtime := agentruntime.NewRuntime(identity, busClient, core, liveCfg, domain.AgentTypeStriker, subtype, log)
	if err := runtime.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Agent runtime failed to start")
	}

	actionRuntime := striker.NewRuntime(identity.AgentID, busClient, liveCfg, log)
	if err := actionRuntime.Start(); err != nil {
		log.Fatal().Err(err).Msg("Action runtime failed to start")
	}

	log.Info().Str("agent_id", identity.AgentID).Msg("Striker running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down Striker...")
	cancel()
	actionRuntime.Stop()
	if err := busClient.Drain(); err != nil {
		log.Error().Err(err).Msg("Bus drain failed")
	}
	log.Info().Msg("Striker stopped")
}

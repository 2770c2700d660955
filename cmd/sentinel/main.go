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
	"github.com/yasasalwis/Naga-7/internal/sentinel"
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
		Process: "sentinel",
		Level:   getenv("LOG_LEVEL", "info"),
		Pretty:  getenv("DEV_MODE", "") == "true",
	})
	logger.ReplaceGlobal(log)

	log.Info().Msg("Starting Naga-7 Sentinel")

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

	core := agentruntime.NewCoreClient(coreAPIURL, identity, log)
	if err := core.Register(ctx, domain.AgentTypeSentinel, subtype, zone, nil); err != nil {
		log.Fatal().Err(err).Msg("Registration failed")
	}

	certFile, keyFile, caFile := identity.CertPaths()
	busClient, err := bus.Connect(bus.Options{
		URL:      natsURL,
		Name:     "naga7-sentinel-" + identity.AgentID,
		CertFile: certFile,
		KeyFile:  keyFile,
		CAFile:   caFile,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to message bus")
	}

	liveCfg := &agentruntime.LiveConfig{Zone: zone, ProbeIntervalSeconds: 5}
	runtime := agentruntime.NewRuntime(identity, busClient, core, liveCfg, domain.AgentTypeSentinel, subtype, log)
	if err := runtime.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Agent runtime failed to start")
	}

	emitter := sentinel.NewEmitter(busClient, subtype, stateDir, log)
	emitter.Replay()

	probes := []sentinel.Probe{
		sentinel.NewSystemProbe(identity.AgentID, liveCfg),
	}
	runner := sentinel.NewRunner(probes, emitter, liveCfg, log)
	go runner.Run(ctx)

	log.Info().Str("agent_id", identity.AgentID).Msg("Sentinel running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down Sentinel...")
	cancel()
	emitter.Replay()
	if err := busClient.Drain(); err != nil {
		log.Error().Err(err).Msg("Bus drain failed")
	}
	log.Info().Msg("Sentinel stopped")
}

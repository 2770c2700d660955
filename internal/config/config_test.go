package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_RequiresMasterSecretOutsideDevMode(t *testing.T) {
	cfg := &Config{
		DatabasePath: "./data/naga7.db",
		NATSURL:      "nats://localhost:4222",
		OllamaURL:    "http://localhost:11434",
	}
	assert.Error(t, cfg.Validate(), "no master secret must refuse startup")

	cfg.DevMode = true
	assert.NoError(t, cfg.Validate(), "dev mode may run without a master secret")

	cfg.DevMode = false
	cfg.MasterSecret = "s3cret"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RequiredFields(t *testing.T) {
	base := func() *Config {
		return &Config{
			DatabasePath: "./data/naga7.db",
			NATSURL:      "nats://localhost:4222",
			OllamaURL:    "http://localhost:11434",
			MasterSecret: "s3cret",
		}
	}

	cfg := base()
	cfg.DatabasePath = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.NATSURL = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.OllamaURL = ""
	assert.Error(t, cfg.Validate())
}

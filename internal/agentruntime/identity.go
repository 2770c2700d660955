// Package agentruntime holds the agent-side lifecycle shared by Sentinels
// and Strikers: identity files, registration with backoff, heartbeats,
// node-metadata publication, and live config sync.
package agentruntime

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/yasasalwis/Naga-7/internal/crypto"
)

// Identity is the agent's persisted local state: its self-generated API key,
// the id Core assigned, and the issued cert triple.
type Identity struct {
	dir string
	log zerolog.Logger

	APIKey  string
	AgentID string
}

const (
	apiKeyFile  = "agent_api_key"
	agentIDFile = "agent_id"
	certFile    = "client.crt"
	keyFile     = "client.key"
	caFile      = "ca.crt"
)

// LoadIdentity reads the agent identity from dir, generating a fresh API key
// on first run. Key material is written 0600.
func LoadIdentity(dir string, log zerolog.Logger) (*Identity, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	id := &Identity{
		dir: dir,
		log: log.With().Str("component", "identity").Logger(),
	}

	keyPath := filepath.Join(dir, apiKeyFile)
	if data, err := os.ReadFile(keyPath); err == nil && len(strings.TrimSpace(string(data))) > 0 {
		id.APIKey = strings.TrimSpace(string(data))
		id.log.Info().Msg("Loaded existing API key")
	} else {
		apiKey, err := crypto.GenerateAPIKey()
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(keyPath, []byte(apiKey), 0600); err != nil {
			return nil, fmt.Errorf("persist api key: %w", err)
		}
		id.APIKey = apiKey
		id.log.Info().Msg("Generated new API key")
	}

	if data, err := os.ReadFile(filepath.Join(dir, agentIDFile)); err == nil {
		id.AgentID = strings.TrimSpace(string(data))
		if id.AgentID != "" {
			id.log.Info().Str("agent_id", id.AgentID).Msg("Loaded persisted agent ID")
		}
	}

	return id, nil
}

// SetAgentID records the id Core assigned and persists it
func (id *Identity) SetAgentID(agentID string) error {
	id.AgentID = agentID
	path := filepath.Join(id.dir, agentIDFile)
	if err := os.WriteFile(path, []byte(agentID), 0600); err != nil {
		return fmt.Errorf("persist agent id: %w", err)
	}
	return nil
}

// SaveCertificates persists the issued mTLS triple
func (id *Identity) SaveCertificates(clientCert, clientKey, caCert string) error {
	writes := []struct {
		name string
		data string
		mode os.FileMode
	}{
		{certFile, clientCert, 0644},
		{keyFile, clientKey, 0600},
		{caFile, caCert, 0644},
	}
	for _, w := range writes {
		if w.data == "" {
			continue
		}
		if err := os.WriteFile(filepath.Join(id.dir, w.name), []byte(w.data), w.mode); err != nil {
			return fmt.Errorf("persist %s: %w", w.name, err)
		}
	}
	id.log.Info().Msg("Client certificates persisted")
	return nil
}

// CertPaths returns the mTLS file locations for the bus client. Empty
// strings when the certs have not been provisioned yet.
func (id *Identity) CertPaths() (cert, key, ca string) {
	certPath := filepath.Join(id.dir, certFile)
	keyPath := filepath.Join(id.dir, keyFile)
	caPath := filepath.Join(id.dir, caFile)
	for _, p := range []string{certPath, keyPath, caPath} {
		if _, err := os.Stat(p); err != nil {
			return "", "", ""
		}
	}
	return certPath, keyPath, caPath
}

// TransportKey derives the symmetric key Core uses when serving this agent's
// encrypted config fields.
func (id *Identity) TransportKey() []byte {
	return crypto.DeriveKey(id.APIKey)
}

package agentruntime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	registerBackoffMin = 2 * time.Second
	registerBackoffMax = 60 * time.Second
	heartbeatTimeout   = 10 * time.Second
)

// CoreClient talks to the Core HTTP API on behalf of an agent
type CoreClient struct {
	baseURL  string
	identity *Identity
	client   *http.Client
	log      zerolog.Logger
}

// NewCoreClient creates a client for the Core API (base URL includes /api/v1)
func NewCoreClient(baseURL string, identity *Identity, log zerolog.Logger) *CoreClient {
	return &CoreClient{
		baseURL:  baseURL,
		identity: identity,
		client:   &http.Client{Timeout: heartbeatTimeout},
		log:      log.With().Str("component", "core_client").Logger(),
	}
}

// RegisterRequest mirrors the Core registration payload
type RegisterRequest struct {
	AgentType    string   `json:"agent_type"`
	AgentSubtype string   `json:"agent_subtype"`
	Zone         string   `json:"zone"`
	Capabilities []string `json:"capabilities"`
	APIKey       string   `json:"api_key"`
}

// RegisterResponse mirrors the Core registration response
type RegisterResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	ClientCert string `json:"client_cert"`
	ClientKey  string `json:"client_key"`
	CACert     string `json:"ca_cert"`
}

// Register retries with exponential backoff (2 s doubling to a 60 s cap)
// until Core responds or ctx is cancelled. The assigned id and issued certs
// are persisted before returning.
func (c *CoreClient) Register(ctx context.Context, agentType, agentSubtype, zone string, capabilities []string) error {
	req := RegisterRequest{
		AgentType:    agentType,
		AgentSubtype: agentSubtype,
		Zone:         zone,
		Capabilities: capabilities,
		APIKey:       c.identity.APIKey,
	}

	backoff := registerBackoffMin
	for {
		resp, err := c.registerOnce(ctx, &req)
		if err == nil {
			if err := c.identity.SetAgentID(resp.ID); err != nil {
				return err
			}
			if err := c.identity.SaveCertificates(resp.ClientCert, resp.ClientKey, resp.CACert); err != nil {
				return err
			}
			c.log.Info().Str("agent_id", resp.ID).Msg("Registered with Core")
			return nil
		}

		c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("Registration failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > registerBackoffMax {
			backoff = registerBackoffMax
		}
	}
}

func (c *CoreClient) registerOnce(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode register request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/agents/register", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build register request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("register call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("register call: status %d: %s", resp.StatusCode, string(msg))
	}

	var out RegisterResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode register response: %w", err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("register response missing agent id")
	}
	return &out, nil
}

// Heartbeat sends the HTTP fallback heartbeat, authenticated by API key
func (c *CoreClient) Heartbeat(ctx context.Context, status string, resourceUsage map[string]interface{}) error {
	body, err := json.Marshal(map[string]interface{}{
		"agent_id":       c.identity.AgentID,
		"status":         status,
		"resource_usage": resourceUsage,
	})
	if err != nil {
		return fmt.Errorf("encode heartbeat: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/agents/heartbeat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build heartbeat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-API-Key", c.identity.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("heartbeat call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat call: status %d", resp.StatusCode)
	}
	return nil
}

// FetchConfig pulls the agent's config snapshot over HTTP. The two
// connection secrets arrive encrypted under this agent's transport key.
func (c *CoreClient) FetchConfig(ctx context.Context) (map[string]interface{}, error) {
	url := fmt.Sprintf("%s/agent-config/%s/config", c.baseURL, c.identity.AgentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build config request: %w", err)
	}
	req.Header.Set("X-Agent-API-Key", c.identity.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("config call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("config call: status %d", resp.StatusCode)
	}

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode config response: %w", err)
	}
	return out, nil
}

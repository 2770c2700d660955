package agents

import (
	"context"
	"net/http"

	"github.com/yasasalwis/Naga-7/internal/domain"
	"github.com/yasasalwis/Naga-7/internal/modules/users"
)

type contextKey string

const agentContextKey contextKey = "authenticated_agent"

// APIKeyHeader carries the agent credential on authenticated agent requests
const APIKeyHeader = "X-Agent-API-Key"

// AgentFromContext returns the authenticated agent, or nil
func AgentFromContext(ctx context.Context) *domain.Agent {
	agent, _ := ctx.Value(agentContextKey).(*domain.Agent)
	return agent
}

// RawAPIKeyFromContext returns the presented API key for the authenticated
// request. The config endpoint needs it to derive the transport key.
func RawAPIKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(contextKey("raw_api_key")).(string)
	return key
}

// RequireAPIKey authenticates the X-Agent-API-Key header via prefix lookup
// plus full-hash verification and stores the agent on the request context.
func (s *Service) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get(APIKeyHeader)
		if apiKey == "" {
			http.Error(w, "Missing API key", http.StatusUnauthorized)
			return
		}

		agent, err := s.Authenticate(apiKey)
		if err != nil {
			s.log.Error().Err(err).Msg("Agent authentication failed")
			http.Error(w, "Authentication failed", http.StatusInternalServerError)
			return
		}
		if agent == nil {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), agentContextKey, agent)
		ctx = context.WithValue(ctx, contextKey("raw_api_key"), apiKey)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// operatorName names the acting operator for audit purposes
func operatorName(r *http.Request) string {
	if u := users.FromContext(r.Context()); u != nil {
		return u.Username
	}
	return "operator"
}

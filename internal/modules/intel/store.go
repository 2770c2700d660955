// Package intel manages the threat-intelligence IOC store and its feed
// ingestion cycle.
package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/yasasalwis/Naga-7/internal/cache"
)

// IOC types
const (
	TypeIP     = "ip"
	TypeDomain = "domain"
	TypeURL    = "url"
	TypeHash   = "hash"
)

// IOC is a known-malicious indicator with its provenance
type IOC struct {
	IOCType    string                 `json:"ioc_type"`
	IOCValue   string                 `json:"ioc_value"`
	Confidence float64                `json:"confidence"`
	Source     string                 `json:"source"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	AddedAt    string                 `json:"added_at"`
}

// Store keeps typed IOCs in the fingerprint cache under ioc:<type>:<value>.
// Lookups are failure-tolerant: a cache error reads as "no match".
type Store struct {
	cache      cache.Cache
	defaultTTL time.Duration
	log        zerolog.Logger
}

// NewStore creates the IOC store. defaultTTL applies when AddIOC is called
// with ttl zero.
func NewStore(c cache.Cache, defaultTTL time.Duration, log zerolog.Logger) *Store {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &Store{
		cache:      c,
		defaultTTL: defaultTTL,
		log:        log.With().Str("service", "threat_intel").Logger(),
	}
}

func iocKey(iocType, iocValue string) string {
	return fmt.Sprintf("ioc:%s:%s", iocType, iocValue)
}

// AddIOC stores an indicator with a TTL
func (s *Store) AddIOC(ctx context.Context, iocType, iocValue string, confidence float64, source string, metadata map[string]interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	entry := IOC{
		IOCType:    iocType,
		IOCValue:   iocValue,
		Confidence: confidence,
		Source:     source,
		Metadata:   metadata,
		AddedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal ioc: %w", err)
	}
	if err := s.cache.Set(ctx, iocKey(iocType, iocValue), string(data), ttl); err != nil {
		return err
	}
	s.log.Debug().Str("type", iocType).Str("value", iocValue).Str("source", source).Msg("IOC added")
	return nil
}

// CheckIOC returns the stored indicator, or nil when unknown
func (s *Store) CheckIOC(ctx context.Context, iocType, iocValue string) (*IOC, error) {
	val, ok, err := s.cache.Get(ctx, iocKey(iocType, iocValue))
	if err != nil {
		s.log.Warn().Err(err).Msg("IOC lookup degraded, treating as no match")
		return nil, nil
	}
	if !ok {
		return nil, nil
	}
	var entry IOC
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, fmt.Errorf("unmarshal ioc: %w", err)
	}
	return &entry, nil
}

// candidateFields maps raw_data field names to IOC types
var candidateFields = []struct {
	field   string
	iocType string
}{
	{"source_ip", TypeIP},
	{"destination_ip", TypeIP},
	{"domain", TypeDomain},
	{"url", TypeURL},
	{"file_hash", TypeHash},
}

// Enrich cross-references an event's raw_data against the IOC store and
// returns the matched indicators.
func (s *Store) Enrich(ctx context.Context, rawData map[string]interface{}) []IOC {
	var matches []IOC
	for _, c := range candidateFields {
		raw, ok := rawData[c.field]
		if !ok {
			continue
		}
		value, ok := raw.(string)
		if !ok || value == "" {
			continue
		}
		match, err := s.CheckIOC(ctx, c.iocType, value)
		if err != nil {
			s.log.Warn().Err(err).Str("field", c.field).Msg("IOC check failed")
			continue
		}
		if match != nil {
			s.log.Info().Str("type", c.iocType).Str("value", value).Msg("Threat intel match")
			matches = append(matches, *match)
		}
	}
	return matches
}

// Stats counts cached IOCs broken down by type
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	counts := map[string]int{TypeIP: 0, TypeDomain: 0, TypeURL: 0, TypeHash: 0, "other": 0, "total": 0}
	keys, err := s.cache.Scan(ctx, "ioc:")
	if err != nil {
		return counts, err
	}
	for _, key := range keys {
		parts := strings.SplitN(key, ":", 3)
		if len(parts) >= 2 {
			if _, known := counts[parts[1]]; known {
				counts[parts[1]]++
			} else {
				counts["other"]++
			}
		}
		counts["total"]++
	}
	return counts, nil
}

package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/yasasalwis/Naga-7/internal/metrics"
)

var ipPattern = regexp.MustCompile(`^\d{1,3}(\.\d{1,3}){3}$`)

// feed describes one upstream IOC source
type feed struct {
	name       string
	url        string
	parse      func(f *Fetcher, body []byte) (int, error)
	authHeader string // set together with an API key requirement
}

// Fetcher downloads open threat-intelligence feeds on a schedule and loads
// their indicators into the IOC store.
type Fetcher struct {
	store     *Store
	client    *http.Client
	otxAPIKey string
	iocTTL    time.Duration
	feeds     []feed
	log       zerolog.Logger
}

// NewFetcher creates the feed fetcher. otxAPIKey may be empty; the OTX feed
// is skipped without it.
func NewFetcher(store *Store, otxAPIKey string, iocTTL time.Duration, log zerolog.Logger) *Fetcher {
	f := &Fetcher{
		store:     store,
		client:    &http.Client{Timeout: 30 * time.Second},
		otxAPIKey: otxAPIKey,
		iocTTL:    iocTTL,
		log:       log.With().Str("service", "ti_fetcher").Logger(),
	}
	f.feeds = []feed{
		{
			name:       "OTX AlienVault",
			url:        "https://otx.alienvault.com/api/v1/pulses/subscribed?limit=20",
			parse:      (*Fetcher).parseOTX,
			authHeader: "X-OTX-API-KEY",
		},
		{
			name:  "Abuse.ch URLhaus",
			url:   "https://urlhaus-api.abuse.ch/v1/urls/recent/limit/500/",
			parse: (*Fetcher).parseURLhaus,
		},
		{
			name:  "Feodo Tracker",
			url:   "https://feodotracker.abuse.ch/downloads/ipblocklist.json",
			parse: (*Fetcher).parseFeodo,
		},
	}
	return f
}

// Name is the label the scheduler logs this job under
func (f *Fetcher) Name() string { return "ti_feed_refresh" }

// Run performs one full feed ingestion cycle. A failing feed is logged and
// skipped; the cycle continues.
func (f *Fetcher) Run() error {
	f.log.Info().Msg("Starting TI feed ingestion cycle")
	total := 0
	for _, fd := range f.feeds {
		count, err := f.fetchFeed(fd)
		if err != nil {
			f.log.Warn().Err(err).Str("feed", fd.name).Msg("Feed fetch failed")
			continue
		}
		metrics.IOCsLoaded.WithLabelValues(fd.name).Add(float64(count))
		f.log.Info().Str("feed", fd.name).Int("iocs", count).Msg("Feed ingested")
		total += count
	}
	f.log.Info().Int("total", total).Msg("TI feed ingestion cycle complete")
	return nil
}

func (f *Fetcher) fetchFeed(fd feed) (int, error) {
	req, err := http.NewRequest(http.MethodGet, fd.url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Naga7-TIFetcher/1.0")
	if fd.authHeader != "" {
		if f.otxAPIKey == "" {
			f.log.Warn().Str("feed", fd.name).Msg("Feed requires an API key, skipping")
			return 0, nil
		}
		req.Header.Set(fd.authHeader, f.otxAPIKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", fd.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch %s: status %d", fd.name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", fd.name, err)
	}
	return fd.parse(f, body)
}

// parseOTX extracts IPv4, domain, URL and file-hash indicators from
// subscribed OTX pulses.
func (f *Fetcher) parseOTX(body []byte) (int, error) {
	var payload struct {
		Results []struct {
			Name       string `json:"name"`
			ID         string `json:"id"`
			Indicators []struct {
				Type      string `json:"type"`
				Indicator string `json:"indicator"`
			} `json:"indicators"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("parse otx: %w", err)
	}

	typeMap := map[string]string{
		"IPv4":            TypeIP,
		"domain":          TypeDomain,
		"hostname":        TypeDomain,
		"URL":             TypeURL,
		"FileHash-MD5":    TypeHash,
		"FileHash-SHA1":   TypeHash,
		"FileHash-SHA256": TypeHash,
	}

	ctx := context.Background()
	count := 0
	for _, pulse := range payload.Results {
		for _, ind := range pulse.Indicators {
			mapped, ok := typeMap[ind.Type]
			if !ok || ind.Indicator == "" {
				continue
			}
			err := f.store.AddIOC(ctx, mapped, ind.Indicator, 0.85, "feed:otx:"+pulse.Name,
				map[string]interface{}{"pulse_id": pulse.ID, "raw_type": ind.Type}, f.iocTTL)
			if err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

// parseURLhaus extracts malicious URLs and their hosts from the recent-URLs
// feed. Hosts may be IPs or domains.
func (f *Fetcher) parseURLhaus(body []byte) (int, error) {
	var payload struct {
		URLs []struct {
			URL       string   `json:"url"`
			Host      string   `json:"host"`
			Threat    string   `json:"threat"`
			Tags      []string `json:"tags"`
			DateAdded string   `json:"date_added"`
		} `json:"urls"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("parse urlhaus: %w", err)
	}

	ctx := context.Background()
	count := 0
	for _, entry := range payload.URLs {
		if entry.URL != "" {
			err := f.store.AddIOC(ctx, TypeURL, entry.URL, 0.90, "feed:urlhaus",
				map[string]interface{}{"threat_type": entry.Threat, "tags": entry.Tags, "date_added": entry.DateAdded}, f.iocTTL)
			if err != nil {
				return count, err
			}
			count++
		}
		if entry.Host != "" {
			iocType := TypeDomain
			if ipPattern.MatchString(entry.Host) {
				iocType = TypeIP
			}
			err := f.store.AddIOC(ctx, iocType, entry.Host, 0.80, "feed:urlhaus",
				map[string]interface{}{"threat_type": entry.Threat}, f.iocTTL)
			if err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

// parseFeodo extracts botnet C2 server IPs from the Feodo Tracker blocklist
func (f *Fetcher) parseFeodo(body []byte) (int, error) {
	var entries []struct {
		IPAddress  string `json:"ip_address"`
		Malware    string `json:"malware"`
		Status     string `json:"status"`
		FirstSeen  string `json:"first_seen"`
		LastOnline string `json:"last_online"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return 0, fmt.Errorf("parse feodo: %w", err)
	}

	ctx := context.Background()
	count := 0
	for _, entry := range entries {
		if entry.IPAddress == "" {
			continue
		}
		err := f.store.AddIOC(ctx, TypeIP, entry.IPAddress, 0.95, "feed:feodo",
			map[string]interface{}{
				"malware":     entry.Malware,
				"status":      entry.Status,
				"first_seen":  entry.FirstSeen,
				"last_online": entry.LastOnline,
			}, f.iocTTL)
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

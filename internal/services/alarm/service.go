// Package alarm sends best-effort failure alerts to an HTTP alerting endpoint.
package alarm

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/goexpdp/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"
)

// Incident defaults.
const (
	StatusFiring   = "firing"
	CategoryBackup = "dbbackup"
)

const maxResponseBody = 4096

// Notifier sends an incident. It never fails its caller.
type Notifier interface {
	Notify(ctx context.Context, incident models.Incident)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl posts incidents to the configured endpoint.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	cfg        models.AlarmConfig
	now        func() time.Time
}

// New returns a Notifier for cfg. Without an endpoint incidents are only logged.
func New(logger zerolog.Logger, cfg models.AlarmConfig) Notifier {
	if cfg.URL == "" {
		return &LogNotifier{logger: logger}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return NewWithClient(logger, &http.Client{Timeout: timeout}, cfg)
}

// NewWithClient creates an HTTP notifier with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, cfg models.AlarmConfig) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Notify makes exactly one delivery attempt. Errors are logged and dropped.
func (s *Impl) Notify(ctx context.Context, incident models.Incident) {
	incident = s.complete(incident)

	s.logger.Warn().
		Str("note", incident.RuleNote).
		Str("severity", incident.Severity).
		Str("fingerprint", incident.Fingerprint).
		Msg("sending alarm")

	body, err := json.Marshal(incident)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal alarm")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(), bytes.NewReader(body))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to create alarm request")
		return
	}

	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to send alarm")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Error().
			Int("status", resp.StatusCode).
			Str("response", string(data)).
			Msg("alarm endpoint rejected alarm")
		return
	}

	s.logger.Warn().Int("status", resp.StatusCode).Str("response", string(data)).Msg("alarm sent")
}

func (s *Impl) complete(incident models.Incident) models.Incident {
	if incident.Status == "" {
		incident.Status = StatusFiring
	}
	if incident.Category == "" {
		incident.Category = CategoryBackup
	}
	if incident.Cluster == "" {
		incident.Cluster = s.cfg.Cluster
	}
	if incident.Group == "" {
		incident.Group = s.cfg.Group
	}
	if incident.RuleName == "" {
		incident.RuleName = s.cfg.RuleName
	}
	if incident.Severity == "" {
		incident.Severity = s.cfg.Severity
	}
	tags := make(map[string]string, len(incident.Tags)+1)
	for k, v := range incident.Tags {
		tags[k] = v
	}
	incident.Tags = tags
	if _, ok := incident.Tags["host"]; !ok {
		if host, err := os.Hostname(); err == nil {
			incident.Tags["host"] = host
		}
	}
	if incident.Callbacks == nil {
		incident.Callbacks = []string{}
	}
	if incident.Annotations == nil {
		incident.Annotations = map[string]string{}
	}
	if incident.Fingerprint == "" {
		incident.Fingerprint = Fingerprint(s.now())
	}
	return incident
}

func (s *Impl) endpoint() string {
	base := strings.TrimRight(s.cfg.URL, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	api := s.cfg.API
	if api != "" && !strings.HasPrefix(api, "/") {
		api = "/" + api
	}
	return base + api
}

// Fingerprint derives a pseudo-unique incident id from the Unix second of t.
func Fingerprint(t time.Time) string {
	h, err := blake2b.New(16, nil)
	if err != nil {
		return fmt.Sprintf("%x", t.Unix())
	}
	h.Write([]byte(strconv.FormatInt(t.Unix(), 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// LogNotifier only logs incidents. It is used when no endpoint is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the incident.
func (n *LogNotifier) Notify(_ context.Context, incident models.Incident) {
	n.logger.Warn().
		Str("note", incident.RuleNote).
		Interface("tags", incident.Tags).
		Msg("alarm endpoint not configured, alarm only logged")
}

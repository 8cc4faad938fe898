// Package dispatch delivers triggered rule actions to the outside world:
// console output for local runs, webhooks, and Telegram notifications. It
// follows the registry/handler shape pkg/descry/actions uses, generalized
// to SEL's richer per-webhook configuration (auth, event filters, delivery
// history) from the original's dispatcher module.
package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sourceful/sel/pkg/sel/runtime"
)

// WebhookAuthType is the authentication scheme a WebhookConfig uses.
type WebhookAuthType string

const (
	AuthNone   WebhookAuthType = "none"
	AuthBearer WebhookAuthType = "bearer"
	AuthBasic  WebhookAuthType = "basic"
	AuthAPIKey WebhookAuthType = "api_key"
)

// WebhookEvent identifies which triggering events a webhook subscribes to.
type WebhookEvent string

const (
	EventRuleTriggered     WebhookEvent = "rule_triggered"
	EventScheduleTriggered WebhookEvent = "schedule_triggered"
	EventAlertHigh         WebhookEvent = "alert_high"
	EventAlertLow          WebhookEvent = "alert_low"
	EventAll               WebhookEvent = "all"
)

// WebhookConfig is a registered outbound webhook destination.
type WebhookConfig struct {
	ID           string
	Name         string
	URL          string
	Enabled      bool
	Headers      map[string]string
	AuthType     WebhookAuthType
	AuthToken    string
	Events       []WebhookEvent
	LastSuccess  *time.Time
	LastError    *string
	FailureCount int
}

// NewWebhookConfig returns a WebhookConfig with a generated ID, enabled by
// default.
func NewWebhookConfig(name, url string, events []WebhookEvent) WebhookConfig {
	return WebhookConfig{
		ID:      "webhook_" + uuid.NewString(),
		Name:    name,
		URL:     url,
		Enabled: true,
		Headers: make(map[string]string),
		Events:  events,
	}
}

// subscribesTo reports whether cfg should receive event.
func (cfg WebhookConfig) subscribesTo(event WebhookEvent) bool {
	for _, e := range cfg.Events {
		if e == event || e == EventAll {
			return true
		}
	}
	return false
}

// DispatchResult is the outcome of one delivery attempt.
type DispatchResult struct {
	Success    bool
	Message    string
	Details    string
	StatusCode *int
}

func success(message string) DispatchResult { return DispatchResult{Success: true, Message: message} }

func failure(message string) DispatchResult { return DispatchResult{Success: false, Message: message} }

func skipped(reason string) DispatchResult {
	return DispatchResult{Success: true, Message: "skipped", Details: reason}
}

func withStatus(r DispatchResult, status int) DispatchResult {
	r.StatusCode = &status
	return r
}

// Config holds process-wide dispatch settings.
type Config struct {
	TelegramBotToken string
	TelegramChatID   string
	WebhookHeaders   map[string]string
	DryRun           bool
}

// Dispatcher delivers an ActionResult produced by the evaluator.
type Dispatcher struct {
	config   Config
	client   *http.Client
	log      zerolog.Logger
	mu       sync.RWMutex
	webhooks map[string]*WebhookConfig
}

// New returns a Dispatcher using config and logger.
func New(config Config, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		config:   config,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
		webhooks: make(map[string]*WebhookConfig),
	}
}

// RegisterWebhook adds cfg to the dispatcher's webhook set, returning its
// assigned ID.
func (d *Dispatcher) RegisterWebhook(cfg WebhookConfig) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.webhooks[cfg.ID] = &cfg
	return cfg.ID
}

// Dispatch delivers a single action result.
func (d *Dispatcher) Dispatch(result runtime.ActionResult) DispatchResult {
	if d.config.DryRun {
		return d.dryRunDispatch(result)
	}

	switch r := result.(type) {
	case runtime.NotifyResult:
		return d.dispatchNotify(r.Message)
	case runtime.WebhookResult:
		return d.dispatchWebhook(r.URL, r.Body)
	case runtime.LogResult:
		d.log.Info().Str("component", "sel").Msg(r.Message)
		return success("logged")
	case runtime.SkippedResult:
		return skipped(r.Reason)
	default:
		return failure("unknown action result type")
	}
}

// DispatchAll delivers every result in results, in order, returning one
// DispatchResult per input.
func (d *Dispatcher) DispatchAll(results []runtime.ActionResult) []DispatchResult {
	out := make([]DispatchResult, len(results))
	for i, r := range results {
		out[i] = d.Dispatch(r)
	}
	return out
}

func (d *Dispatcher) dryRunDispatch(result runtime.ActionResult) DispatchResult {
	switch r := result.(type) {
	case runtime.NotifyResult:
		return success(fmt.Sprintf("[dry-run] would notify: %s", r.Message))
	case runtime.WebhookResult:
		return success(fmt.Sprintf("[dry-run] would POST %s: %s", r.URL, r.Body))
	case runtime.LogResult:
		return success(fmt.Sprintf("[dry-run] would log: %s", r.Message))
	case runtime.SkippedResult:
		return skipped(r.Reason)
	default:
		return failure("unknown action result type")
	}
}

func (d *Dispatcher) dispatchNotify(message string) DispatchResult {
	if d.config.TelegramBotToken == "" || d.config.TelegramChatID == "" {
		d.log.Warn().Str("component", "sel").Msg("notify requested but no Telegram credentials configured")
		return skipped("no notification channel configured")
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", d.config.TelegramBotToken)
	payload, _ := json.Marshal(map[string]string{
		"chat_id": d.config.TelegramChatID,
		"text":    message,
	})

	resp, err := d.client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return failure("telegram request failed: " + err.Error())
	}
	defer resp.Body.Close()

	result := withStatus(success("telegram message sent"), resp.StatusCode)
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		result = withStatus(failure("telegram returned "+resp.Status+": "+string(body)), resp.StatusCode)
	}
	return result
}

func (d *Dispatcher) dispatchWebhook(url, body string) DispatchResult {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader([]byte(body)))
	if err != nil {
		return failure("invalid webhook request: " + err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range d.config.WebhookHeaders {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return failure("webhook request failed: " + err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return withStatus(failure("webhook returned "+resp.Status+": "+string(respBody)), resp.StatusCode)
	}
	return withStatus(success("webhook delivered"), resp.StatusCode)
}

// DispatchEvent delivers body to every registered, enabled webhook
// subscribed to event, recording per-webhook success/failure bookkeeping.
func (d *Dispatcher) DispatchEvent(event WebhookEvent, body string) []DispatchResult {
	d.mu.RLock()
	targets := make([]*WebhookConfig, 0, len(d.webhooks))
	for _, cfg := range d.webhooks {
		if cfg.Enabled && cfg.subscribesTo(event) {
			targets = append(targets, cfg)
		}
	}
	d.mu.RUnlock()

	results := make([]DispatchResult, 0, len(targets))
	for _, cfg := range targets {
		result := d.deliverToWebhook(cfg, body)
		results = append(results, result)

		d.mu.Lock()
		now := time.Now()
		if result.Success {
			cfg.LastSuccess = &now
			cfg.FailureCount = 0
		} else {
			msg := result.Message
			cfg.LastError = &msg
			cfg.FailureCount++
		}
		d.mu.Unlock()
	}
	return results
}

func (d *Dispatcher) deliverToWebhook(cfg *WebhookConfig, body string) DispatchResult {
	req, err := http.NewRequest(http.MethodPost, cfg.URL, bytes.NewReader([]byte(body)))
	if err != nil {
		return failure("invalid webhook request: " + err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	applyAuth(req, cfg)

	resp, err := d.client.Do(req)
	if err != nil {
		return failure("webhook request failed: " + err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return withStatus(failure("webhook returned "+resp.Status+": "+string(respBody)), resp.StatusCode)
	}
	return withStatus(success("webhook delivered"), resp.StatusCode)
}

func applyAuth(req *http.Request, cfg *WebhookConfig) {
	switch cfg.AuthType {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+cfg.AuthToken)
	case AuthBasic:
		req.Header.Set("Authorization", "Basic "+cfg.AuthToken)
	case AuthAPIKey:
		req.Header.Set("X-API-Key", cfg.AuthToken)
	case AuthNone:
		// no header
	}
}

// TestWebhook probes cfg with a synthetic ping payload, independent of any
// registered Dispatcher state.
func TestWebhook(cfg WebhookConfig) DispatchResult {
	client := &http.Client{Timeout: 10 * time.Second}
	payload, _ := json.Marshal(map[string]string{"event": "test", "message": "SEL webhook test"})

	req, err := http.NewRequest(http.MethodPost, cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return failure("invalid webhook request: " + err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	applyAuth(req, &cfg)

	resp, err := client.Do(req)
	if err != nil {
		return failure("webhook test failed: " + err.Error())
	}
	defer resp.Body.Close()

	return withStatus(success("webhook test delivered"), resp.StatusCode)
}

// Builder incrementally constructs a Dispatcher.
type Builder struct {
	config Config
	log    zerolog.Logger
}

// NewBuilder returns a Builder with zero-value config and a disabled logger.
func NewBuilder() *Builder {
	return &Builder{log: zerolog.Nop()}
}

func (b *Builder) WithTelegram(botToken, chatID string) *Builder {
	b.config.TelegramBotToken = botToken
	b.config.TelegramChatID = chatID
	return b
}

func (b *Builder) WithDryRun(dryRun bool) *Builder {
	b.config.DryRun = dryRun
	return b
}

func (b *Builder) WithLogger(log zerolog.Logger) *Builder {
	b.log = log
	return b
}

func (b *Builder) Build() *Dispatcher {
	return New(b.config, b.log)
}

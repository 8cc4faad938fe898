package dispatch

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sourceful/sel/pkg/sel/runtime"
)

func TestDryRunDispatchNeverCallsOutTheNetwork(t *testing.T) {
	d := New(Config{DryRun: true}, zerolog.Nop())

	result := d.Dispatch(runtime.NotifyResult{Message: "battery low"})
	if !result.Success {
		t.Fatalf("dry-run dispatch should always report success, got %+v", result)
	}
	if result.Message == "" {
		t.Fatal("dry-run dispatch should describe what would have happened")
	}
}

func TestDispatchNotifyWithoutCredentialsIsSkipped(t *testing.T) {
	d := New(Config{}, zerolog.Nop())
	result := d.Dispatch(runtime.NotifyResult{Message: "hello"})
	if !result.Success {
		t.Fatalf("a skipped notify should still report success=true, got %+v", result)
	}
	if result.Details == "" {
		t.Fatal("expected a reason in Details")
	}
}

func TestDispatchWebhookDeliversToServer(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(Config{}, zerolog.Nop())
	result := d.Dispatch(runtime.WebhookResult{URL: srv.URL, Body: `{"pv_power": 1500}`})
	if !result.Success {
		t.Fatalf("expected a successful delivery, got %+v", result)
	}
	if gotBody != `{"pv_power": 1500}` {
		t.Fatalf("server received body %q, want the webhook body verbatim", gotBody)
	}
}

func TestDispatchWebhookReportsFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := New(Config{}, zerolog.Nop())
	result := d.Dispatch(runtime.WebhookResult{URL: srv.URL, Body: "{}"})
	if result.Success {
		t.Fatal("a 500 response should be reported as a failure")
	}
	if result.StatusCode == nil || *result.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status code = %v, want 500", result.StatusCode)
	}
}

func TestDispatchLogResultAlwaysSucceeds(t *testing.T) {
	d := New(Config{}, zerolog.Nop())
	result := d.Dispatch(runtime.LogResult{Message: "rule evaluated"})
	if !result.Success {
		t.Fatalf("logging should always succeed, got %+v", result)
	}
}

func TestDispatchEventOnlyReachesSubscribedWebhooks(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(Config{}, zerolog.Nop())
	d.RegisterWebhook(NewWebhookConfig("alerts", srv.URL, []WebhookEvent{EventAlertHigh}))
	d.RegisterWebhook(NewWebhookConfig("everything", srv.URL, []WebhookEvent{EventAll}))

	results := d.DispatchEvent(EventScheduleTriggered, "{}")
	if len(results) != 1 {
		t.Fatalf("got %d deliveries, want 1 (only the EventAll subscriber)", len(results))
	}
	if hits != 1 {
		t.Fatalf("server saw %d requests, want 1", hits)
	}
}

func TestApplyAuthSetsExpectedHeader(t *testing.T) {
	cases := []struct {
		auth   WebhookAuthType
		token  string
		header string
		want   string
	}{
		{AuthBearer, "tok123", "Authorization", "Bearer tok123"},
		{AuthBasic, "dXNlcjpwYXNz", "Authorization", "Basic dXNlcjpwYXNz"},
		{AuthAPIKey, "key123", "X-API-Key", "key123"},
	}

	for _, c := range cases {
		req, _ := http.NewRequest(http.MethodPost, "http://example.invalid", nil)
		cfg := &WebhookConfig{AuthType: c.auth, AuthToken: c.token}
		applyAuth(req, cfg)
		if got := req.Header.Get(c.header); got != c.want {
			t.Errorf("%s: header %s = %q, want %q", c.auth, c.header, got, c.want)
		}
	}
}

func TestBuilderProducesConfiguredDispatcher(t *testing.T) {
	d := NewBuilder().WithDryRun(true).WithTelegram("tok", "chat").Build()
	result := d.Dispatch(runtime.NotifyResult{Message: "test"})
	if !result.Success {
		t.Fatalf("builder-configured dry-run dispatcher should succeed, got %+v", result)
	}
}

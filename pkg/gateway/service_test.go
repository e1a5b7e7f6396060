package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"texclaw/pkg/bus"
	"texclaw/pkg/channel"
	"texclaw/pkg/config"
	"texclaw/pkg/latex"
)

func TestIsReady(t *testing.T) {
	t.Parallel()

	svc := &Service{channelStates: map[string]channelState{"telegram": {Running: true}}}
	if svc.isReady() {
		t.Fatal("expected not ready without responder health")
	}

	svc.responderLastOKAt = time.Now().UTC()
	if !svc.isReady() {
		t.Fatal("expected ready with running channel and healthy responder")
	}

	svc.responderLastErr = "boom"
	if svc.isReady() {
		t.Fatal("expected not ready when responder has error")
	}
}

func TestRecordEventCountsRenderDecisions(t *testing.T) {
	t.Parallel()

	svc := &Service{}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.recordEvent(bus.Event{Type: bus.EventMessageRendered, At: at})
	svc.recordEvent(bus.Event{Type: bus.EventMessageUnchanged, At: at})
	svc.recordEvent(bus.Event{Type: bus.EventRenderFailed, At: at, Error: "match timeout"})
	svc.recordEvent(bus.Event{Type: "other", At: at.Add(time.Hour)})

	if svc.renders.Rendered != 1 || svc.renders.Unchanged != 1 || svc.renders.Failed != 1 {
		t.Fatalf("unexpected counters: %+v", svc.renders)
	}
	if svc.renders.LastError != "match timeout" {
		t.Fatalf("last error = %q", svc.renders.LastError)
	}
	if svc.renders.LastAt != "2026-01-02T03:04:05Z" {
		t.Fatalf("last at = %q", svc.renders.LastAt)
	}
}

func TestNewServiceRequiresAdapter(t *testing.T) {
	disabled := false
	cfg := &config.Config{Render: config.RenderConfig{Enabled: &disabled}}
	if _, err := NewService(cfg, nil, nil); err == nil {
		t.Fatal("expected error without adapters")
	}
}

func TestNewServiceRejectsUnknownGrammar(t *testing.T) {
	cfg := &config.Config{Render: config.RenderConfig{FractionGrammar: "pratt"}}
	adapters := []channel.Adapter{&scriptedAdapter{name: "telegram"}}

	if _, err := NewService(cfg, adapters, nil); err == nil {
		t.Fatal("expected error for unknown fraction grammar")
	}
}

func TestNewServiceWithRenderingDisabled(t *testing.T) {
	disabled := false
	cfg := &config.Config{Render: config.RenderConfig{Enabled: &disabled}}
	adapters := []channel.Adapter{&scriptedAdapter{name: "telegram"}}

	svc, err := NewService(cfg, adapters, nil)
	if err != nil {
		t.Fatalf("NewService error: %v", err)
	}
	defer svc.bus.Close()

	if got := svc.bus.HookCount(); got != 0 {
		t.Fatalf("hook count = %d, want 0", got)
	}
	if svc.settings != nil {
		t.Fatal("expected no settings store when rendering is disabled")
	}
}

func TestStatuszReportsRenderState(t *testing.T) {
	cfg := &config.Config{Render: config.RenderConfig{
		SettingsPath: filepath.Join(t.TempDir(), "settings.json"),
	}}
	adapters := []channel.Adapter{&scriptedAdapter{name: "telegram"}}

	svc, err := NewService(cfg, adapters, nil)
	if err != nil {
		t.Fatalf("NewService error: %v", err)
	}
	defer svc.bus.Close()
	svc.recordEvent(bus.Event{Type: bus.EventMessageRendered, At: time.Now()})

	recorder := httptest.NewRecorder()
	svc.routes().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/statusz", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", recorder.Code)
	}

	var status statusResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Render == nil || !status.Render.Enabled {
		t.Fatalf("expected rendering enabled, got %+v", status.Render)
	}
	if status.Render.Grammar != string(latex.GrammarSqrtAware) {
		t.Fatalf("grammar = %q", status.Render.Grammar)
	}
	if status.Render.Rendered != 1 {
		t.Fatalf("rendered = %d, want 1", status.Render.Rendered)
	}
	if !status.Render.Rules[string(latex.RuleFractions)] {
		t.Fatal("expected fractions rule enabled")
	}
	if _, ok := status.Channels["telegram"]; !ok {
		t.Fatal("expected telegram channel state")
	}
}

func TestReadyzNotReadyBeforeRun(t *testing.T) {
	svc := &Service{channelStates: map[string]channelState{"telegram": {}}}

	recorder := httptest.NewRecorder()
	svc.handleReady(recorder, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("status code = %d, want 503", recorder.Code)
	}
}

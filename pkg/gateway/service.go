package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"texclaw/pkg/bus"
	"texclaw/pkg/channel"
	"texclaw/pkg/config"
	"texclaw/pkg/intercept"
	"texclaw/pkg/latex"
	"texclaw/pkg/responder"
	"texclaw/pkg/settings"
)

const (
	defaultHealthHost = "0.0.0.0"
	defaultHealthPort = 18790

	healthCheckInterval = 30 * time.Second
)

type Service struct {
	cfg       *config.Config
	log       *slog.Logger
	responder responder.Client
	bus       *bus.MessageBus
	settings  *settings.Store
	grammar   latex.Grammar
	channels  []channel.Adapter

	mu                sync.RWMutex
	startedAt         time.Time
	responderLastOKAt time.Time
	responderLastErr  string
	channelStates     map[string]channelState
	renders           renderCounters
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type renderCounters struct {
	Rendered  int64  `json:"rendered"`
	Unchanged int64  `json:"unchanged"`
	Failed    int64  `json:"failed"`
	LastError string `json:"last_error,omitempty"`
	LastAt    string `json:"last_at,omitempty"`
}

type renderStatus struct {
	Enabled      bool            `json:"enabled"`
	Grammar      string          `json:"grammar,omitempty"`
	SettingsPath string          `json:"settings_path,omitempty"`
	Rules        map[string]bool `json:"rules,omitempty"`
	renderCounters
}

type statusResponse struct {
	Status            string                  `json:"status"`
	UptimeSeconds     int64                   `json:"uptime_seconds"`
	ResponderLastOKAt string                  `json:"responder_last_ok_at,omitempty"`
	ResponderLastErr  string                  `json:"responder_last_error,omitempty"`
	Channels          map[string]channelState `json:"channels"`
	Render            *renderStatus           `json:"render,omitempty"`
}

// NewService wires the responder, the outbound renderer hook and the rule
// settings store for the given adapters.
func NewService(cfg *config.Config, adapters []channel.Adapter, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = slog.Default()
	}

	client, err := responder.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize responder: %w", err)
	}

	mb := bus.NewMessageBus()
	if !cfg.Render.IsEnabled() {
		log.Info("Math rendering disabled by config")
		return newService(cfg, client, mb, nil, "", adapters, log)
	}

	pipeline, err := intercept.NewPipeline(cfg.Render)
	if err != nil {
		mb.Close()
		return nil, err
	}

	var rules intercept.RuleSource
	store, err := openSettings(cfg.Render, log)
	if err != nil {
		log.Warn("Rule settings unavailable; using default rules", "error", err)
		rules = intercept.StaticRules(latex.DefaultRules())
	} else {
		rules = store
	}

	intercept.NewRenderer(pipeline, rules, mb, log).Attach(mb)

	return newService(cfg, client, mb, store, pipeline.Grammar(), adapters, log)
}

func newService(
	cfg *config.Config,
	client responder.Client,
	mb *bus.MessageBus,
	store *settings.Store,
	grammar latex.Grammar,
	adapters []channel.Adapter,
	log *slog.Logger,
) (*Service, error) {
	if len(adapters) == 0 {
		mb.Close()
		return nil, errors.New("at least one channel adapter is required")
	}

	channelStates := make(map[string]channelState, len(adapters))
	for _, adapter := range adapters {
		channelStates[adapter.Name()] = channelState{}
	}

	return &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service"),
		responder:     client,
		bus:           mb,
		settings:      store,
		grammar:       grammar,
		channels:      adapters,
		channelStates: channelStates,
	}, nil
}

func openSettings(cfg config.RenderConfig, log *slog.Logger) (*settings.Store, error) {
	path, err := cfg.ResolveSettingsPath()
	if err != nil {
		return nil, err
	}

	return settings.Open(path, log)
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.bus.Close()

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if err := s.checkResponderHealth(ctx); err != nil {
		return err
	}

	events, unsubscribe := s.bus.SubscribeEvents(ctx, 0)
	defer unsubscribe()
	go func() {
		for event := range events {
			s.recordEvent(event)
		}
	}()

	if s.settings != nil {
		go func() {
			if err := s.settings.Watch(ctx); err != nil {
				s.log.Warn("Rule settings watch stopped", "path", s.settings.Path(), "error", err)
			}
		}()
	}

	serverErrors := make(chan error, 1)
	go s.runHealthServer(ctx, serverErrors)

	go func() {
		ticker := time.NewTicker(healthCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.checkResponderHealth(ctx)
			}
		}
	}()

	errCh := make(chan error, len(s.channels))
	for _, adapter := range s.channels {
		s.setChannelState(adapter.Name(), channelState{Running: true})

		go func() {
			err := adapter.Run(ctx, s.handleInbound)
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErrors:
		return err
	case err := <-errCh:
		return err
	}
}

// handleInbound asks the responder for a reply and passes it through the
// outbound hooks. Hooks never fail; at worst the reply goes out as plain text.
func (s *Service) handleInbound(ctx context.Context, inbound bus.InboundMessage) (bus.OutboundMessage, error) {
	reply, err := s.responder.Reply(ctx, inbound.SessionKey, inbound.Content)
	if err != nil {
		return bus.OutboundMessage{
			Channel:    inbound.Channel,
			ChatID:     inbound.ChatID,
			SessionKey: inbound.SessionKey,
			Error:      err.Error(),
		}, err
	}

	outbound := bus.OutboundMessage{
		Channel:    inbound.Channel,
		ChatID:     inbound.ChatID,
		SessionKey: inbound.SessionKey,
		Content:    reply,
	}

	return s.bus.PrepareOutbound(ctx, outbound), nil
}

func (s *Service) recordEvent(event bus.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch event.Type {
	case bus.EventMessageRendered:
		s.renders.Rendered++
	case bus.EventMessageUnchanged:
		s.renders.Unchanged++
	case bus.EventRenderFailed:
		s.renders.Failed++
		s.renders.LastError = event.Error
	default:
		return
	}
	s.renders.LastAt = event.At.Format(time.RFC3339)
}

func (s *Service) runHealthServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHealthHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultHealthPort
	}

	addr := host + ":" + strconv.Itoa(port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/statusz", s.handleStatus)
	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, s.currentStatus("ok"))
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, s.currentStatus(status))
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	payload := s.currentStatus("ok")
	payload.Render = s.renderStatus()

	s.respondStatus(w, http.StatusOK, payload)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, payload statusResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	responderLastOK := ""
	if !s.responderLastOKAt.IsZero() {
		responderLastOK = s.responderLastOKAt.Format(time.RFC3339)
	}

	return statusResponse{
		Status:            status,
		UptimeSeconds:     uptime,
		ResponderLastOKAt: responderLastOK,
		ResponderLastErr:  s.responderLastErr,
		Channels:          channels,
	}
}

func (s *Service) renderStatus() *renderStatus {
	s.mu.RLock()
	counters := s.renders
	s.mu.RUnlock()

	status := &renderStatus{
		Enabled:        s.bus.HookCount() > 0,
		Grammar:        string(s.grammar),
		renderCounters: counters,
	}
	if s.settings != nil {
		status.SettingsPath = s.settings.Path()
		status.Rules = make(map[string]bool)
		for id, enabled := range s.settings.Snapshot() {
			status.Rules[string(id)] = enabled
		}
	}

	return status
}

func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	anyRunning := false
	for _, state := range s.channelStates {
		if state.Running {
			anyRunning = true
			break
		}
	}

	return anyRunning && !s.responderLastOKAt.IsZero() && s.responderLastErr == ""
}

func (s *Service) checkResponderHealth(ctx context.Context) error {
	if err := s.responder.Health(ctx); err != nil {
		s.mu.Lock()
		s.responderLastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("responder health check failed: %w", err)
	}

	s.mu.Lock()
	s.responderLastErr = ""
	s.responderLastOKAt = time.Now().UTC()
	s.mu.Unlock()

	return nil
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}

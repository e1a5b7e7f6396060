package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"texclaw/pkg/bus"
	"texclaw/pkg/channel"
	"texclaw/pkg/config"
	"texclaw/pkg/intercept"
	"texclaw/pkg/latex"
	"texclaw/pkg/responder"
	"texclaw/pkg/settings"

	"github.com/stretchr/testify/require"
)

type recordingResponder struct {
	mu sync.Mutex

	healthErr   error
	healthCalls int
	replyErr    error
	sessionKeys []string
	texts       []string
}

func (r *recordingResponder) Health(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthCalls++
	return r.healthErr
}

func (r *recordingResponder) Reply(_ context.Context, sessionKey string, text string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionKeys = append(r.sessionKeys, sessionKey)
	r.texts = append(r.texts, text)
	if r.replyErr != nil {
		return "", r.replyErr
	}
	return text, nil
}

func (r *recordingResponder) setHealthErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthErr = err
}

func (r *recordingResponder) snapshot() (int, []string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionKeys := make([]string, len(r.sessionKeys))
	copy(sessionKeys, r.sessionKeys)

	texts := make([]string, len(r.texts))
	copy(texts, r.texts)

	return r.healthCalls, sessionKeys, texts
}

type scriptedAdapter struct {
	name    string
	inbound []bus.InboundMessage

	continueOnHandlerError bool

	mu       sync.Mutex
	outbound []bus.OutboundMessage
	done     chan struct{}
}

func (a *scriptedAdapter) Name() string {
	return a.name
}

func (a *scriptedAdapter) Run(ctx context.Context, handler channel.Handler) error {
	for _, inbound := range a.inbound {
		outbound, err := handler(ctx, inbound)
		if err != nil && !a.continueOnHandlerError {
			return err
		}

		a.mu.Lock()
		a.outbound = append(a.outbound, outbound)
		a.mu.Unlock()
	}

	close(a.done)

	<-ctx.Done()
	return nil
}

func (a *scriptedAdapter) outbounds() []bus.OutboundMessage {
	a.mu.Lock()
	defer a.mu.Unlock()

	outbound := make([]bus.OutboundMessage, len(a.outbound))
	copy(outbound, a.outbound)
	return outbound
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		Gateway: config.GatewayConfig{
			Host: "127.0.0.1",
			Port: freeTCPPort(t),
		},
		Render: config.RenderConfig{
			SettingsPath: filepath.Join(t.TempDir(), "settings.json"),
		},
	}
}

// newTestService builds a service with the renderer attached and rules read
// from a temp settings file.
func newTestService(t *testing.T, cfg *config.Config, client responder.Client, adapter channel.Adapter) (*Service, *settings.Store) {
	t.Helper()

	store, err := settings.Open(cfg.Render.SettingsPath, slog.Default())
	require.NoError(t, err)

	pipeline, err := intercept.NewPipeline(cfg.Render)
	require.NoError(t, err)

	mb := bus.NewMessageBus()
	intercept.NewRenderer(pipeline, store, mb, slog.Default()).Attach(mb)

	svc, err := newService(cfg, client, mb, store, pipeline.Grammar(), []channel.Adapter{adapter}, slog.Default())
	require.NoError(t, err)

	return svc, store
}

func runService(t *testing.T, ctx context.Context, svc *Service) <-chan error {
	t.Helper()

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	return errCh
}

func waitAdapter(t *testing.T, adapter *scriptedAdapter) {
	t.Helper()

	select {
	case <-adapter.done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for adapter scripted messages")
	}
}

func waitStopped(t *testing.T, errCh <-chan error) {
	t.Helper()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for service run to exit")
	}
}

func TestGatewayServiceRunE2ERendersMathReplies(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &recordingResponder{}
	cfg := testConfig(t)
	adapter := &scriptedAdapter{
		name: "telegram",
		inbound: []bus.InboundMessage{
			{Channel: "telegram", ChatID: "100", SessionKey: "telegram:100", Content: "x^2"},
			{Channel: "telegram", ChatID: "100", SessionKey: "telegram:100", Content: "hello there"},
			{Channel: "telegram", ChatID: "200", SessionKey: "telegram:200", Content: "see https://example.com/a/b"},
		},
		done: make(chan struct{}),
	}

	svc, _ := newTestService(t, cfg, client, adapter)
	errCh := runService(t, ctx, svc)
	waitAdapter(t, adapter)

	statusURL := fmt.Sprintf("http://127.0.0.1:%d/statusz", cfg.Gateway.Port)
	require.Eventually(t, func() bool {
		status, ok := fetchStatus(statusURL)
		return ok && status.Render != nil && status.Render.Rendered == 1 && status.Render.Unchanged == 2
	}, 3*time.Second, 25*time.Millisecond)

	cancel()
	waitStopped(t, errCh)

	healthCalls, sessionKeys, texts := client.snapshot()
	require.GreaterOrEqual(t, healthCalls, 1)
	require.Equal(t, []string{"telegram:100", "telegram:100", "telegram:200"}, sessionKeys)
	require.Equal(t, []string{"x^2", "hello there", "see https://example.com/a/b"}, texts)

	wantURL := "https://latex.codecogs.com/png.latex?%5Cdpi%7B200%7D%20%5Ccolor%7Bwhite%7D%7Bx%5E%7B%202%20%7D%7D"
	outbounds := adapter.outbounds()
	require.Len(t, outbounds, 3)
	require.Equal(t, wantURL, outbounds[0].Content)
	require.Equal(t, wantURL, outbounds[0].Metadata[intercept.MetaRenderURL])
	require.Equal(t, "x^2", outbounds[0].Metadata[intercept.MetaOriginalContent])
	require.Equal(t, "hello there", outbounds[1].Content)
	require.Empty(t, outbounds[1].Metadata)
	require.Equal(t, "see https://example.com/a/b", outbounds[2].Content)
	require.Equal(t, "telegram:200", outbounds[2].SessionKey)
}

func TestGatewayServiceRunE2EHonorsRuleSettings(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(t)
	adapter := &scriptedAdapter{
		name: "telegram",
		inbound: []bus.InboundMessage{
			{Channel: "telegram", ChatID: "100", SessionKey: "telegram:100", Content: "a/b"},
		},
		done: make(chan struct{}),
	}

	svc, store := newTestService(t, cfg, &recordingResponder{}, adapter)
	require.NoError(t, store.Set(latex.RuleFractions, false))

	errCh := runService(t, ctx, svc)
	waitAdapter(t, adapter)
	cancel()
	waitStopped(t, errCh)

	outbounds := adapter.outbounds()
	require.Len(t, outbounds, 1)
	require.Equal(t, "a/b", outbounds[0].Content)
}

func TestGatewayServiceRunE2EResponderFailureReturnsOutboundError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &recordingResponder{replyErr: fmt.Errorf("reply exploded")}
	cfg := testConfig(t)
	adapter := &scriptedAdapter{
		name:                   "telegram",
		continueOnHandlerError: true,
		inbound: []bus.InboundMessage{
			{Channel: "telegram", ChatID: "100", SessionKey: "telegram:100", Content: "x^2"},
		},
		done: make(chan struct{}),
	}

	svc, _ := newTestService(t, cfg, client, adapter)
	errCh := runService(t, ctx, svc)
	waitAdapter(t, adapter)
	cancel()
	waitStopped(t, errCh)

	outbounds := adapter.outbounds()
	require.Len(t, outbounds, 1)
	require.Equal(t, "", outbounds[0].Content)
	require.Contains(t, outbounds[0].Error, "reply exploded")
	require.Equal(t, "telegram:100", outbounds[0].SessionKey)
}

func TestGatewayServiceRunFailsWhenResponderUnhealthy(t *testing.T) {
	client := &recordingResponder{healthErr: fmt.Errorf("no upstream")}
	adapter := &scriptedAdapter{name: "telegram", done: make(chan struct{})}

	svc, _ := newTestService(t, testConfig(t), client, adapter)
	err := svc.Run(context.Background())
	require.ErrorContains(t, err, "no upstream")
}

func TestGatewayServiceReadyzTransitionsOnResponderHealthRecovery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &recordingResponder{}
	cfg := testConfig(t)
	adapter := &scriptedAdapter{name: "telegram", done: make(chan struct{})}

	svc, _ := newTestService(t, cfg, client, adapter)
	errCh := runService(t, ctx, svc)

	readyURL := fmt.Sprintf("http://127.0.0.1:%d/readyz", cfg.Gateway.Port)
	waitHTTPStatus(t, readyURL, http.StatusOK, 2*time.Second)

	client.setHealthErr(fmt.Errorf("temporary responder outage"))
	require.Error(t, svc.checkResponderHealth(context.Background()))
	waitHTTPStatus(t, readyURL, http.StatusServiceUnavailable, 2*time.Second)

	client.setHealthErr(nil)
	require.NoError(t, svc.checkResponderHealth(context.Background()))
	waitHTTPStatus(t, readyURL, http.StatusOK, 2*time.Second)

	cancel()
	waitStopped(t, errCh)
}

func fetchStatus(url string) (statusResponse, bool) {
	response, err := http.Get(url)
	if err != nil {
		return statusResponse{}, false
	}
	defer response.Body.Close()

	var status statusResponse
	if err := json.NewDecoder(response.Body).Decode(&status); err != nil {
		return statusResponse{}, false
	}

	return status, true
}

func waitHTTPStatus(t *testing.T, url string, want int, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	last := 0
	for {
		response, err := http.Get(url)
		if err == nil {
			last = response.StatusCode
			require.NoError(t, response.Body.Close())
			if last == want {
				return
			}
		}

		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s to return %d (last %d, err %v)", url, want, last, err)
		}

		time.Sleep(25 * time.Millisecond)
	}
}

func freeTCPPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	addr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}

package pushrelay_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-push-relay/internal/platform/logpush"
	"github.com/tinywideclouds/go-push-relay/internal/storage/memory"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
	"github.com/tinywideclouds/go-push-relay/pushrelay"
	"github.com/tinywideclouds/go-push-relay/pushrelay/config"
)

const testOrigin = "http://localhost:4200"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	server   *httptest.Server
	store    *memory.Store
	provider *logpush.Provider
}

func newFixture(t *testing.T, auth func(http.Handler) http.Handler) *fixture {
	t.Helper()
	logger := newTestLogger()
	cfg := &config.Config{
		ProjectID:  "test-project",
		ListenAddr: ":0",
		CorsConfig: middleware.CorsConfig{AllowedOrigins: []string{testOrigin}},
		Provider: config.ProviderConfig{
			Type:         config.ProviderLog,
			PublicKey:    "pub-key",
			ClientConfig: json.RawMessage(`{"projectId":"test-project"}`),
		},
	}
	store := memory.NewStore()
	provider := logpush.NewProvider(logger)

	svc, err := pushrelay.New(cfg, pushrelay.Dependencies{
		Relay:          pushrelay.NewRelay(cfg, store, provider, logger),
		AuthMiddleware: auth,
	}, logger)
	require.NoError(t, err)

	server := httptest.NewServer(svc.Mux())
	t.Cleanup(server.Close)
	return &fixture{server: server, store: store, provider: provider}
}

func (f *fixture) post(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, f.server.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", testOrigin)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func noopAuth(h http.Handler) http.Handler { return h }

func TestService_TopicLifecycle(t *testing.T) {
	f := newFixture(t, noopAuth)

	resp, out := f.post(t, "/api/v1/topics/add", map[string]string{"topic_name": "Release Notes"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "releasenotes", out["topic"])

	for _, user := range []string{"alice", "bob"} {
		resp, _ = f.post(t, "/api/v1/tokens/add", map[string]string{
			"project_name": "p", "site_name": "s", "user_id": user, "fcm_token": "tok-" + user,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, out = f.post(t, "/api/v1/topics/subscribe", map[string]string{
			"user_id": user, "topic_name": "release notes",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, out["changed"])
	}
	assert.Equal(t, 2, f.store.MembershipCount("releasenotes"))

	// The sender is left out of the topic audience.
	resp, out = f.post(t, "/api/v1/send/topic", map[string]any{
		"topic_name": "releasenotes",
		"title":      "v2 is out",
		"data":       map[string]string{"from_user": "alice"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(push.StatusSent), out["status"])
	assert.EqualValues(t, 1, out["success_count"])

	resp, _ = f.post(t, "/api/v1/topics/remove", map[string]string{"topic_name": "releasenotes"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, f.store.MembershipCount("releasenotes"))
}

func TestService_ErrorStatuses(t *testing.T) {
	f := newFixture(t, noopAuth)

	resp, _ := f.post(t, "/api/v1/topics/add", map[string]string{"topic_name": "!!!"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	f.post(t, "/api/v1/topics/add", map[string]string{"topic_name": "news"})
	resp, _ = f.post(t, "/api/v1/topics/subscribe", map[string]string{"user_id": "nobody", "topic_name": "news"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, out := f.post(t, "/api/v1/send/user", map[string]string{"user_id": "nobody", "title": "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(push.StatusNoTargets), out["status"])
	assert.Zero(t, f.provider.Calls())
}

func TestService_AuthAppliedExceptConfig(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	f := newFixture(t, deny)

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/api/v1/config", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", testOrigin)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var clientCfg map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&clientCfg))
	assert.Equal(t, "pub-key", clientCfg["public_key"])
	assert.Equal(t, map[string]any{"projectId": "test-project"}, clientCfg["provider_config"])

	resp2, _ := f.post(t, "/api/v1/topics/add", map[string]string{"topic_name": "news"})
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	cfg := &config.Config{ListenAddr: ":0"}
	_, err := pushrelay.New(cfg, pushrelay.Dependencies{AuthMiddleware: noopAuth}, newTestLogger())
	assert.Error(t, err)
}

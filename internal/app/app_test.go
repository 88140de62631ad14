package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bazibot/internal/config"
	"bazibot/internal/metrics"
	"bazibot/internal/storage/stubs"
)

func TestRouter_Endpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	m.Event("command")

	var webhookCalls int
	router := newRouter(zap.NewNop(), reg, "polling", func(w http.ResponseWriter, r *http.Request) {
		webhookCalls++
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		method   string
		path     string
		wantCode int
		wantBody string
	}{
		{http.MethodGet, "/health", http.StatusOK, "OK"},
		{http.MethodGet, "/", http.StatusOK, "mode: polling"},
		{http.MethodGet, "/metrics", http.StatusOK, `bazibot_events_total{kind="command"} 1`},
		{http.MethodPost, "/telegram-webhook", http.StatusOK, ""},
		{http.MethodGet, "/telegram-webhook", http.StatusMethodNotAllowed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, strings.NewReader("{}")))
			assert.Equal(t, tt.wantCode, rr.Code)
			if tt.wantBody != "" {
				assert.Contains(t, rr.Body.String(), tt.wantBody)
			}
		})
	}
	assert.Equal(t, 1, webhookCalls)
}

func TestHandleWebhook_RejectsBadJSON(t *testing.T) {
	a := &App{logger: zap.NewNop()}

	rr := httptest.NewRecorder()
	a.handleWebhook(rr, httptest.NewRequest(http.MethodPost, "/telegram-webhook", strings.NewReader("not json")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestOpenStorage_DefaultsToMemory(t *testing.T) {
	db, err := openStorage(context.Background(), &config.Config{StorageBackend: config.BackendMemory}, zap.NewNop())
	require.NoError(t, err)
	_, ok := db.(*stubs.MockDB)
	assert.True(t, ok)
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(&config.Config{LogLevel: "debug", AppEnv: "development"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	logger, err = newLogger(&config.Config{LogLevel: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))

	_, err = newLogger(&config.Config{LogLevel: "loud"})
	assert.Error(t, err)
}

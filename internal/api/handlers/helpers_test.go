package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zatekoja/onesystem-clinic/internal/adapters/database"
	"github.com/zatekoja/onesystem-clinic/internal/adapters/events"
	"github.com/zatekoja/onesystem-clinic/internal/adapters/mirror"
	"github.com/zatekoja/onesystem-clinic/internal/adapters/storage"
	"github.com/zatekoja/onesystem-clinic/internal/api/routes"
	"github.com/zatekoja/onesystem-clinic/internal/application/services"
	"github.com/zatekoja/onesystem-clinic/internal/domain/providers"
	"github.com/zatekoja/onesystem-clinic/internal/domain/schema"
)

type testServer struct {
	handler http.Handler
	core    *services.Core
	store   *database.MemoryStore
	storage *storage.MemoryLocalStorage
}

func newTestServer(t *testing.T, withMirror bool) *testServer {
	t.Helper()
	ctx := context.Background()

	store, err := database.NewMemoryStore(ctx, schema.Clinic())
	require.NoError(t, err)

	var m providers.DocumentMirror
	if withMirror {
		mm := mirror.NewMemoryMirror()
		require.NoError(t, mm.EnsureCollections(ctx))
		m = mm
	}

	local := storage.NewMemoryLocalStorage()
	core := services.NewCore(services.Deps{
		Store:       store,
		Registry:    schema.Clinic(),
		Storage:     local,
		Broadcaster: events.NewLocalBroadcaster(),
		Mirror:      m,
		Bus:         services.BusConfig{QueueChannel: "clinic-queue-sync-v1", BrandingChannel: "branding-bus-v1"},
		Clock:       services.FixedClock(time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)),
	})

	return &testServer{
		handler: routes.NewRouter(core, nil, nil, nil).SetupRoutes(),
		core:    core,
		store:   store,
		storage: local,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

func jsonDecode(w *httptest.ResponseRecorder, dst interface{}) error {
	return json.NewDecoder(w.Body).Decode(dst)
}

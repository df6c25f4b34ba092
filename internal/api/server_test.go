package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pncplab/harvester/internal/catalog"
	"github.com/pncplab/harvester/internal/progress/sinks"
	"github.com/pncplab/harvester/internal/storage/memory"
)

func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()

	older := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC)

	_, err := store.UpsertNotice(ctx, catalog.Notice{
		ControlNumber: "cn-1",
		OrgName:       "Prefeitura A",
		Modality:      "Pregão",
		Status:        "Divulgada",
		Municipality:  "Campinas",
		PublishedAt:   &older,
	})
	require.NoError(t, err)
	_, err = store.UpsertNotice(ctx, catalog.Notice{
		ControlNumber: "cn-2",
		OrgName:       "Prefeitura A",
		Modality:      "Concorrência",
		Status:        "Divulgada",
		Municipality:  "Santos",
		PublishedAt:   &newer,
	})
	require.NoError(t, err)

	_, err = store.UpsertItem(ctx, catalog.Item{ControlNumber: "cn-1", Number: 1, Description: "Caneta"})
	require.NoError(t, err)
	_, err = store.UpsertAttachment(ctx, catalog.Attachment{ControlNumber: "cn-1", Sequence: 1, URL: "https://example.org/a.pdf"})
	require.NoError(t, err)
	require.NoError(t, store.UpsertConversion(ctx, catalog.Conversion{
		ControlNumber: "cn-1",
		Sequence:      1,
		Filename:      "a.pdf",
		Content:       "conteudo",
		OK:            true,
	}))
	return store
}

func doRequest(t *testing.T, handler http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	s := NewServer(seedStore(t), nil, zap.NewNop())
	rec := doRequest(t, s.Handler(), http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	s := NewServer(seedStore(t), nil, zap.NewNop())
	rec := doRequest(t, s.Handler(), http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzStoreDown(t *testing.T) {
	t.Parallel()

	s := NewServer(&failingStore{Store: memory.NewStore()}, nil, zap.NewNop())
	rec := doRequest(t, s.Handler(), http.MethodGet, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := NewServer(seedStore(t), nil, zap.NewNop())
	rec := doRequest(t, s.Handler(), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListNoticesOrderedAndFiltered(t *testing.T) {
	t.Parallel()

	s := NewServer(seedStore(t), nil, zap.NewNop())

	rec := doRequest(t, s.Handler(), http.MethodGet, "/v1/notices")
	require.Equal(t, http.StatusOK, rec.Code)
	var notices []catalog.Notice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &notices))
	require.Len(t, notices, 2)
	require.Equal(t, "cn-2", notices[0].ControlNumber)

	rec = doRequest(t, s.Handler(), http.MethodGet, "/v1/notices?municipio=Campinas")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &notices))
	require.Len(t, notices, 1)
	require.Equal(t, "cn-1", notices[0].ControlNumber)

	rec = doRequest(t, s.Handler(), http.MethodGet, "/v1/notices?data_inicio=2024-04-01")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &notices))
	require.Len(t, notices, 1)
	require.Equal(t, "cn-2", notices[0].ControlNumber)
}

func TestListNoticesEmptyIsJSONArray(t *testing.T) {
	t.Parallel()

	s := NewServer(memory.NewStore(), nil, zap.NewNop())
	rec := doRequest(t, s.Handler(), http.MethodGet, "/v1/notices")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "[]", rec.Body.String())
}

func TestListNoticesBadDate(t *testing.T) {
	t.Parallel()

	s := NewServer(seedStore(t), nil, zap.NewNop())
	rec := doRequest(t, s.Handler(), http.MethodGet, "/v1/notices?data_inicio=10-05-2024")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetNotice(t *testing.T) {
	t.Parallel()

	s := NewServer(seedStore(t), nil, zap.NewNop())

	rec := doRequest(t, s.Handler(), http.MethodGet, "/v1/notices/cn-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var n catalog.Notice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &n))
	require.Equal(t, "cn-1", n.ControlNumber)

	rec = doRequest(t, s.Handler(), http.MethodGet, "/v1/notices/missing")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListItemsAndFiles(t *testing.T) {
	t.Parallel()

	s := NewServer(seedStore(t), nil, zap.NewNop())

	rec := doRequest(t, s.Handler(), http.MethodGet, "/v1/notices/cn-1/items")
	require.Equal(t, http.StatusOK, rec.Code)
	var items []catalog.Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)

	rec = doRequest(t, s.Handler(), http.MethodGet, "/v1/notices/cn-1/files")
	require.Equal(t, http.StatusOK, rec.Code)
	var files []catalog.Attachment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &files))
	require.Len(t, files, 1)

	// Unknown notices yield empty arrays, not errors.
	rec = doRequest(t, s.Handler(), http.MethodGet, "/v1/notices/missing/items")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "[]", rec.Body.String())
}

func TestGetMarkdown(t *testing.T) {
	t.Parallel()

	s := NewServer(seedStore(t), nil, zap.NewNop())

	rec := doRequest(t, s.Handler(), http.MethodGet, "/v1/notices/cn-1/markdown/1")
	require.Equal(t, http.StatusOK, rec.Code)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "conteudo", payload["content"])
	require.Equal(t, true, payload["ok"])

	rec = doRequest(t, s.Handler(), http.MethodGet, "/v1/notices/cn-1/markdown/9")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, s.Handler(), http.MethodGet, "/v1/notices/cn-1/markdown/abc")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s.Handler(), http.MethodGet, "/v1/notices/cn-1/markdown/-1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetProgress(t *testing.T) {
	t.Parallel()

	tracker := sinks.NewTracker()
	s := NewServer(seedStore(t), tracker, zap.NewNop())
	rec := doRequest(t, s.Handler(), http.MethodGet, "/v1/progress")
	require.Equal(t, http.StatusOK, rec.Code)
	var status sinks.RunStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
}

func TestGetProgressDisabled(t *testing.T) {
	t.Parallel()

	s := NewServer(seedStore(t), nil, zap.NewNop())
	rec := doRequest(t, s.Handler(), http.MethodGet, "/v1/progress")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

type failingStore struct {
	*memory.Store
}

func (s *failingStore) CountItems(context.Context, string) (int, error) {
	return 0, errors.New("db down")
}

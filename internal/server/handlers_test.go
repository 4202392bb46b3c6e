package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tickerbrief/internal/artifacts"
	"github.com/aristath/tickerbrief/internal/cache"
	"github.com/aristath/tickerbrief/internal/compute"
	"github.com/aristath/tickerbrief/internal/domain"
	"github.com/aristath/tickerbrief/internal/ledger"
	"github.com/aristath/tickerbrief/internal/query"
)

const ledgerSchema = `
CREATE TABLE jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol TEXT NOT NULL,
    date TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending'
        CHECK (status IN ('pending', 'in_progress', 'completed', 'failed')),
    attempt_count INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    created_at INTEGER NOT NULL,
    started_at INTEGER,
    completed_at INTEGER,
    UNIQUE (symbol, date)
);
`

const artifactsSchema = `
CREATE TABLE artifacts (
    symbol TEXT NOT NULL,
    date TEXT NOT NULL,
    narrative TEXT NOT NULL,
    data TEXT NOT NULL,
    chart BLOB,
    generated_at INTEGER NOT NULL,
    PRIMARY KEY (symbol, date)
);
`

const cacheSchema = `
CREATE TABLE cache_entries (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    expires_at INTEGER NOT NULL
);
`

func openTestDB(t *testing.T, schema string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	_, err = db.Exec(schema)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fakeSnapshots struct {
	byKey map[string]*domain.RawSnapshot
}

func (f *fakeSnapshots) Get(_ context.Context, symbol, date string) (*domain.RawSnapshot, error) {
	return f.byKey[symbol+"/"+date], nil
}

func (f *fakeSnapshots) CountForDate(context.Context, string) (int, error) {
	return len(f.byKey), nil
}

// recordingTriggerer captures trigger requests from the handlers.
type recordingTriggerer struct {
	requests chan domain.TriggerRequest
}

func (f *recordingTriggerer) Trigger(_ context.Context, req domain.TriggerRequest) (*domain.RunSummary, error) {
	f.requests <- req
	return &domain.RunSummary{RunID: "run-1", Date: req.Date}, nil
}

type fixture struct {
	handler http.Handler
	ledger  *ledger.Repository
	snaps   *fakeSnapshots
	trig    *recordingTriggerer
}

func setup(t *testing.T) *fixture {
	ledgerRepo := ledger.NewRepository(openTestDB(t, ledgerSchema), zerolog.Nop())
	artifactRepo := artifacts.NewRepository(openTestDB(t, artifactsSchema))
	cacheManager := cache.NewManager(cache.NewSQLiteStore(openTestDB(t, cacheSchema)), time.Hour, zerolog.Nop())
	snaps := &fakeSnapshots{byKey: map[string]*domain.RawSnapshot{}}
	computer := compute.NewTechnicalComputer(zerolog.Nop())

	queryService := query.NewService(cacheManager, ledgerRepo, artifactRepo, snaps, computer, zerolog.Nop())
	trig := &recordingTriggerer{requests: make(chan domain.TriggerRequest, 8)}

	srv := New(Config{
		Port:           0,
		Log:            zerolog.Nop(),
		BriefHandlers:  NewBriefHandlers(queryService, zerolog.Nop()),
		RunHandlers:    NewRunHandlers(trig, ledgerRepo, zerolog.Nop()),
		SystemHandlers: NewSystemHandlers(nil, queryService, zerolog.Nop()),
	})

	return &fixture{handler: srv.Router(), ledger: ledgerRepo, snaps: snaps, trig: trig}
}

func (f *fixture) seedSnapshot(t *testing.T, symbol, date string) {
	t.Helper()
	payload, err := json.Marshal(domain.SnapshotData{
		Symbol: symbol,
		Candles: []domain.Candle{
			{Date: "2025-12-24", Close: 100, Volume: 100},
			{Date: date, Close: 103, Volume: 100},
		},
	})
	require.NoError(t, err)
	f.snaps.byKey[symbol+"/"+date] = &domain.RawSnapshot{Symbol: symbol, Date: date, Payload: payload}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestGetBrief(t *testing.T) {
	f := setup(t)
	f.seedSnapshot(t, "NVDA", "2025-12-28")

	rec := f.do(http.MethodGet, "/api/briefs/NVDA/2025-12-28", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data     domain.Artifact        `json:"data"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "NVDA", resp.Data.Symbol)
	assert.Equal(t, 103.0, resp.Data.Data.Close)
	assert.Equal(t, string(domain.ReadComputedOnDemand), resp.Metadata["source"])
}

func TestGetBriefNotFound(t *testing.T) {
	f := setup(t)

	rec := f.do(http.MethodGet, "/api/briefs/GONE/2025-12-28", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "missing_input", resp["kind"])
}

func TestGetNarrativeFragment(t *testing.T) {
	f := setup(t)
	f.seedSnapshot(t, "NVDA", "2025-12-28")

	rec := f.do(http.MethodGet, "/api/briefs/NVDA/2025-12-28/narrative", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, string(domain.ReadComputedOnDemand), rec.Header().Get("X-Brief-Source"))
	assert.Contains(t, rec.Body.String(), "NVDA")

	// The first read primed the cache.
	rec = f.do(http.MethodGet, "/api/briefs/NVDA/2025-12-28/narrative", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(domain.ReadCacheHit), rec.Header().Get("X-Brief-Source"))
}

func TestGetChartFragment(t *testing.T) {
	f := setup(t)
	f.seedSnapshot(t, "NVDA", "2025-12-28")

	rec := f.do(http.MethodGet, "/api/briefs/NVDA/2025-12-28/chart", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<svg")
}

func TestTriggerRun(t *testing.T) {
	f := setup(t)

	rec := f.do(http.MethodPost, "/api/runs", `{"date":"2025-12-28","subset":["NVDA"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case req := <-f.trig.requests:
		assert.Equal(t, "2025-12-28", req.Date)
		assert.Equal(t, []string{"NVDA"}, req.Subset)
		assert.Equal(t, "api", req.TriggeredBy)
	case <-time.After(time.Second):
		t.Fatal("trigger never reached the controller")
	}
}

func TestTriggerRunDefaultsToToday(t *testing.T) {
	f := setup(t)

	rec := f.do(http.MethodPost, "/api/runs", `{}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case req := <-f.trig.requests:
		assert.Equal(t, time.Now().UTC().Format("2006-01-02"), req.Date)
	case <-time.After(time.Second):
		t.Fatal("trigger never reached the controller")
	}
}

func TestTriggerRunEmptyBody(t *testing.T) {
	f := setup(t)

	// No body at all still triggers today's run for the whole universe.
	rec := f.do(http.MethodPost, "/api/runs", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case req := <-f.trig.requests:
		assert.Equal(t, time.Now().UTC().Format("2006-01-02"), req.Date)
		assert.Empty(t, req.Subset)
	case <-time.After(time.Second):
		t.Fatal("trigger never reached the controller")
	}
}

func TestTriggerRunRejectsBadDate(t *testing.T) {
	f := setup(t)

	rec := f.do(http.MethodPost, "/api/runs", `{"date":"tomorrow"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRunSummary(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	id, err := f.ledger.CreateJob(ctx, "NVDA", "2025-12-28")
	require.NoError(t, err)
	require.NoError(t, f.ledger.MarkInProgress(ctx, id, 1))
	require.NoError(t, f.ledger.MarkCompleted(ctx, id))

	id, err = f.ledger.CreateJob(ctx, "DBS19", "2025-12-28")
	require.NoError(t, err)
	require.NoError(t, f.ledger.MarkFailed(ctx, id, "missing_input: no snapshot"))

	rec := f.do(http.MethodGet, "/api/runs/2025-12-28", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Total     int          `json:"total"`
			Completed int          `json:"completed"`
			Failed    int          `json:"failed"`
			Jobs      []domain.Job `json:"jobs"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Completed)
	assert.Equal(t, 1, resp.Data.Failed)
	require.Len(t, resp.Data.Jobs, 2)
}

func TestRetryFailedRun(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	id, err := f.ledger.CreateJob(ctx, "DBS19", "2025-12-28")
	require.NoError(t, err)
	require.NoError(t, f.ledger.MarkFailed(ctx, id, "transient: timeout"))

	rec := f.do(http.MethodPost, "/api/runs/2025-12-28/retry", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Data struct {
			Reset []string `json:"reset"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"DBS19"}, resp.Data.Reset)

	job, err := f.ledger.GetJob(ctx, "DBS19", "2025-12-28")
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, job.Status)

	select {
	case req := <-f.trig.requests:
		assert.Equal(t, []string{"DBS19"}, req.Subset)
		assert.Equal(t, "api-retry", req.TriggeredBy)
	case <-time.After(time.Second):
		t.Fatal("retry never re-triggered the run")
	}
}

func TestGetJob(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.ledger.CreateJob(ctx, "NVDA", "2025-12-28")
	require.NoError(t, err)

	rec := f.do(http.MethodGet, "/api/jobs/NVDA/2025-12-28", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data domain.Job `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.JobPending, resp.Data.Status)

	rec = f.do(http.MethodGet, "/api/jobs/GONE/2025-12-28", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	f := setup(t)

	rec := f.do(http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

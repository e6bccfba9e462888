package dashboard

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/davidhoung2/helpbot/internal/config"
	"github.com/davidhoung2/helpbot/internal/db"
	"github.com/davidhoung2/helpbot/internal/metrics"
	"github.com/davidhoung2/helpbot/internal/models"
	"github.com/davidhoung2/helpbot/internal/pipeline"
	"github.com/davidhoung2/helpbot/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var taipei = time.FixedZone("CST", 8*3600)

const exampleMessage = "12/17\n軍K-20539 9A觀測所佈覽用車\n車長：上士曾智偉\n駕駛：上士周宗暘"

type fixture struct {
	router *gin.Engine
	svc    *pipeline.Service
	store  *store.Store
}

func setup(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := db.Open(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	st, err := store.New(store.Opts{DB: gdb, Metrics: m})
	require.NoError(t, err)
	svc, err := pipeline.New(pipeline.Opts{
		Store:    st,
		Location: taipei,
		Now:      func() time.Time { return time.Date(2025, 11, 10, 9, 0, 0, 0, taipei) },
		Metrics:  m,
	})
	require.NoError(t, err)

	router, err := NewRouter(StartOpts{Service: svc, Gatherer: reg, PollInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	return &fixture{router: router, svc: svc, store: st}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) seed(t *testing.T, vehicle, task, date string) uint {
	t.Helper()
	res, err := f.store.Upsert(context.Background(), &models.Dispatch{
		VehicleID:    vehicle,
		TaskName:     task,
		DispatchDate: date,
		Commander:    "上士曾智偉",
		Driver:       "上士周宗暘",
		ChannelID:    "ops",
	})
	require.NoError(t, err)
	return res.ID
}

func messageBody(t *testing.T, text string) string {
	t.Helper()
	b, err := json.Marshal(map[string]string{"channel_id": "ops", "sender_id": "U1", "text": text})
	require.NoError(t, err)
	return string(b)
}

func TestNewRouter_RequiresService(t *testing.T) {
	_, err := NewRouter(StartOpts{})
	assert.ErrorContains(t, err, "service is required")
}

func TestHealthz(t *testing.T) {
	f := setup(t)
	w := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestMetrics(t *testing.T) {
	f := setup(t)
	f.do(t, http.MethodPost, "/api/messages", messageBody(t, "大家好"))

	w := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "helpbot_messages_total")
}

func TestPostMessage_Created(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodPost, "/api/messages", messageBody(t, exampleMessage))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var sig signalJSON
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sig))
	assert.Equal(t, "created", sig.Kind)
	assert.False(t, sig.Silent)
	assert.Len(t, sig.CreatedIDs, 1)

	again := f.do(t, http.MethodPost, "/api/messages", messageBody(t, exampleMessage))
	require.NoError(t, json.Unmarshal(again.Body.Bytes(), &sig))
	assert.Equal(t, "duplicate_skipped", sig.Kind)
	assert.True(t, sig.Silent)
}

func TestPostMessage_NeedsCorrection(t *testing.T) {
	f := setup(t)
	w := f.do(t, http.MethodPost, "/api/messages", messageBody(t, "11/31 軍K-20539\n車長:王\n駕駛:李"))

	var sig signalJSON
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sig))
	assert.Equal(t, "needs_correction", sig.Kind)
	assert.Equal(t, []string{"11/31"}, sig.BadExprs)
	assert.NotEmpty(t, sig.Examples)
}

func TestPostMessage_MissingText(t *testing.T) {
	f := setup(t)
	w := f.do(t, http.MethodPost, "/api/messages", `{"channel_id":"ops"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListDispatches(t *testing.T) {
	f := setup(t)
	f.seed(t, "軍K-2", "", "2025-11-12")
	f.seed(t, "軍K-1", "", "2025-11-11")
	f.seed(t, "軍K-0", "", "2025-11-01") // before today

	w := f.do(t, http.MethodGet, "/api/dispatches", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Dispatches []dispatchJSON `json:"dispatches"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Dispatches, 2)
	assert.Equal(t, "軍K-1", body.Dispatches[0].Key)
	assert.Equal(t, "2025-11-11", body.Dispatches[0].Date)
	assert.Equal(t, "上士曾智偉", body.Dispatches[0].Commander)
}

func TestDeleteDispatch(t *testing.T) {
	f := setup(t)
	id := f.seed(t, "軍K-1", "", "2025-11-11")
	path := "/api/dispatches/" + strconv.FormatUint(uint64(id), 10)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodDelete, "/api/dispatches/abc", "").Code)
}

func TestEditDispatch(t *testing.T) {
	f := setup(t)
	id := f.seed(t, "軍K-1", "線巡", "2025-11-11")
	other := f.seed(t, "軍K-2", "", "2025-11-11")
	path := "/api/dispatches/" + strconv.FormatUint(uint64(id), 10)

	w := f.do(t, http.MethodPatch, path, `{"field":"車長","value":"中士王大明"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var d dispatchJSON
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.Equal(t, "中士王大明", d.Commander)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown field", path, `{"field":"顏色","value":"紅"}`, http.StatusBadRequest},
		{"bad date", path, `{"field":"日期","value":"11/31"}`, http.StatusBadRequest},
		{"collision", path, `{"field":"車號","value":"軍K-2"}`, http.StatusConflict},
		{"missing record", "/api/dispatches/9999", `{"field":"車長","value":"x"}`, http.StatusNotFound},
		{"missing value", path, `{"field":"車長"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.do(t, http.MethodPatch, tt.path, tt.body).Code)
		})
	}

	otherPath := "/api/dispatches/" + strconv.FormatUint(uint64(other), 10)
	w = f.do(t, http.MethodPatch, otherPath, `{"field":"車號","value":"-"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestPurge(t *testing.T) {
	f := setup(t)
	f.seed(t, "軍K-0", "", "2025-11-01")
	f.seed(t, "軍K-1", "", "2025-11-10")

	w := f.do(t, http.MethodPost, "/api/dispatches/purge", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"purged":1}`, w.Body.String())
}

func TestEvents_StreamsSnapshotAndChanges(t *testing.T) {
	f := setup(t)
	f.seed(t, "軍K-1", "", "2025-11-11")

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	nextList := func() listEvent {
		t.Helper()
		event := ""
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: ") && event == "dispatches":
				var evt listEvent
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt))
				return evt
			}
		}
		t.Fatalf("stream ended: %v", scanner.Err())
		return listEvent{}
	}

	first := nextList()
	assert.Equal(t, 1, first.Count)

	f.seed(t, "軍K-2", "", "2025-11-12")
	second := nextList()
	assert.Equal(t, 2, second.Count)
	assert.Equal(t, "軍K-2", second.Dispatches[1].Key)
}

func TestStart_StopsOnCancel(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- Start(ctx, StartOpts{Service: f.svc, Port: 18000 + int(time.Now().UnixNano()%1000)})
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"solax-monitor/internal/collector"
	"solax-monitor/internal/inverter"
	"solax-monitor/internal/manager"
	"solax-monitor/internal/metrics"
	"solax-monitor/internal/solax"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type realtimeBody struct {
	Success   bool           `json:"success"`
	Timestamp string         `json:"timestamp"`
	Total     map[string]any `json:"total"`
	Inverters []manager.View `json:"inverters"`
	Exception string         `json:"exception"`
}

type fixture struct {
	server    *Server
	manager   *manager.Manager
	collector *collector.Collector
	upstream  *httptest.Server
}

func newFixture(t *testing.T, dist, public string) *fixture {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		switch body["wifiSn"] {
		case "SWROOF":
			w.Write([]byte(`{"result":{"acpower":"1000","feedinpower":"-200","soc":"80","inverterStatus":"102",
				"yieldtoday":"8","feedinenergy":"2","consumeenergy":"3.5","powerdc1":"700","powerdc2":"350"}}`))
		default:
			http.Error(w, "unknown dongle", http.StatusBadGateway)
		}
	}))
	t.Cleanup(upstream.Close)

	client := solax.NewClient(upstream.URL, "tok", time.Second)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	mgr := manager.NewManager(manager.ManagerConfig{})
	mgr.Subscribe(m.HandleEvent)

	coll := collector.NewCollector(collector.CollectorConfig{
		Fetcher: client,
		Manager: mgr,
		Metrics: m,
		Targets: []collector.Target{
			{SerialNumber: "SWGARAGE", Name: "Garage"},
			{SerialNumber: "SWROOF", Name: "Roof"},
		},
		Timeout: time.Second,
		Enabled: true,
	})

	srv := NewServer(ServerConfig{
		Manager:     mgr,
		Collector:   coll,
		Raw:         client,
		Gatherer:    reg,
		DistPath:    dist,
		PublicPath:  public,
		CORSOrigins: []string{"http://localhost:5173"},
	})

	return &fixture{server: srv, manager: mgr, collector: coll, upstream: upstream}
}

func (f *fixture) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRealtime(t *testing.T) {
	f := newFixture(t, t.TempDir(), t.TempDir())

	t.Run("EmptyBeforeFirstPoll", func(t *testing.T) {
		rec := f.get(t, "/api/solax/realtime")
		require.Equal(t, http.StatusOK, rec.Code)

		var body realtimeBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(t, body.Success)
		assert.Empty(t, body.Inverters)
	})

	f.collector.CollectOnce(context.Background())

	t.Run("ServesNormalizedSnapshot", func(t *testing.T) {
		rec := f.get(t, "/api/solax/realtime")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

		var body realtimeBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(t, body.Success)
		assert.NotNil(t, body.Total)
		_, err := time.Parse(time.RFC3339, body.Timestamp)
		assert.NoError(t, err)

		// The failing garage inverter must not block the roof update.
		require.Len(t, body.Inverters, 1)
		v := body.Inverters[0]
		assert.Equal(t, "Roof", v.Name)
		assert.Equal(t, 200.0, v.GridFlow)
		assert.Equal(t, 1, v.GridStatus)
		assert.Equal(t, 1200.0, v.Consumption)
		assert.Equal(t, 1050.0, v.PVPower)
		assert.Equal(t, 3.5, v.ImportToday)
		assert.Equal(t, 2.0, v.ExportToday)
		assert.Equal(t, 75.0, v.SelfUseRate)
	})

	t.Run("FaultsListed", func(t *testing.T) {
		rec := f.get(t, "/api/solax/faults")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "SWGARAGE")
		assert.Contains(t, rec.Body.String(), "502")
	})

	t.Run("PanicBecomes500", func(t *testing.T) {
		broken := NewServer(ServerConfig{})
		rec := httptest.NewRecorder()
		broken.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/solax/realtime", nil))

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		var body realtimeBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.False(t, body.Success)
		assert.NotEmpty(t, body.Exception)
	})
}

func TestInverterRoutes(t *testing.T) {
	f := newFixture(t, t.TempDir(), t.TempDir())

	f.manager.RecordSuccess("SWROOF", inverter.RawTelemetry{"acpower": 40.0, "soc": 50.0}, "Roof")

	t.Run("AnalyticsAbsentWithOnePoint", func(t *testing.T) {
		rec := f.get(t, "/api/solax/inverters/SWROOF/analytics")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	f.manager.RecordSuccess("SWROOF", inverter.RawTelemetry{"acpower": 55.0, "soc": 52.0}, "Roof")

	t.Run("Analytics", func(t *testing.T) {
		rec := f.get(t, "/api/solax/inverters/SWROOF/analytics")
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Analytics manager.Analytics `json:"analytics"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 2, body.Analytics.PointsCount)
		assert.Equal(t, 15.0, body.Analytics.LoadTrend)
		assert.Equal(t, 2.0, body.Analytics.SOCChange)
		assert.True(t, body.Analytics.IsCharging)
	})

	t.Run("Inverter", func(t *testing.T) {
		rec := f.get(t, "/api/solax/inverters/SWROOF")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"view"`)
		assert.Contains(t, rec.Body.String(), `"analytics"`)

		rec = f.get(t, "/api/solax/inverters/UNKNOWN")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("History", func(t *testing.T) {
		rec := f.get(t, "/api/solax/inverters/SWROOF/history")
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			WindowSeconds int             `json:"window_seconds"`
			Entries       []json.RawMessage `json:"entries"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 600, body.WindowSeconds)
		assert.Len(t, body.Entries, 2)
	})

	t.Run("RawPassthrough", func(t *testing.T) {
		rec := f.get(t, "/api/solax/raw/SWROOF")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"acpower":"1000"`)

		rec = f.get(t, "/api/solax/raw/SWGARAGE")
		assert.Equal(t, http.StatusBadGateway, rec.Code)

		rec = f.get(t, "/api/solax/raw/NOTCONFIGURED")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("HealthAndMetrics", func(t *testing.T) {
		rec := f.get(t, "/health")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"configured":2`)
		assert.Contains(t, rec.Body.String(), `"reporting":1`)
		assert.NotContains(t, rec.Body.String(), "mqtt_connected")

		rec = f.get(t, "/metrics")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "solax_estimated_load_watts")
	})
}

type fakeConnection bool

func (c fakeConnection) IsConnected() bool { return bool(c) }

func TestHealthReportsMQTT(t *testing.T) {
	srv := NewServer(ServerConfig{
		Manager: manager.NewManager(manager.ManagerConfig{}),
		MQTT:    fakeConnection(true),
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"mqtt_connected":true`)
}

func TestStaticFiles(t *testing.T) {
	dist := t.TempDir()
	public := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dist, "index.html"), []byte("<html>app</html>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dist, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dist, "assets", "app.js"), []byte("console.log(1)"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(public, "logo.svg"), []byte("<svg/>"), 0o644))

	f := newFixture(t, dist, public)

	rec := f.get(t, "/assets/app.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log(1)", rec.Body.String())

	rec = f.get(t, "/logo.svg")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<svg/>", rec.Body.String())

	rec = f.get(t, "/some/client/route")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>app</html>", rec.Body.String())

	// Dot segments are refused outright rather than resolved.
	rec = f.get(t, "/../../etc/passwd")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotContains(t, rec.Body.String(), "root:")

	rec = f.get(t, "/api/solax/unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"success":false`))
}

func TestCORS(t *testing.T) {
	f := newFixture(t, t.TempDir(), t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "/api/solax/realtime", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/solax/realtime", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

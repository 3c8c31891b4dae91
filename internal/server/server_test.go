package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/gridsense/gridwatch/internal/alert/alertlog"
	"github.com/gridsense/gridwatch/internal/alert/notify"
	alertservice "github.com/gridsense/gridwatch/internal/alert/service"
	"github.com/gridsense/gridwatch/internal/baseline"
	"github.com/gridsense/gridwatch/internal/clock"
	"github.com/gridsense/gridwatch/internal/config"
	"github.com/gridsense/gridwatch/internal/events"
	"github.com/gridsense/gridwatch/internal/migration"
	"github.com/gridsense/gridwatch/internal/peak"
	readingservice "github.com/gridsense/gridwatch/internal/reading/service"
	rollupservice "github.com/gridsense/gridwatch/internal/rollup/service"
	settingsservice "github.com/gridsense/gridwatch/internal/settings/service"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupServerTest(t *testing.T) *gin.Engine {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap db: %v", err)
	}
	if err := migration.RunMigrations(sqlDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(9)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	log := zap.NewNop()
	cfg := config.Config{
		DeviceID:         "device-001",
		VoltageReference: 220,
		RatePerKwh:       12.50,
		SampleInterval:   5 * time.Second,
		Timezone:         "UTC",
	}

	readings := readingservice.NewService(readingservice.ServiceParam{
		DB: db, Log: log, GenID: node, Config: cfg,
	})
	settings := settingsservice.NewService(settingsservice.ServiceParam{
		DB: db, Log: log, Config: cfg,
	})
	peaks := peak.NewService(peak.ServiceParam{DB: db, Log: log})
	rollups := rollupservice.NewService(rollupservice.ServiceParam{
		DB: db, Log: log, GenID: node, Config: cfg,
		Readings: readings, Settings: settings, Peaks: peaks,
	})
	alertLog := alertlog.New(db, node, log, alertlog.DefaultDedupeWindow)
	alerts := alertservice.NewService(alertservice.ServiceParam{
		DB:       db,
		Log:      log,
		Clock:    clock.SystemClock{},
		Settings: settings,
		Baseline: baseline.NewAdapter(baseline.AdapterParam{DB: db, Log: log}),
		AlertLog: alertLog,
		Gate:     notify.NewGate(notify.NewLogNotifier(log), nil, log),
		Outbox:   events.NewOutbox(db, node),
	})

	srv := NewServer(ServerParam{
		DB: db, Log: log, Config: cfg,
		Readings: readings, Rollups: rollups, Settings: settings,
		Alerts: alerts, AlertLog: alertLog,
	})
	return srv.Router()
}

func doRequest(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	router := setupServerTest(t)

	w := doRequest(t, router, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestIngestAndLatestReading(t *testing.T) {
	router := setupServerTest(t)

	w := doRequest(t, router, http.MethodPost, "/v1/readings",
		`{"payload":"12.6,220.1,1.5,0.8,2.1,0","recorded_at":"2026-03-15T08:00:05Z"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("ingest status = %d, body %s", w.Code, w.Body.String())
	}

	w = doRequest(t, router, http.MethodGet, "/v1/readings/latest", "")
	if w.Code != http.StatusOK {
		t.Fatalf("latest status = %d", w.Code)
	}

	var resp struct {
		Reading struct {
			Date string  `json:"date"`
			Hour int     `json:"hour"`
			A1   float64 `json:"current_a1"`
		} `json:"reading"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Reading.Date != "2026-03-15" || resp.Reading.Hour != 8 {
		t.Fatalf("reading bucket = %s/%d", resp.Reading.Date, resp.Reading.Hour)
	}
	if resp.Reading.A1 != 1.5 {
		t.Fatalf("a1 = %v", resp.Reading.A1)
	}
}

func TestIngestRejectsMissingPayload(t *testing.T) {
	router := setupServerTest(t)

	w := doRequest(t, router, http.MethodPost, "/v1/readings", `{"payload":""}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestLatestReadingNotFound(t *testing.T) {
	router := setupServerTest(t)

	w := doRequest(t, router, http.MethodGet, "/v1/readings/latest", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestDailySummaryValidation(t *testing.T) {
	router := setupServerTest(t)

	w := doRequest(t, router, http.MethodGet, "/v1/summaries/daily/not-a-date", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad date status = %d", w.Code)
	}

	w = doRequest(t, router, http.MethodGet, "/v1/summaries/daily/2026-03-15", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing summary status = %d", w.Code)
	}
}

func TestHourlySummariesEmptyList(t *testing.T) {
	router := setupServerTest(t)

	w := doRequest(t, router, http.MethodGet, "/v1/summaries/hourly/2026-03-15", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	router := setupServerTest(t)

	w := doRequest(t, router, http.MethodPut, "/v1/settings/alerts",
		`{"power_threshold_watts":1500,"monthly_budget":2000,"voltage_min":210,"voltage_max":230,"push_enabled":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", w.Code, w.Body.String())
	}

	w = doRequest(t, router, http.MethodGet, "/v1/settings/alerts", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}

	var resp struct {
		Settings struct {
			MonthlyBudget float64 `json:"monthly_budget"`
		} `json:"settings"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Settings.MonthlyBudget != 2000 {
		t.Fatalf("budget = %v", resp.Settings.MonthlyBudget)
	}
}

func TestSettingsRejectsInvalidBand(t *testing.T) {
	router := setupServerTest(t)

	w := doRequest(t, router, http.MethodPut, "/v1/settings/alerts",
		`{"voltage_min":240,"voltage_max":200}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestBudgetStatus(t *testing.T) {
	router := setupServerTest(t)

	w := doRequest(t, router, http.MethodGet, "/v1/budget", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Budget struct {
			Month string `json:"month"`
			State string `json:"state"`
		} `json:"budget"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Budget.Month == "" || resp.Budget.State != "NONE" {
		t.Fatalf("budget = %+v", resp.Budget)
	}
}

func TestListAlertsEmpty(t *testing.T) {
	router := setupServerTest(t)

	w := doRequest(t, router, http.MethodGet, "/v1/alerts?year=2026&month=3", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	w = doRequest(t, router, http.MethodGet, "/v1/alerts?month=13", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid month status = %d", w.Code)
	}
}

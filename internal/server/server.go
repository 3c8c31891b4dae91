// Package server exposes the read API and the settings mutation endpoint
// over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gridsense/gridwatch/internal/alert/alertlog"
	alertservice "github.com/gridsense/gridwatch/internal/alert/service"
	"github.com/gridsense/gridwatch/internal/config"
	readingservice "github.com/gridsense/gridwatch/internal/reading/service"
	rollupservice "github.com/gridsense/gridwatch/internal/rollup/service"
	settingsservice "github.com/gridsense/gridwatch/internal/settings/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServerParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Config   config.Config
	Readings *readingservice.Service
	Rollups  *rollupservice.Service
	Settings *settingsservice.Service
	Alerts   *alertservice.Service
	AlertLog *alertlog.Log
}

type Server struct {
	db  *gorm.DB
	log *zap.Logger
	cfg config.Config

	readingSvc  *readingservice.Service
	rollupSvc   *rollupservice.Service
	settingsSvc *settingsservice.Service
	alertSvc    *alertservice.Service
	alertLog    *alertlog.Log
}

func NewServer(p ServerParam) *Server {
	return &Server{
		db:  p.DB,
		log: p.Log.Named("server"),
		cfg: p.Config,

		readingSvc:  p.Readings,
		rollupSvc:   p.Rollups,
		settingsSvc: p.Settings,
		alertSvc:    p.Alerts,
		alertLog:    p.AlertLog,
	}
}

func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	{
		v1.POST("/readings", s.rateLimitIngest(), s.IngestReading)
		v1.GET("/readings/latest", s.LatestReading)

		v1.GET("/summaries/hourly/:date", s.ListHourlySummaries)
		v1.GET("/summaries/daily/:date", s.GetDailySummary)

		v1.GET("/alerts", s.ListAlerts)
		v1.POST("/alerts/:id/read", s.MarkAlertRead)
		v1.GET("/budget", s.GetBudgetStatus)

		v1.GET("/settings/alerts", s.GetAlertSettings)
		v1.PUT("/settings/alerts", s.UpdateAlertSettings)
	}

	return r
}

var Module = fx.Module("server",
	fx.Provide(NewServer),
	fx.Invoke(runServer),
)

func runServer(lc fx.Lifecycle, s *Server) {
	httpServer := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				s.log.Info("http server listening", zap.String("addr", httpServer.Addr))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					s.log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return httpServer.Shutdown(ctx)
		},
	})
}

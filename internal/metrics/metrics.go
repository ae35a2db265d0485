package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/boweazy/smartflow/internal/config"
	"github.com/boweazy/smartflow/internal/log"
	"github.com/boweazy/smartflow/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type SchedulerMetrics struct {
	PublishTotal   *prometheus.CounterVec // outcome: published | failed
	ReminderTotal  *prometheus.CounterVec // outcome: sent | failed | skipped
	PollCycles     prometheus.Counter
	PostsCount     prometheus.Gauge
	BookingsCount  prometheus.Gauge
	ActionLogCount prometheus.Gauge
	store          *store.FileStore
	cfg            *config.Config
	logger         *log.Logger
}

func NewSchedulerMetrics(st *store.FileStore, cfg *config.Config, logger *log.Logger) *SchedulerMetrics {
	m := &SchedulerMetrics{
		PublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartflow_publish_total",
				Help: "Total publish attempts by platform and outcome",
			},
			[]string{"platform", "outcome"},
		),
		ReminderTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartflow_reminder_total",
				Help: "Total reminder sends by channel and outcome",
			},
			[]string{"channel", "outcome"},
		),
		PollCycles: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "smartflow_poll_cycles_total",
				Help: "Total completed poll cycles",
			},
		),
		PostsCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "smartflow_posts",
				Help: "Number of posts in the snapshot",
			},
		),
		BookingsCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "smartflow_bookings",
				Help: "Number of bookings in the snapshot",
			},
		),
		ActionLogCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "smartflow_action_logs",
				Help: "Number of action log entries in the snapshot",
			},
		),
		store:  st,
		cfg:    cfg,
		logger: logger,
	}

	prometheus.MustRegister(
		m.PublishTotal,
		m.ReminderTotal,
		m.PollCycles,
		m.PostsCount,
		m.BookingsCount,
		m.ActionLogCount,
	)

	return m
}

func (m *SchedulerMetrics) Run(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:    m.cfg.MetricsAddr,
		Handler: mux,
	}

	go m.collect(ctx)

	go func() {
		m.logger.Info("Metrics server starting", zap.String("addr", m.cfg.MetricsAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	<-ctx.Done()
	if err := srv.Shutdown(context.Background()); err != nil {
		m.logger.Error("Metrics server shutdown failed", zap.Error(err))
	}
}

func (m *SchedulerMetrics) collect(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Metrics collection shutting down")
			return
		case <-ticker.C:
			posts, bookings, logs, err := m.store.Counts()
			if err != nil {
				m.logger.Error("Failed to count snapshot records", zap.Error(err))
				continue
			}
			m.PostsCount.Set(float64(posts))
			m.BookingsCount.Set(float64(bookings))
			m.ActionLogCount.Set(float64(logs))
		}
	}
}

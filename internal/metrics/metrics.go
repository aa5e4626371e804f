package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Timer metrics
	ActiveTimers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dwell_active_timers",
			Help: "Number of timers held by the registry",
		},
	)

	AccruingTimers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dwell_accruing_timers",
			Help: "Number of timers currently accruing time (0 or 1)",
		},
	)

	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwell_signals_total",
			Help: "Lifecycle signals received by type",
		},
		[]string{"type"},
	)

	SignalsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwell_signals_dropped_total",
			Help: "Lifecycle signals dropped by reason",
		},
		[]string{"reason"},
	)

	// Ledger sync metrics
	AccruedSeconds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwell_accrued_seconds_total",
			Help: "Seconds committed to the ledger",
		},
		[]string{"hostname"},
	)

	FlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dwell_flush_duration_seconds",
			Help:    "Duration of a full ledger flush",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	LedgerWriteErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dwell_ledger_write_errors_total",
			Help: "Failed ledger increments",
		},
	)

	DroppedSeconds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dwell_dropped_seconds_total",
			Help: "Seconds discarded after repeated ledger write failures",
		},
	)

	PendingDeltas = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dwell_pending_deltas",
			Help: "Ledger keys awaiting a successful write",
		},
	)

	RetentionPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dwell_retention_pruned_total",
			Help: "Ledger entries removed by the retention scheduler",
		},
	)

	// Bridge metrics
	BridgeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dwell_bridge_connections",
			Help: "Number of open bridge connections",
		},
	)

	Quiesced = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dwell_quiesced",
			Help: "1 while the tracker is quiesced",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		ActiveTimers,
		AccruingTimers,
		SignalsTotal,
		SignalsDropped,
		AccruedSeconds,
		FlushDuration,
		LedgerWriteErrors,
		DroppedSeconds,
		PendingDeltas,
		RetentionPruned,
		BridgeConnections,
		Quiesced,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler exposes the server mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}

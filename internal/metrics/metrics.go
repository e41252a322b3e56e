// Package metrics exposes Prometheus counters/gauges for the four
// protocol layers and the backends beneath them, plus a cheap local
// atomic mirror for structured-log snapshots — the same shape as the
// teacher gateway's metrics package, relabeled for this domain.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/artie-robotics/can-stack/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus series.
var (
	RTACPSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtacp_frames_sent_total",
		Help: "Total RTACP frames sent (MSG and ACK).",
	})
	RTACPReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtacp_frames_received_total",
		Help: "Total RTACP frames received.",
	})
	RTACPAckTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtacp_ack_timeouts_total",
		Help: "Total RTACP sends that timed out waiting for an ACK.",
	})
	RPCACPCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rpcacp_calls_total",
		Help: "Total RPCACP calls initiated.",
	})
	RPCACPNacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rpcacp_nacks_total",
		Help: "Total RPCACP calls that received a NACK.",
	})
	RPCACPTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rpcacp_call_timeouts_total",
		Help: "Total RPCACP calls that timed out waiting for a response.",
	})
	PSACPPublishes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "psacp_publishes_total",
		Help: "Total PSACP publish operations.",
	})
	PSACPCrcErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "psacp_crc_errors_total",
		Help: "Total PSACP messages dropped for CRC mismatch.",
	})
	BWACPReadies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bwacp_readies_total",
		Help: "Total BWACP READY frames sent.",
	})
	BWACPRepeats = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bwacp_repeats_total",
		Help: "Total BWACP REPEAT frames sent or received.",
	})
	BackendSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backend_frames_sent_total",
		Help: "Total frames sent per backend kind.",
	}, []string{"backend"})
	BackendReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backend_frames_received_total",
		Help: "Total frames received per backend kind.",
	}, []string{"backend"})
	Backpressure = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backend_backpressure_total",
		Help: "Total backpressure events per backend kind.",
	}, []string{"backend"})
	ReassemblyOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reassembly_overflows_total",
		Help: "Total reassembly streams rejected for exceeding table capacity.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrBackendRead  = "backend_read"
	ErrBackendWrite = "backend_write"
	ErrCrcMismatch  = "crc_mismatch"
	ErrInvalidFrame = "invalid_frame"
)

// StartHTTP serves Prometheus metrics and readiness endpoints.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for cheap structured-log snapshots.
var (
	localRTACPSent      uint64
	localRTACPReceived  uint64
	localRPCACPCalls    uint64
	localPSACPPublishes uint64
	localBWACPReadies   uint64
	localErrors         uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	RTACPSent      uint64
	RTACPReceived  uint64
	RPCACPCalls    uint64
	PSACPPublishes uint64
	BWACPReadies   uint64
	Errors         uint64
}

func Snap() Snapshot {
	return Snapshot{
		RTACPSent:      atomic.LoadUint64(&localRTACPSent),
		RTACPReceived:  atomic.LoadUint64(&localRTACPReceived),
		RPCACPCalls:    atomic.LoadUint64(&localRPCACPCalls),
		PSACPPublishes: atomic.LoadUint64(&localPSACPPublishes),
		BWACPReadies:   atomic.LoadUint64(&localBWACPReadies),
		Errors:         atomic.LoadUint64(&localErrors),
	}
}

func IncRTACPSent() {
	RTACPSent.Inc()
	atomic.AddUint64(&localRTACPSent, 1)
}

func IncRTACPReceived() {
	RTACPReceived.Inc()
	atomic.AddUint64(&localRTACPReceived, 1)
}

func IncRTACPAckTimeout() { RTACPAckTimeouts.Inc() }

func IncRPCACPCall() {
	RPCACPCalls.Inc()
	atomic.AddUint64(&localRPCACPCalls, 1)
}

func IncRPCACPNack()    { RPCACPNacks.Inc() }
func IncRPCACPTimeout() { RPCACPTimeouts.Inc() }

func IncPSACPPublish() {
	PSACPPublishes.Inc()
	atomic.AddUint64(&localPSACPPublishes, 1)
}

func IncPSACPCrcError() { PSACPCrcErrors.Inc() }

func IncBWACPReady() {
	BWACPReadies.Inc()
	atomic.AddUint64(&localBWACPReadies, 1)
}

func IncBWACPRepeat() { BWACPRepeats.Inc() }

func IncBackendSent(kind string)     { BackendSent.WithLabelValues(kind).Inc() }
func IncBackendReceived(kind string) { BackendReceived.WithLabelValues(kind).Inc() }
func IncBackpressure(kind string)    { Backpressure.WithLabelValues(kind).Inc() }
func IncReassemblyOverflow()         { ReassemblyOverflows.Inc() }

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge and pre-registers common error
// label series so the first error doesn't incur registration latency.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrBackendRead, ErrBackendWrite, ErrCrcMismatch, ErrInvalidFrame} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

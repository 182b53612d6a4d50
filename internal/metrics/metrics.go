// Package metrics exposes Prometheus counters/gauges for the face
// detection service plus a cheap in-process snapshot for logging,
// carried over unchanged in shape from the teacher's metrics package and
// re-themed onto this domain's observable events.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/facedetect-server/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus series. This is additive observability alongside (not
// instead of) the mandatory five-counter SIGHUP report internal/stats
// owns verbatim; the two surfaces are never merged.
var (
	DetectRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facedetect_requests_total",
		Help: "Total successful face-detect requests.",
	})
	ReplaceRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facereplace_requests_total",
		Help: "Total successful face-replace requests.",
	})
	MalformedRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_requests_total",
		Help: "Total bad-prefix connections served the canned response file.",
	})
	CurrentClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "current_clients",
		Help: "Current number of connections being served.",
	})
	CompletedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "completed_clients_total",
		Help: "Total connections that have finished serving.",
	})
	DetectorErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detector_errors_total",
		Help: "Total invalid-image or no-faces-detected outcomes from the detector.",
	})
	CodecErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codec_errors_total",
		Help: "Total framing/decode failures (invalid message, bad operation, oversize image).",
	})
	AdmissionRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "admission_rejected_total",
		Help: "Total connections rejected outright by admission control. Always 0: admission blocks rather than rejects.",
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
	ErrAccept      = "accept"
	ErrDetect      = "detect"
	ErrReplace     = "replace"
	ErrCodec       = "codec"
	ErrBadPrefixIO = "bad_prefix_file"
)

// StartHTTP serves Prometheus metrics at /metrics and a readiness probe
// at /ready, exactly the shape of the teacher's metrics.StartHTTP.
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

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging without scraping Prometheus
// in-process.
var (
	localDetect       uint64
	localReplace      uint64
	localMalformed    uint64
	localCompleted    uint64
	localDetectorErrs uint64
	localCodecErrs    uint64
	localCurrent      uint64
	localErrors       uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	DetectRequests    uint64
	ReplaceRequests   uint64
	MalformedRequests uint64
	CurrentClients    uint64
	CompletedClients  uint64
	DetectorErrors    uint64
	CodecErrors       uint64
	Errors            uint64
}

func Snap() Snapshot {
	return Snapshot{
		DetectRequests:    atomic.LoadUint64(&localDetect),
		ReplaceRequests:   atomic.LoadUint64(&localReplace),
		MalformedRequests: atomic.LoadUint64(&localMalformed),
		CurrentClients:    atomic.LoadUint64(&localCurrent),
		CompletedClients:  atomic.LoadUint64(&localCompleted),
		DetectorErrors:    atomic.LoadUint64(&localDetectorErrs),
		CodecErrors:       atomic.LoadUint64(&localCodecErrs),
		Errors:            atomic.LoadUint64(&localErrors),
	}
}

func IncDetect() {
	DetectRequests.Inc()
	atomic.AddUint64(&localDetect, 1)
}

func IncReplace() {
	ReplaceRequests.Inc()
	atomic.AddUint64(&localReplace, 1)
}

func IncMalformed() {
	MalformedRequests.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func IncCompleted() {
	CompletedClients.Inc()
	atomic.AddUint64(&localCompleted, 1)
}

func IncDetectorError() {
	DetectorErrors.Inc()
	atomic.AddUint64(&localDetectorErrs, 1)
}

func IncCodecError() {
	CodecErrors.Inc()
	atomic.AddUint64(&localCodecErrs, 1)
}

// SetCurrentClients records the gauge and its local mirror.
func SetCurrentClients(n int) {
	CurrentClients.Set(float64(n))
	atomic.StoreUint64(&localCurrent, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (called once at startup) and
// pre-registers the error label series so the first error does not pay
// Prometheus's registration latency.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrAccept, ErrDetect, ErrReplace, ErrCodec, ErrBadPrefixIO} {
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

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }

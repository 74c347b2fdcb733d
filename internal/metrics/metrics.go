package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	helperRunning = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "kioskd",
		Name:      "helper_running",
		Help:      "Whether a helper slot currently holds a process handle (1=running, 0=stopped).",
	}, []string{"helper"})

	helperStarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kioskd",
		Name:      "helper_starts_total",
		Help:      "Total number of helper processes spawned per slot.",
	}, []string{"helper"})

	helperFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kioskd",
		Name:      "helper_failures_total",
		Help:      "Total number of failed helper operations per slot and operation.",
	}, []string{"helper", "op"})

	gatewayLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kioskd",
		Name:      "gateway_lookup_seconds",
		Help:      "Latency of default gateway discovery in seconds.",
	}, []string{"result"})

	closeDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kioskd",
		Name:      "close_decisions_total",
		Help:      "Window close events by outcome (restart or terminate).",
	}, []string{"decision"})

	linkUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kioskd",
		Name:      "link_up",
		Help:      "Reachability of the gateway status endpoint (1=connected, 0=disconnected).",
	})

	shutdownRemaining = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kioskd",
		Name:      "shutdown_countdown_seconds",
		Help:      "Seconds left before the idle host is shut down (0 while the countdown is paused).",
	})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "kioskd",
		Name:      "build_info",
		Help:      "Build metadata for the running kioskd binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(helperRunning, helperStarts, helperFailures, gatewayLatency, closeDecisions, linkUp, shutdownRemaining, buildInfo)
}

// Registry returns the Prometheus registry containing all kioskd metrics.
func Registry() *prometheus.Registry {
	return registry
}

// SetHelperRunning records whether the helper slot holds a live handle.
func SetHelperRunning(helper string, running bool) {
	if helper == "" {
		return
	}
	value := 0.0
	if running {
		value = 1.0
	}
	helperRunning.WithLabelValues(helper).Set(value)
}

// IncrementHelperStarts counts a successful spawn.
func IncrementHelperStarts(helper string) {
	if helper == "" {
		return
	}
	helperStarts.WithLabelValues(helper).Inc()
}

// IncrementHelperFailure counts a failed start or stop.
func IncrementHelperFailure(helper, op string) {
	if helper == "" {
		return
	}
	helperFailures.WithLabelValues(helper, op).Inc()
}

// ObserveGatewayLookup records the latency of a discovery attempt.
func ObserveGatewayLookup(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	gatewayLatency.WithLabelValues(result).Observe(d.Seconds())
}

// IncrementCloseDecision counts a close event outcome.
func IncrementCloseDecision(decision string) {
	if decision == "" {
		decision = "unknown"
	}
	closeDecisions.WithLabelValues(decision).Inc()
}

// SetLinkUp records gateway reachability.
func SetLinkUp(up bool) {
	if up {
		linkUp.Set(1)
		return
	}
	linkUp.Set(0)
}

// SetShutdownRemaining records the time left on the shutdown countdown.
func SetShutdownRemaining(d time.Duration) {
	if d < 0 {
		d = 0
	}
	shutdownRemaining.Set(d.Seconds())
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}

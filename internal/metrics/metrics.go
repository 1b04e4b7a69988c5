// Package metrics holds the Prometheus collectors of a download session.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors updated by the download manager. Register adds them to a
// registry.
var (
	// SlotsBusy is the number of slots holding a patch.
	SlotsBusy = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "patchdl",
		Name:      "slots_busy",
		Help:      "Number of download slots currently holding a patch.",
	})

	// DownloadRateBytes is the summed rate of all slots.
	DownloadRateBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "patchdl",
		Name:      "download_rate_bytes",
		Help:      "Current aggregate download rate in bytes per second.",
	})

	// BytesRemaining counts bytes not yet downloaded.
	BytesRemaining = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "patchdl",
		Name:      "bytes_remaining",
		Help:      "Bytes left to download across active and queued patches.",
	})

	// AcquisitionsStarted counts strategy starts by transport.
	AcquisitionsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "patchdl",
		Name:      "acquisitions_started_total",
		Help:      "Acquisition attempts started, by transport.",
	}, []string{"transport"})

	// AcquisitionFailures counts failed attempts by failure reason.
	AcquisitionFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "patchdl",
		Name:      "acquisition_failures_total",
		Help:      "Failed acquisition attempts, by failure reason.",
	}, []string{"reason"})

	// Retries counts scheduled retries.
	Retries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "patchdl",
		Name:      "retries_total",
		Help:      "Acquisition retries scheduled after a failure.",
	})

	// PatchesInstalled counts successful installs.
	PatchesInstalled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "patchdl",
		Name:      "patches_installed_total",
		Help:      "Patches handed to the installer successfully.",
	})

	// InstallDuration observes how long each install took.
	InstallDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "patchdl",
		Name:      "install_duration_seconds",
		Help:      "Duration of installer hook invocations in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})

	// Sessions counts finished sessions by terminal state.
	Sessions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "patchdl",
		Name:      "sessions_total",
		Help:      "Finished download sessions, by terminal state.",
	}, []string{"state"})
)

// Register adds all collectors to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		SlotsBusy,
		DownloadRateBytes,
		BytesRemaining,
		AcquisitionsStarted,
		AcquisitionFailures,
		Retries,
		PatchesInstalled,
		InstallDuration,
		Sessions,
	)
}

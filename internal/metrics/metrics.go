package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReapedFiles counts artifacts deleted by the reaper, by what triggered the sweep.
	ReapedFiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "musicbot_reaped_files_total",
		Help: "Downloaded media files removed by the reaper",
	}, []string{"trigger"})

	// FetchTotal counts fetch attempts by outcome.
	FetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "musicbot_fetch_total",
		Help: "Media fetch attempts by result",
	}, []string{"result"})

	PlaybackStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "musicbot_playback_started_total",
		Help: "Tracks handed to the voice transport",
	})

	// ActiveArtifacts is the number of files currently protected from the reaper.
	ActiveArtifacts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "musicbot_active_artifacts",
		Help: "Artifacts currently backing a playback",
	})

	ShutdownTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "musicbot_shutdown_total",
		Help: "Shutdown triggers by whether they performed the transition",
	}, []string{"result"})
)

func IncReaped(trigger string, n int) {
	if n <= 0 {
		return
	}
	ReapedFiles.WithLabelValues(trigger).Add(float64(n))
}

func IncFetch(result string) {
	FetchTotal.WithLabelValues(result).Inc()
}

func IncShutdown(won bool) {
	if won {
		ShutdownTotal.WithLabelValues("performed").Inc()
		return
	}
	ShutdownTotal.WithLabelValues("ignored").Inc()
}

package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/facedetect-server/internal/metrics"
)

// startMetricsLogger periodically logs the Prometheus-mirrored counters,
// the ambient non-Prometheus observability path can-server's
// startMetricsLogger provides for operators who don't scrape /metrics.
func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"detect_requests", snap.DetectRequests,
					"replace_requests", snap.ReplaceRequests,
					"malformed_requests", snap.MalformedRequests,
					"current_clients", snap.CurrentClients,
					"completed_clients", snap.CompletedClients,
					"detector_errors", snap.DetectorErrors,
					"codec_errors", snap.CodecErrors,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}

package cmdutil

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func MetricsServer(logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := fmt.Fprint(w, "OK"); err != nil {
			logger.Err(err).Msgf("error writing to healthz")
		}
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// RunMetricsServer exposes /metrics and /healthz on addr. An empty addr
// disables the server; the run settings leave it empty by default.
func RunMetricsServer(logger zerolog.Logger, addr string) {
	if addr == "" {
		return
	}
	go func() {
		m := MetricsServer(logger)
		if err := http.ListenAndServe(addr, m); err != nil {
			logger.Err(err).Msgf("error exposing metrics endpoints")
		}
	}()
}

package health

import "net/http"

// SetupHttpMux registers /health on mux, backed by checker. The handler
// reports a per-backend breakdown whenever checker is a Reporter (the
// scheduler core's *MultiChecker always is), so /health on a process running
// several cluster backends says which one is unhealthy.
func SetupHttpMux(mux *http.ServeMux, checker Checker) {
	mux.Handle("/health", NewHealthCheckHttpHandler(checker))
}

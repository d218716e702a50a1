package health

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// Reporter is implemented by checkers that can break their result down by
// named sub-check. The scheduler core always wires a *MultiChecker here, so
// /health callers get which backend's watcher is stale rather than one
// opaque error string.
type Reporter interface {
	Results() map[string]error
}

// HealthCheckHttpHandler adapts a Checker to net/http: StatusNoContent when
// healthy, StatusServiceUnavailable otherwise. When the checker is also a
// Reporter the unhealthy body is a JSON per-check breakdown instead of the
// single concatenated error string.
type HealthCheckHttpHandler struct {
	checker Checker
}

func NewHealthCheckHttpHandler(checker Checker) *HealthCheckHttpHandler {
	return &HealthCheckHttpHandler{checker: checker}
}

func (h *HealthCheckHttpHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := h.checker.Check()
	if err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	log.Warnf("health check failed: %s", err)
	w.WriteHeader(http.StatusServiceUnavailable)

	reporter, ok := h.checker.(Reporter)
	if !ok {
		if _, writeErr := w.Write([]byte(err.Error())); writeErr != nil {
			log.Errorf("failed to write health check response: %s", writeErr)
		}
		return
	}

	body := struct {
		Checks map[string]string `json:"checks"`
	}{Checks: map[string]string{}}
	for name, checkErr := range reporter.Results() {
		if checkErr == nil {
			body.Checks[name] = "ok"
		} else {
			body.Checks[name] = checkErr.Error()
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if writeErr := json.NewEncoder(w).Encode(body); writeErr != nil {
		log.Errorf("failed to write health check response: %s", writeErr)
	}
}

package health

import "net/http"

// Check reports whether the service can answer requests, and why not.
type Check func() (ready bool, reason string)

// Healthz returns 200 "ok\n" unconditionally.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// Readyz returns 200 "ready\n" once every check passes, and 503 with the
// first failing reason otherwise.
func Readyz(checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		for _, check := range checks {
			if ok, reason := check(); !ok {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte("not ready: " + reason + "\n"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready\n"))
	}
}

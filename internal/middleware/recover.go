package middleware

import (
	"net/http"
	"runtime/debug"

	"image-vault/internal/logging"
	"image-vault/internal/metrics"
)

const panicBody = `{"success":false,"error":{"message":"internal server error","code":"INTERNAL_ERROR"}}` + "\n"

// Recover turns a handler panic into a generic 500 envelope and logs the
// stack. http.ErrAbortHandler is re-raised so net/http can drop the
// connection.
func Recover() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				metrics.HTTPPanicsTotal.Inc()
				logging.Error("panic serving %s %s: %v\n%s",
					sanitizeLogField(r.Method), sanitizeLogField(r.URL.Path), rec, debug.Stack())

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				if _, err := w.Write([]byte(panicBody)); err != nil {
					logging.Debug("write panic response: %v", err)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/mux"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// panicCatcher recovers any panics, sets a 500, and returns an obvious error
func (a *App) panicCatcher(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if rcvr := recover(); rcvr != nil {
				err, ok := rcvr.(error)
				if !ok {
					err = fmt.Errorf("caught panic: %v", rcvr)
				}
				a.Logger.Error().WithField("error", err.Error()).Logf("panic while handling %s", req.URL.Path)
				a.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			}
		}()
		next.ServeHTTP(w, req)
	})
}

// requestLogger logs one debug line per request
func (a *App) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		arrivalTime := time.Now()
		routeName := ""
		if route := mux.CurrentRoute(req); route != nil {
			routeName = route.GetName()
		}
		reqID := uuid.Must(uuid.NewV4()).String()[:8]

		wrapped := statusRecorder{w, http.StatusOK}
		next.ServeHTTP(&wrapped, req)

		a.Logger.Debug().WithFields(map[string]any{
			"route":       routeName,
			"request_id":  reqID,
			"remote_addr": req.RemoteAddr,
			"method":      req.Method,
			"url":         req.URL.String(),
			"duration_ms": float64(time.Since(arrivalTime)) / float64(time.Millisecond),
			"status":      wrapped.status,
		}).Logf("handled request")
	})
}

func (a *App) setResponseHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		// set before any call to WriteHeader
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, req)
	})
}

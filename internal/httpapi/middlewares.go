package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/book-expert/logger"
	"golang.org/x/time/rate"
)

// HandlerFunc returns the response body to encode as JSON, or an error to
// map to a status. A nil body with a nil error means the handler wrote the
// response itself.
type HandlerFunc func(writer http.ResponseWriter, request *http.Request) (any, error)

// Middleware wraps a HandlerFunc.
type Middleware func(next HandlerFunc) HandlerFunc

// WithMiddlewares composes middlewares; the first one is the outermost.
func WithMiddlewares(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}

		return next
	}
}

// WithResponseHandler writes whatever the wrapped handler returned.
func WithResponseHandler(log *logger.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(writer http.ResponseWriter, request *http.Request) (any, error) {
			resp, err := next(writer, request)
			if err != nil {
				apiErr := toAPIError(err)
				if apiErr.Status >= http.StatusInternalServerError {
					log.Error("%s %s failed: %v", request.Method, request.URL.Path, err)
				}

				writeJSON(writer, apiErr.Status, apiErr, log)

				return nil, nil
			}

			if resp != nil {
				writeJSON(writer, http.StatusOK, resp, log)
			}

			return nil, nil
		}
	}
}

// WithRecover converts a handler panic into a 500 response.
func WithRecover(log *logger.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(writer http.ResponseWriter, request *http.Request) (resp any, err error) {
			defer func() {
				if recovered := recover(); recovered != nil {
					log.Error("Recovered from panic on %s: %v\n%s", request.URL.Path, recovered, debug.Stack())

					resp, err = nil, fmt.Errorf("internal error: %v", recovered)
				}
			}()

			return next(writer, request)
		}
	}
}

// WithRateLimit rejects requests once limiter runs out of tokens.
// A nil limiter admits everything.
func WithRateLimit(limiter *rate.Limiter) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(writer http.ResponseWriter, request *http.Request) (any, error) {
			if limiter != nil && !limiter.Allow() {
				return nil, errRateLimited
			}

			return next(writer, request)
		}
	}
}

// Adapt turns a HandlerFunc into an http.HandlerFunc.
func Adapt(handler HandlerFunc) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		_, _ = handler(writer, request)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// accessLog logs one line per request.
func accessLog(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: writer, status: http.StatusOK}

		next.ServeHTTP(recorder, request)

		log.Info(
			"%s %s %d %s %s",
			request.Method, request.URL.Path, recorder.status,
			time.Since(started).Round(time.Microsecond), request.RemoteAddr,
		)
	})
}

// cors allows every origin, method and header, and answers preflights.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		header := writer.Header()

		origin := request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		header.Set("Access-Control-Allow-Origin", origin)
		header.Set("Access-Control-Allow-Credentials", "true")
		header.Add("Vary", "Origin")

		if request.Method == http.MethodOptions && request.Header.Get("Access-Control-Request-Method") != "" {
			header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")

			requested := request.Header.Get("Access-Control-Request-Headers")
			if requested == "" {
				requested = "*"
			}

			header.Set("Access-Control-Allow-Headers", requested)
			header.Set("Access-Control-Max-Age", "600")
			writer.WriteHeader(http.StatusNoContent)

			return
		}

		next.ServeHTTP(writer, request)
	})
}

func writeJSON(writer http.ResponseWriter, status int, body any, log *logger.Logger) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)

	err := json.NewEncoder(writer).Encode(body)
	if err != nil {
		log.Warn("Failed to encode response: %v", err)
	}
}

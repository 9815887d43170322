/*
Package logx provides a structured logging wrapper based on zerolog.

This file contains the HTTP middleware that logs request lifecycle information such as
URI, method, response status and latency. Client addresses are anonymized before they
reach the log sink.
*/
package logx

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// AnonymizeIP anonymizes the given IP address string.
// For IPv4, it zeros out the last octet; for IPv6, it keeps the first 64 bits.
func AnonymizeIP(ipStr string) string {
	host, _, err := net.SplitHostPort(ipStr)
	if err == nil {
		ipStr = host
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return "unknown_ip"
	}

	if ip.IsLoopback() {
		return "127.0.0.1"
	}

	if v4 := ip.To4(); v4 != nil {
		return v4[:3].String() + ".0"
	}

	if v6 := ip.To16(); v6 != nil {
		return net.IP(append(v6[:8:8], make([]byte, 8)...)).String()
	}

	return ipStr
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// RequestLogger returns an HTTP middleware that logs one entry per request.
// A child logger carrying the request id is injected into the request context.
// WebSocket upgrades are logged when the connection ends, so their latency is the session length.
func RequestLogger() func(next http.Handler) http.Handler {
	baseLogger := Component("http")

	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			upgrade := isWebSocketUpgrade(r)

			logger := baseLogger.With().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("remote_ip", AnonymizeIP(r.RemoteAddr)).
				Str("request_method", r.Method).
				Str("request_uri", r.URL.Path).
				Bool("websocket", upgrade).
				Logger()

			r = r.WithContext(logger.WithContext(r.Context()))

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			t1 := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()

			var logEvent *zerolog.Event
			switch {
			case status >= 500:
				logEvent = logger.Error()
			case status >= 400:
				logEvent = logger.Warn()
			case r.URL.Path == "/health":
				logEvent = logger.Debug()
			default:
				logEvent = logger.Info()
			}

			logEvent.
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("latency", time.Since(t1)).
				Msg("Request completed")
		}

		return http.HandlerFunc(fn)
	}
}

package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rileyhilliard/rx/internal/errors"
)

// HealthFunc reports what /healthz returns, e.g. the connection state.
type HealthFunc func() map[string]string

// Server exposes /metrics and /healthz over HTTP.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Serve starts listening on addr in the background. Use "127.0.0.1:0" for
// an ephemeral port and read it back with Addr.
func Serve(addr string, p *Prometheus, health HealthFunc) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Couldn't listen on %s for metrics", addr),
			"Pick a free address, e.g. --metrics-addr 127.0.0.1:9464")
	}

	s := &Server{
		srv: &http.Server{
			Handler:           NewRouter(p, health),
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln: ln,
	}
	go func() { _ = s.srv.Serve(ln) }()
	return s, nil
}

// NewRouter builds the HTTP routes. health may be nil.
func NewRouter(p *Prometheus, health HealthFunc) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", p.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		body := map[string]string{"status": "ok"}
		if health != nil {
			for k, v := range health() {
				body[k] = v
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}).Methods(http.MethodGet)
	return r
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the server, waiting for in-flight scrapes until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

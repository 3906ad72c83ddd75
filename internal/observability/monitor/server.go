// Package monitor serves live run state over HTTP: a health check, task and
// supervisor stats as JSON, and optionally the pprof endpoints.
//
// The server binds to loopback unless a token is set or AllowInsecure is
// true.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"rtpulse/internal/rt/task"
	"rtpulse/internal/runtime/supervisor"
	logx "rtpulse/pkg/logx"
)

const DefaultAddr = "127.0.0.1:6060"

type Config struct {
	Addr          string
	Token         string
	AllowInsecure bool
	// Pprof mounts net/http/pprof under /debug/pprof/.
	Pprof bool
}

// Sources are read on every request.
type Sources struct {
	Stats      func() task.Stats
	Supervisor func() []supervisor.Stats
}

type Server struct {
	cfg Config
	src Sources
	log logx.Logger

	mu    sync.Mutex
	bound string
}

// New validates cfg. A non-loopback address without a token is refused
// unless AllowInsecure is set.
func New(cfg Config, src Sources, log logx.Logger) (*Server, error) {
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		return nil, fmt.Errorf("monitor addr %q: %w", cfg.Addr, err)
	}
	cfg.Token = strings.TrimSpace(cfg.Token)
	if !cfg.AllowInsecure && cfg.Token == "" && !isLoopbackAddr(cfg.Addr) {
		return nil, fmt.Errorf("monitor addr %q is not loopback: set a token or allow_insecure", cfg.Addr)
	}
	if src.Stats == nil {
		return nil, errors.New("monitor: no stats source")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, src: src, log: log.With(logx.String("comp", "monitor"))}, nil
}

// Addr is the bound listen address while Serve runs, else "".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// Handler returns the routed, authenticated handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.withAuth)
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", s.stats).Methods(http.MethodGet)
	r.HandleFunc("/api/supervisor", s.supervisor).Methods(http.MethodGet)
	if s.cfg.Pprof {
		r.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", hpprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", hpprof.Trace)
		r.PathPrefix("/debug/pprof/").HandlerFunc(hpprof.Index)
	}
	return r
}

// Serve listens and serves until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.mu.Lock()
	s.bound = ln.Addr().String()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.bound = ""
		s.mu.Unlock()
	}()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("monitor started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("pprof", s.cfg.Pprof),
		logx.Bool("token_set", s.cfg.Token != ""),
	)
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("monitor server exited unexpectedly")
	}
	return err
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	st := s.src.Stats().State
	if st != task.StateRunning {
		http.Error(w, st.String(), http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

type statsResponse struct {
	task.Stats
	State string `json:"state"`
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	st := s.src.Stats()
	writeJSON(w, statsResponse{Stats: st, State: st.State.String()})
}

func (s *Server) supervisor(w http.ResponseWriter, _ *http.Request) {
	var out []supervisor.Stats
	if s.src.Supervisor != nil {
		out = s.src.Supervisor()
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func (s *Server) withAuth(next http.Handler) http.Handler {
	tok := s.cfg.Token
	if tok == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
				got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
			}
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

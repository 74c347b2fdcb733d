package httpapi

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Paintersrp/kioskd/internal/api"
	"github.com/Paintersrp/kioskd/internal/engine"
	"github.com/Paintersrp/kioskd/internal/metrics"
	"github.com/Paintersrp/kioskd/internal/resources"
)

const (
	defaultAddr            = "127.0.0.1:7878"
	defaultReadHeader      = 5 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	maxSettingsBytes       = 1 << 20
)

// Config controls construction of the API server.
type Config struct {
	Addr              string
	Controller        api.Controller
	Listener          net.Listener
	Logger            *zap.Logger
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server wraps an http.Server exposing daemon controls.
type Server struct {
	ctrl            api.Controller
	srv             *http.Server
	listener        net.Listener
	logger          *zap.Logger
	shutdownTimeout time.Duration
}

// NewServer constructs a Server with sane defaults.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if v := reflect.ValueOf(cfg.Controller); v.Kind() == reflect.Pointer && v.IsNil() {
		return nil, fmt.Errorf("controller is required, got nil %T", cfg.Controller)
	}
	addr := normalizeAddr(cfg.Addr)
	mux := http.NewServeMux()
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	if srv.ReadHeaderTimeout == 0 {
		srv.ReadHeaderTimeout = defaultReadHeader
	}
	server := &Server{
		ctrl:            cfg.Controller,
		srv:             srv,
		listener:        cfg.Listener,
		logger:          cfg.Logger,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	if server.logger == nil {
		server.logger = zap.NewNop()
	}
	if server.shutdownTimeout == 0 {
		server.shutdownTimeout = defaultShutdownTimeout
	}
	server.registerRoutes(mux)
	return server, nil
}

// Run starts serving until the provided context is cancelled.
func (s *Server) Run(ctx stdcontext.Context) error {
	if ctx == nil {
		ctx = stdcontext.Background()
	}
	errCh := make(chan error, 1)
	stop := make(chan struct{})
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := stdcontext.WithTimeout(stdcontext.Background(), s.shutdownTimeout)
			defer cancel()
			_ = s.srv.Shutdown(shutdownCtx)
		case <-stop:
		}
	}()

	go func() {
		var err error
		if s.listener != nil {
			err = s.srv.Serve(s.listener)
		} else {
			err = s.srv.ListenAndServe()
		}
		errCh <- err
	}()

	s.logger.Info("control api listening", zap.String("addr", s.Addr()))
	err := <-errCh
	close(stop)
	<-shutdownDone
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.srv.Addr
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/helpers", s.handleHelpers)
	mux.HandleFunc("/api/v1/helpers/{name}", s.handleHelper)
	mux.HandleFunc("/api/v1/helpers/{name}/{action}", s.handleHelperAction)
	mux.HandleFunc("/api/v1/gateway", s.handleGateway)
	mux.HandleFunc("/api/v1/window/close", s.handleClose)
	mux.HandleFunc("/api/v1/settings", s.handleSettings)
	mux.HandleFunc("/api/v1/host", s.handleHost)
	mux.HandleFunc("/api/v1/host/shutdown", s.handleHostShutdown)
	mux.HandleFunc("/api/v1/fetch", s.handleFetch)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	result, err := s.ctrl.Status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHelpers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	result, err := s.ctrl.Helpers(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"helpers": result})
}

func (s *Server) handleHelper(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	name := strings.TrimSpace(r.PathValue("name"))
	result, err := s.ctrl.Helper(r.Context(), name)
	if err != nil {
		s.writeErrorWithDetails(w, err, map[string]any{"helper": name})
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHelperAction(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("name"))
	action := r.PathValue("action")
	if action != "start" && action != "stop" {
		s.writeJSON(w, http.StatusNotFound, errorBody{
			Code:    "not_found",
			Message: fmt.Sprintf("unknown helper action %q", action),
		})
		return
	}
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var (
		result *api.HelperReport
		err    error
	)
	if action == "start" {
		result, err = s.ctrl.StartHelper(r.Context(), name)
	} else {
		result, err = s.ctrl.StopHelper(r.Context(), name)
	}
	if err != nil {
		s.writeErrorWithDetails(w, err, map[string]any{"helper": name, "action": action})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{action: result})
}

func (s *Server) handleGateway(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	result, err := s.ctrl.Gateway(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	result, err := s.ctrl.Close(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, result)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		doc, err := s.ctrl.Settings(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeRaw(w, http.StatusOK, doc)
	case http.MethodPut:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxSettingsBytes))
		if err != nil {
			s.writeError(w, fmt.Errorf("read request body: %w", err))
			return
		}
		doc, err := s.ctrl.SaveSettings(r.Context(), json.RawMessage(body))
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeRaw(w, http.StatusOK, doc)
	default:
		s.methodNotAllowed(w, http.MethodGet+", "+http.MethodPut)
	}
}

func (s *Server) handleHost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	result, err := s.ctrl.Host(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHostShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	if err := s.ctrl.ShutdownHost(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"shutdown": true})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	target := r.URL.Query().Get("url")
	result, err := s.ctrl.Fetch(r.Context(), target)
	if err != nil {
		s.writeErrorWithDetails(w, err, map[string]any{"url": target})
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, method string) {
	w.Header().Set("Allow", method)
	s.writeJSON(w, http.StatusMethodNotAllowed, errorBody{
		Code:    "method_not_allowed",
		Message: fmt.Sprintf("method %s not allowed", method),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeRaw(w http.ResponseWriter, status int, doc json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(doc)
}

type errorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeErrorWithDetails(w, err, nil)
}

func (s *Server) writeErrorWithDetails(w http.ResponseWriter, err error, extra map[string]any) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("api request failed", zap.String("code", code), zap.Error(err))
	}
	details := map[string]any{
		"timestamp": time.Now().UTC(),
	}
	for k, v := range extra {
		details[k] = v
	}
	body := errorBody{
		Code:    code,
		Message: err.Error(),
		Details: details,
	}
	s.writeJSON(w, status, body)
}

func classifyError(err error) (int, string) {
	var (
		resolutionErr *resources.ResolutionError
		spawnErr      *engine.SpawnError
		killErr       *engine.KillError
	)
	switch {
	case errors.Is(err, stdcontext.Canceled):
		return 499, "context_canceled"
	case errors.Is(err, stdcontext.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, api.ErrUnknownHelper):
		return http.StatusNotFound, "unknown_helper"
	case errors.Is(err, api.ErrGatewayNotFound):
		return http.StatusServiceUnavailable, "gateway_not_found"
	case errors.Is(err, api.ErrUnsupportedPlatform):
		return http.StatusNotImplemented, "unsupported_platform"
	case errors.Is(err, api.ErrMalformedSettings):
		return http.StatusBadRequest, "malformed_settings"
	case errors.Is(err, api.ErrInvalidURL):
		return http.StatusBadRequest, "invalid_url"
	case errors.Is(err, api.ErrCloseInProgress):
		return http.StatusConflict, "close_in_progress"
	case errors.Is(err, api.ErrClosing):
		return http.StatusConflict, "closing"
	case errors.As(err, &resolutionErr):
		return http.StatusInternalServerError, "helper_unresolved"
	case errors.As(err, &spawnErr):
		return http.StatusInternalServerError, "spawn_failed"
	case errors.As(err, &killErr):
		return http.StatusInternalServerError, "kill_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func normalizeAddr(addr string) string {
	if strings.TrimSpace(addr) == "" {
		return defaultAddr
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		// If parsing failed, trust caller.
		return addr
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

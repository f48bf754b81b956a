package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/petredig/tidl/internal/journal"
	"github.com/petredig/tidl/internal/services"
	"github.com/petredig/tidl/internal/shared"
	"github.com/petredig/tidl/internal/tasks"
)

// ListenerServer is the long-lived control server for listener mode.
//
// It routes /run and /run_sync through the shared-secret gate to the download
// engine. It has no cancellation primitive: it runs for the lifetime of
// listener mode and is stopped only at the process level.
type ListenerServer struct {
	cfg         shared.ListenerConfig
	runner      tasks.Runner
	journal     *journal.RequestLog
	logger      *log.Logger
	downloadDir string
}

// ListenerOpts contains configuration options for creating a ListenerServer.
type ListenerOpts struct {
	Config      shared.ListenerConfig
	Runner      tasks.Runner
	Journal     *journal.RequestLog
	Logger      *log.Logger
	DownloadDir string
}

// NewListenerServer creates a ListenerServer with the provided configuration.
// The config is captured by value: it is read once and immutable for this
// server's lifetime.
func NewListenerServer(opts ListenerOpts) (*ListenerServer, error) {
	if opts.Config.Secret == "" {
		return nil, shared.ErrMissingSecret
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("%w: listener requires a job runner", shared.ErrInvalidArgument)
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Config.Host == "" {
		opts.Config.Host = "127.0.0.1"
	}
	if opts.DownloadDir == "" {
		opts.DownloadDir = "./download"
	}

	return &ListenerServer{
		cfg:         opts.Config,
		runner:      opts.Runner,
		journal:     opts.Journal,
		logger:      opts.Logger,
		downloadDir: opts.DownloadDir,
	}, nil
}

// Router builds the listener's route table: CORS, then the secret gate, then
// the job handler for /run and /run_sync.
func (s *ListenerServer) Router() *BasicRouter {
	router := NewBasicRouter()
	router.Use(CORSMiddleware)
	router.Use(AuthGate(s.cfg.Secret, s.journal))
	router.Handler(&jobHandler{server: s})
	return router
}

// ListenAndServe binds to loopback and serves until the process exits.
//
// A bind failure aborts startup with a diagnostic; no port search is attempted.
func (s *ListenerServer) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind listener port %d: %w", s.cfg.Port, err)
	}

	s.logger.Infof("starting listener mode on %s", addr)
	s.logger.Info("send POST requests to /run or /run_sync with header X-Auth set to your secret")

	srv := &http.Server{Handler: s.Router()}
	return srv.Serve(listener)
}

// CORSMiddleware adds the response headers the browser extension expects.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Auth, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		next.ServeHTTP(w, r)
	})
}

// AuthGate requires the X-Auth header to byte-equal the configured secret.
//
// Rejected requests never reach the job runner; they are journaled as
// "rejected", never as a job attempt. CORS preflights pass through unchecked.
func AuthGate(secret string, requestLog *journal.RequestLog) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			if r.Header.Get("X-Auth") != secret {
				if requestLog != nil {
					requestLog.Append(journal.Entry{Method: r.Method, URL: r.URL.Path, Outcome: "rejected"})
				}
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// jobHandler serves the /run and /run_sync routes.
type jobHandler struct {
	server *ListenerServer
}

// Routes returns the HTTP routes this handler serves.
func (h *jobHandler) Routes() []string {
	return []string{"/run", "/run_sync"}
}

// ServeHTTP dispatches by method and path.
func (h *jobHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPost:
		if strings.TrimSuffix(r.URL.Path, "/") == "/run_sync" {
			h.server.handleRunSync(w, r)
			return
		}
		h.server.handleRun(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// jobRequest is the JSON body of a /run or /run_sync request.
type jobRequest struct {
	URL                 string `json:"url"`
	BearerAuthorization string `json:"bearerAuthorization"`
	BearerToken         string `json:"bearer_token"`
}

// parseJob validates the request body and resolves the bearer token with
// header precedence: Authorization header, then bearerAuthorization, then
// bearer_token.
func parseJob(r *http.Request) (tasks.Job, error) {
	defer r.Body.Close()

	var body jobRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return tasks.Job{}, fmt.Errorf("%w: malformed body", shared.ErrBadRequest)
	}

	rawURL := strings.TrimSpace(body.URL)
	if rawURL == "" {
		return tasks.Job{}, fmt.Errorf("%w: url is required", shared.ErrBadRequest)
	}
	if !services.IsTrackURL(rawURL) {
		return tasks.Job{}, fmt.Errorf("%w: url must start with https://tidal.com/track", shared.ErrBadRequest)
	}

	bearer := ""
	if header := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(header), "bearer ") {
		bearer = strings.TrimSpace(header[len("bearer "):])
	}
	if bearer == "" {
		bearer = strings.TrimSpace(body.BearerAuthorization)
	}
	if bearer == "" {
		bearer = strings.TrimSpace(body.BearerToken)
	}

	return tasks.Job{ID: shared.GenerateID(), URL: rawURL, BearerToken: bearer}, nil
}

// handleRun accepts a job and detaches it; the caller never receives the
// outcome, only the journal records it once finished.
func (s *ListenerServer) handleRun(w http.ResponseWriter, r *http.Request) {
	job, err := parseJob(r)
	if err != nil {
		s.appendJournal(r.Method, r.URL.Path, "bad_request")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.ensureDownloadDir()
	s.detach(r.Method, job)
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// handleRunSync runs a job to completion, holding the connection open. The
// response is HTTP 200 regardless of whether the download succeeded.
func (s *ListenerServer) handleRunSync(w http.ResponseWriter, r *http.Request) {
	job, err := parseJob(r)
	if err != nil {
		s.appendJournal(r.Method, r.URL.Path, "bad_request")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.ensureDownloadDir()
	outcome := s.runner.Run(r.Context(), job)
	s.appendJournal(r.Method, job.URL, outcomeLabel(outcome))
	writeJSON(w, http.StatusOK, outcome)
}

// detach runs the job in its own goroutine with its own failure boundary, so
// a crashing job cannot affect the accept loop or other in-flight requests.
func (s *ListenerServer) detach(method string, job tasks.Job) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Errorf("detached job %s panicked: %v", job.ID, rec)
				s.appendJournal(method, job.URL, "panic")
			}
		}()

		outcome := s.runner.Run(context.Background(), job)
		s.appendJournal(method, job.URL, outcomeLabel(outcome))
	}()
}

func (s *ListenerServer) ensureDownloadDir() {
	if err := os.MkdirAll(s.downloadDir, 0755); err != nil {
		s.logger.Warnf("download directory unavailable: %v", err)
	}
}

func (s *ListenerServer) appendJournal(method, url, outcome string) {
	if s.journal == nil {
		return
	}
	s.journal.Append(journal.Entry{Method: method, URL: url, Outcome: outcome})
}

func outcomeLabel(outcome tasks.Outcome) string {
	return fmt.Sprintf("code=%d codec=%s title=%s", outcome.FinalCode, outcome.Codec, outcome.Title)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body with the given status code.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

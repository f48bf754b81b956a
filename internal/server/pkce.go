package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/petredig/tidl/internal/shared"
)

// PKCEPayload is the callback body a browser or extension posts to /pkce.
//
// Either a full redirect URL (normalizedUri, pkceUri) or the parts to build
// one from (scheme, path, params).
type PKCEPayload struct {
	NormalizedURI string        `json:"normalizedUri"`
	PKCEURI       string        `json:"pkceUri"`
	Scheme        string        `json:"scheme"`
	Path          string        `json:"path"`
	Params        OrderedParams `json:"params"`
}

// Param is one query parameter.
type Param struct {
	Key   string
	Value string
}

// OrderedParams preserves the JSON document order of the params object.
// A plain map would scramble the query string the extension composed.
type OrderedParams []Param

// UnmarshalJSON decodes a JSON object into key order-preserving pairs.
// Non-string values are rendered the way they appear in the document.
func (p *OrderedParams) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*p = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("params must be an object")
	}

	var params OrderedParams
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("params object has a non-string key")
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}

		params = append(params, Param{Key: key, Value: rawToString(raw)})
	}

	*p = params
	return nil
}

func rawToString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	text := strings.TrimSpace(string(raw))
	if text == "null" {
		return ""
	}
	return text
}

// ResolveRedirectURL normalizes a callback payload into one canonical redirect URL.
//
// Precedence: normalizedUri verbatim, then pkceUri verbatim, then a URL
// constructed from scheme and path with params appended as a percent-encoded
// query string in document order. Fails with [shared.ErrInvalidPayload] when
// no branch yields a non-empty URL.
func ResolveRedirectURL(payload PKCEPayload) (string, error) {
	if normalized := strings.TrimSpace(payload.NormalizedURI); normalized != "" {
		return normalized, nil
	}

	if pkceURI := strings.TrimSpace(payload.PKCEURI); pkceURI != "" {
		return pkceURI, nil
	}

	scheme := strings.TrimSpace(payload.Scheme)
	path := strings.TrimSpace(payload.Path)
	if scheme != "" && path != "" {
		var query string
		if len(payload.Params) > 0 {
			pairs := make([]string, 0, len(payload.Params))
			for _, param := range payload.Params {
				pairs = append(pairs, url.QueryEscape(param.Key)+"="+url.QueryEscape(param.Value))
			}
			query = "?" + strings.Join(pairs, "&")
		}

		path = strings.TrimLeft(path, "/")
		if path != "" {
			return scheme + "://" + path + query, nil
		}
		return scheme + "://" + strings.TrimPrefix(query, "?"), nil
	}

	return "", shared.ErrInvalidPayload
}

// PKCEState tracks the callback server lifecycle.
type PKCEState int

const (
	PKCEIdle      PKCEState = iota
	PKCEListening           // bound and awaiting a payload
	PKCECompleted           // payload received, result delivered
	PKCECancelled           // cancelled before a payload arrived
	PKCEStopped             // port unbound
)

func (s PKCEState) String() string {
	switch s {
	case PKCEIdle:
		return "idle"
	case PKCEListening:
		return "listening"
	case PKCECompleted:
		return "completed"
	case PKCECancelled:
		return "cancelled"
	case PKCEStopped:
		return "stopped"
	}
	return "unknown"
}

// sessionActive enforces the process-wide single-session invariant: at most
// one callback server may be listening at a time.
var sessionActive atomic.Bool

// PKCEServer is the ephemeral redirect catcher for one login attempt.
//
// It binds to loopback, serves exactly one successful /pkce exchange, and
// unbinds synchronously before the awaiting login flow is unblocked.
type PKCEServer struct {
	mu       sync.Mutex
	state    PKCEState
	final    PKCEState // Completed or Cancelled, recorded through Stopped
	listener net.Listener
	srv      *http.Server
	result   chan string
	once     sync.Once
	logger   *log.Logger
}

// NewPKCEServer creates a callback server in the Idle state.
func NewPKCEServer(logger *log.Logger) *PKCEServer {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &PKCEServer{
		state:  PKCEIdle,
		result: make(chan string, 1),
		logger: logger,
	}
}

// Start binds the callback server to 127.0.0.1 on the given port (0 picks an
// ephemeral port) and begins awaiting a payload.
//
// Fails fast with [shared.ErrBusy] when another session is already listening;
// the live session is unaffected.
func (s *PKCEServer) Start(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != PKCEIdle {
		return fmt.Errorf("%w: server already started", shared.ErrInvalidArgument)
	}

	if !sessionActive.CompareAndSwap(false, true) {
		return shared.ErrBusy
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		sessionActive.Store(false)
		return fmt.Errorf("failed to bind callback port %d: %w", port, err)
	}

	router := NewBasicRouter()
	router.Handle(http.MethodPost, "/pkce", http.HandlerFunc(s.handleCallback))

	s.listener = listener
	s.srv = &http.Server{Handler: router}
	s.state = PKCEListening

	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Debugf("callback server closed: %v", err)
		}
	}()

	s.logger.Infof("listening for redirect callbacks on http://127.0.0.1:%d/pkce", s.portLocked())
	return nil
}

// Port returns the bound port, or 0 when the server is not listening.
func (s *PKCEServer) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.portLocked()
}

func (s *PKCEServer) portLocked() int {
	if s.listener == nil {
		return 0
	}
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// State returns the current lifecycle state.
func (s *PKCEServer) State() PKCEState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Final reports how the session ended once stopped.
func (s *PKCEServer) Final() PKCEState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final
}

// Result returns the channel that receives the resolved redirect URL.
//
// The channel receives at most one value and is closed when the session ends;
// a cancelled session closes it without a value.
func (s *PKCEServer) Result() <-chan string {
	return s.result
}

// Cancel stops the session and unbinds the port synchronously, even if no
// payload ever arrived. Safe to call at any time, including after completion.
func (s *PKCEServer) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != PKCEListening {
		return
	}

	s.state = PKCECancelled
	s.final = PKCECancelled
	s.unbindLocked()
	// no in-flight exchange to protect, so idle connections can go too
	if s.srv != nil {
		if err := s.srv.Close(); err != nil {
			s.logger.Debugf("callback server close: %v", err)
		}
	}
	s.once.Do(func() { close(s.result) })
}

// handleCallback processes one POST /pkce exchange.
func (s *PKCEServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload PKCEPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	resolved, err := ResolveRedirectURL(payload)
	if err != nil {
		// session stays open for a retrying client
		writeError(w, http.StatusBadRequest, "redirect payload unresolvable")
		return
	}

	s.mu.Lock()
	if s.state != PKCEListening {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "session closed")
		return
	}
	s.state = PKCECompleted
	s.final = PKCECompleted
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	// Unbind before unblocking the login flow so no second exchange can land.
	s.mu.Lock()
	s.unbindLocked()
	s.mu.Unlock()

	s.once.Do(func() {
		s.result <- resolved
		close(s.result)
	})
}

// unbindLocked releases the port and the process-wide session slot. Only the
// accept listener is closed so an in-flight response still reaches its client.
// Callers hold s.mu.
func (s *PKCEServer) unbindLocked() {
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Debugf("callback listener close: %v", err)
		}
	}
	s.listener = nil
	s.state = PKCEStopped
	sessionActive.Store(false)
}

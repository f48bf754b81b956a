// Package server provides the local HTTP control plane for the downloader.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
//
// # PKCE Redirect Catcher
//
// [PKCEServer] is a transient loopback server that completes one PKCE
// authorization-code exchange per login attempt without manual copy-paste.
// A browser or extension posts the final redirect payload to /pkce;
// [ResolveRedirectURL] normalizes it to one canonical URL, the awaiting login
// flow is unblocked, and the port is unbound synchronously. The lifecycle is
// an explicit state machine ([PKCEState]); at most one session may be
// listening process-wide, a second Start fails fast with [shared.ErrBusy].
//
// # Listener Mode
//
// [ListenerServer] is the long-lived server behind the listener command. It
// routes POST /run and POST /run_sync through [AuthGate] (shared-secret
// X-Auth header) to the download engine: /run detaches the job and responds
// immediately, /run_sync blocks until the outcome is known. Download failures
// never surface as HTTP errors; an authorized, well-formed request always
// receives 200 with final_code carrying the result. Every request attempt is
// appended to the [journal.RequestLog].
package server

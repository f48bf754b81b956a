// package auth implements the PKCE login flow and access token persistence
package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/petredig/tidl/internal/server"
	"github.com/petredig/tidl/internal/shared"
	"golang.org/x/oauth2"
)

// LoginFlow drives one PKCE authorization-code exchange.
//
// The user opens the authorize URL in a browser; the final redirect lands on
// the transient /pkce catcher, which hands the URL back here for the code
// exchange.
type LoginFlow struct {
	oauth  *oauth2.Config
	store  *TokenStore
	port   int
	logger *log.Logger

	// overridable in tests
	openBrowser func(string) error
	newCallback func() callbackServer
}

// callbackServer is the slice of [server.PKCEServer] the flow depends on.
type callbackServer interface {
	Start(port int) error
	Port() int
	Result() <-chan string
	Cancel()
}

// NewLoginFlow creates a LoginFlow from the configured OAuth client settings.
func NewLoginFlow(cfg shared.AuthConfig, store *TokenStore, logger *log.Logger) *LoginFlow {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	oauth := &oauth2.Config{
		ClientID:    cfg.ClientID,
		RedirectURL: cfg.RedirectURI,
		Scopes:      strings.Fields(cfg.Scope),
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.AuthorizeURL,
			TokenURL: cfg.TokenURL,
		},
	}

	return &LoginFlow{
		oauth:       oauth,
		store:       store,
		port:        cfg.PKCEPort,
		logger:      logger,
		openBrowser: shared.OpenBrowser,
		newCallback: func() callbackServer { return server.NewPKCEServer(logger) },
	}
}

// Login runs the full flow: print and open the authorize URL, await the
// redirect on the /pkce catcher, exchange the code, and persist the token.
//
// Cancelling the context cancels the callback session and unbinds its port.
func (f *LoginFlow) Login(ctx context.Context) error {
	verifier := oauth2.GenerateVerifier()
	state := shared.GenerateID()

	authorizeURL := f.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))

	f.logger.Info("open the following URL in your browser to authenticate:")
	fmt.Println(authorizeURL)
	if err := f.openBrowser(authorizeURL); err != nil {
		f.logger.Debugf("could not open browser: %v", err)
	}

	catcher := f.newCallback()
	if err := catcher.Start(f.port); err != nil {
		return fmt.Errorf("callback session unavailable: %w", err)
	}

	var redirect string
	select {
	case <-ctx.Done():
		catcher.Cancel()
		return ctx.Err()
	case received, ok := <-catcher.Result():
		if !ok {
			return fmt.Errorf("%w: callback session cancelled", shared.ErrAuthFailed)
		}
		redirect = received
	}

	f.logger.Info("received redirect URL from local endpoint")

	code, err := extractCode(redirect, state)
	if err != nil {
		return err
	}

	token, err := f.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return fmt.Errorf("%w: token exchange failed: %v", shared.ErrAuthFailed, err)
	}

	if err := f.store.Save(token); err != nil {
		return fmt.Errorf("failed to persist token: %w", err)
	}

	f.logger.Info("login successful")
	return nil
}

// TokenSource returns a refreshing token source backed by the stored token.
func (f *LoginFlow) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	token, err := f.store.Load()
	if err != nil {
		return nil, err
	}
	return f.oauth.TokenSource(ctx, token), nil
}

// extractCode pulls the authorization code out of the redirect URL,
// verifying the state parameter when the provider echoed one.
func extractCode(redirect, state string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(redirect))
	if err != nil {
		return "", fmt.Errorf("%w: unparsable redirect url: %v", shared.ErrAuthFailed, err)
	}

	query := parsed.Query()

	if echoed := query.Get("state"); echoed != "" && echoed != state {
		return "", fmt.Errorf("%w: state mismatch", shared.ErrAuthFailed)
	}

	if errParam := query.Get("error"); errParam != "" {
		return "", fmt.Errorf("%w: authorization failed: %s %s",
			shared.ErrAuthFailed, errParam, query.Get("error_description"))
	}

	code := query.Get("code")
	if code == "" {
		return "", fmt.Errorf("%w: redirect carries no authorization code", shared.ErrAuthFailed)
	}

	return code, nil
}

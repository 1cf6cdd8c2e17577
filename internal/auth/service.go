// Package auth signs users in with a password or a federated identity
// provider and turns every failure into a *serviceerr.Error.
package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-auth/internal/account"
	"github.com/openkcm/session-auth/internal/oauth"
	"github.com/openkcm/session-auth/internal/oidc"
	"github.com/openkcm/session-auth/internal/password"
	"github.com/openkcm/session-auth/internal/secretstore"
	"github.com/openkcm/session-auth/internal/serviceerr"
	"github.com/openkcm/session-auth/internal/session"
)

// timingSalt feeds the key derivation for unknown accounts so that they
// cost as much as a wrong password.
const timingSalt = "00000000000000000000000000000000"

type Service struct {
	accounts  account.Repository
	sessions  *session.Manager
	providers map[string]*oauth.Client
	audit     *otlpaudit.AuditLogger
}

type Option func(*Service)

// WithAuditLogger enables audit events for federated sign-ins.
func WithAuditLogger(l *otlpaudit.AuditLogger) Option {
	return func(s *Service) { s.audit = l }
}

func NewService(accounts account.Repository, sessions *session.Manager, clients []*oauth.Client, opts ...Option) *Service {
	s := &Service{
		accounts:  accounts,
		sessions:  sessions,
		providers: make(map[string]*oauth.Client, len(clients)),
	}
	for _, c := range clients {
		s.providers[c.Name()] = c
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

// HasProvider reports whether a provider with name is configured.
func (s *Service) HasProvider(name string) bool {
	_, ok := s.providers[strings.ToLower(name)]
	return ok
}

// SessionID returns the session id presented by the caller.
func (s *Service) SessionID(store secretstore.Store) (string, bool) {
	return s.sessions.SessionID(store)
}

// SignInWithPassword creates a session for the account with email when
// password matches. Unknown accounts, accounts without a password and wrong
// passwords are indistinguishable to the caller.
func (s *Service) SignInWithPassword(ctx context.Context, store secretstore.Store, email, pw string, meta session.Meta) (session.Session, error) {
	cred, err := s.accounts.CredentialByEmail(ctx, email)
	switch {
	case errors.Is(err, serviceerr.ErrNotFound):
		password.Compare(ctx, pw, timingSalt, "")
		return session.Session{}, serviceerr.ErrInvalidCredentials
	case err != nil:
		slogctx.Error(ctx, "Failed to load credential", "error", err)
		return session.Session{}, serviceerr.New(serviceerr.CodePersistenceUnavailable, err)
	}

	ctx = slogctx.With(ctx, "user_id", cred.UserID)

	if !cred.HasPassword() {
		slogctx.Info(ctx, "Password sign-in for an account without a password")
		password.Compare(ctx, pw, timingSalt, "")
		return session.Session{}, serviceerr.ErrInvalidCredentials
	}

	if !password.Compare(ctx, pw, cred.PasswordSalt, cred.PasswordHash) {
		slogctx.Info(ctx, "Password sign-in with a wrong password")
		return session.Session{}, serviceerr.ErrInvalidCredentials
	}

	sess, err := s.sessions.Create(ctx, store, cred.UserID, meta)
	if err != nil {
		return session.Session{}, serviceerr.New(serviceerr.CodePersistenceUnavailable, err)
	}

	slogctx.Info(ctx, "Signed in with password")

	return sess, nil
}

// AuthURL starts a federated sign-in and returns the provider URL to
// redirect the user agent to.
func (s *Service) AuthURL(ctx context.Context, provider string, store secretstore.Store) (string, error) {
	client, err := s.client(provider)
	if err != nil {
		return "", err
	}

	u, err := client.CreateAuthURL(store)
	if err != nil {
		slogctx.Error(ctx, "Failed to create the authorization URL", "provider", client.Name(), "error", err)
		return "", serviceerr.New(serviceerr.CodeServerError, err)
	}

	return u, nil
}

// ProviderRejected handles a callback carrying an error from the provider
// instead of an authorization code. The flow's secrets are discarded.
func (s *Service) ProviderRejected(ctx context.Context, provider, errCode, description string, store secretstore.Store) error {
	client, err := s.client(provider)
	if err != nil {
		return err
	}

	client.Abandon(store)

	ctx = slogctx.With(ctx, "provider", client.Name())
	slogctx.Warn(ctx, "Provider returned an error", "error", errCode, "error_description", description)
	s.auditFailure(ctx, client.Name(), oauth.Identity{}, "provider error: "+errCode)

	return serviceerr.New(serviceerr.CodeProviderError, nil)
}

// SignInWithProvider completes a federated sign-in. An identity already
// linked to an account signs that account in. Otherwise the account with
// the same email is linked, provided it may use the provider. Accounts are
// never created here.
func (s *Service) SignInWithProvider(ctx context.Context, provider, code, state string, store secretstore.Store, meta session.Meta) (session.Session, error) {
	client, err := s.client(provider)
	if err != nil {
		return session.Session{}, err
	}

	ctx = slogctx.With(ctx, "provider", client.Name())

	if code == "" || state == "" {
		return session.Session{}, serviceerr.New(serviceerr.CodeCallbackParamsMissing, nil)
	}

	identity, err := client.FetchUser(ctx, code, state, store)
	if err != nil {
		serr := fromOAuthError(err)
		slogctx.Warn(ctx, "Federated sign-in failed", "code", serr.Err, "error", err)
		s.auditFailure(ctx, client.Name(), identity, string(serr.Err))
		return session.Session{}, serr
	}

	if identity.Email == "" {
		s.auditFailure(ctx, client.Name(), identity, string(serviceerr.CodeEmailRequired))
		return session.Session{}, serviceerr.New(serviceerr.CodeEmailRequired, nil)
	}

	userID, err := s.resolveAccount(ctx, client.Name(), identity)
	if err != nil {
		serr := serviceerr.From(err)
		s.auditFailure(ctx, client.Name(), identity, string(serr.Err))
		return session.Session{}, serr
	}

	ctx = slogctx.With(ctx, "user_id", userID)

	sess, err := s.sessions.Create(ctx, store, userID, meta)
	if err != nil {
		s.auditFailure(ctx, client.Name(), identity, "failed to store session")
		return session.Session{}, serviceerr.New(serviceerr.CodePersistenceUnavailable, err)
	}

	slogctx.Info(ctx, "Signed in with provider")
	s.auditSuccess(ctx, client.Name(), identity, userID)

	return sess, nil
}

func (s *Service) resolveAccount(ctx context.Context, provider string, identity oauth.Identity) (string, error) {
	link, err := s.accounts.GetLink(ctx, provider, identity.ProviderUserID)
	switch {
	case err == nil:
		return link.UserID, nil
	case !errors.Is(err, serviceerr.ErrNotFound):
		slogctx.Error(ctx, "Failed to load identity link", "error", err)
		return "", serviceerr.New(serviceerr.CodePersistenceUnavailable, err)
	}

	cred, err := s.accounts.CredentialByEmail(ctx, identity.Email)
	switch {
	case errors.Is(err, serviceerr.ErrNotFound):
		slogctx.Info(ctx, "No account for federated identity")
		return "", serviceerr.New(serviceerr.CodeNotProvisioned, nil)
	case err != nil:
		slogctx.Error(ctx, "Failed to load account", "error", err)
		return "", serviceerr.New(serviceerr.CodePersistenceUnavailable, err)
	}

	allowed, err := s.accounts.IsProviderAllowed(ctx, cred.UserID, provider)
	if err != nil {
		slogctx.Error(ctx, "Failed to load allowed providers", "error", err)
		return "", serviceerr.New(serviceerr.CodePersistenceUnavailable, err)
	}
	if !allowed {
		slogctx.Info(ctx, "Provider not allowed for account", "user_id", cred.UserID)
		return "", serviceerr.New(serviceerr.CodeProviderNotAllowed, nil)
	}

	linkedTo, err := s.accounts.UpsertLink(ctx, account.Link{
		Provider:       provider,
		ProviderUserID: identity.ProviderUserID,
		UserID:         cred.UserID,
		Issuer:         identity.Issuer,
		TenantID:       identity.TenantID,
	})
	if err != nil {
		slogctx.Error(ctx, "Failed to link identity", "error", err)
		return "", serviceerr.New(serviceerr.CodePersistenceUnavailable, err)
	}
	if linkedTo != cred.UserID {
		slogctx.Warn(ctx, "Federated identity is linked to another account", "user_id", cred.UserID, "linked_user_id", linkedTo)
		return "", serviceerr.New(serviceerr.CodeProviderNotAllowed, nil)
	}

	slogctx.Info(ctx, "Linked federated identity", "user_id", cred.UserID)

	return cred.UserID, nil
}

// SignOut deletes the session and clears the client state. Client state is
// cleared even when the session cannot be deleted.
func (s *Service) SignOut(ctx context.Context, sessionID string, store secretstore.Store) {
	if sessionID != "" {
		if err := s.sessions.Delete(ctx, sessionID); err != nil {
			slogctx.Warn(ctx, "Failed to delete session on sign-out", "error", err)
		}
	}

	s.sessions.ClearClientState(store)
}

// ValidateSession returns the session with id after recording activity on
// it. A missing or expired session is serviceerr.ErrUnauthenticated.
func (s *Service) ValidateSession(ctx context.Context, store secretstore.Store, id string, meta session.Meta) (*session.Session, error) {
	if id == "" {
		return nil, serviceerr.ErrUnauthenticated
	}

	sess, err := s.sessions.Touch(ctx, store, id, meta)
	if err != nil {
		slogctx.Error(ctx, "Failed to validate session", "error", err)
		return nil, serviceerr.New(serviceerr.CodePersistenceUnavailable, err)
	}
	if sess == nil {
		return nil, serviceerr.ErrUnauthenticated
	}

	return sess, nil
}

func (s *Service) client(provider string) (*oauth.Client, error) {
	client, ok := s.providers[strings.ToLower(provider)]
	if !ok {
		return nil, serviceerr.New(serviceerr.CodeInvalidProvider, nil)
	}

	return client, nil
}

// fromOAuthError maps federated identity client failures to their codes.
// Key set failures are joined with ErrInvalidToken and are matched first.
func fromOAuthError(err error) *serviceerr.Error {
	code := serviceerr.CodeServerError
	switch {
	case errors.Is(err, oauth.ErrInvalidState):
		code = serviceerr.CodeInvalidState
	case errors.Is(err, oauth.ErrInvalidCodeVerifier):
		code = serviceerr.CodeInvalidCodeVerifier
	case errors.Is(err, oauth.ErrRetrieveToken), errors.Is(err, oauth.ErrInvalidTokenSchema):
		code = serviceerr.CodeTokenRetrievalFailed
	case errors.Is(err, oidc.ErrDiscovery), errors.Is(err, oidc.ErrKeySet):
		code = serviceerr.CodeOIDCDiscoveryFailed
	case errors.Is(err, oidc.ErrConfig):
		code = serviceerr.CodeOIDCConfigInvalid
	case errors.Is(err, oauth.ErrInvalidNonce):
		code = serviceerr.CodeInvalidNonce
	case errors.Is(err, oauth.ErrInvalidToken):
		code = serviceerr.CodeInvalidToken
	case errors.Is(err, oauth.ErrFetchUser):
		code = serviceerr.CodeFetchUserFailed
	case errors.Is(err, oauth.ErrInvalidUserSchema):
		code = serviceerr.CodeInvalidUserSchema
	}

	return serviceerr.New(code, err)
}

func (s *Service) auditMetadata(ctx context.Context, identity oauth.Identity) (otlpaudit.EventMetadata, bool) {
	if s.audit == nil {
		slogctx.Warn(ctx, "audit logger is nil; skipping user login event")
		return otlpaudit.EventMetadata{}, false
	}

	metadata, err := otlpaudit.NewEventMetadata("session auth", identity.TenantID, uuid.NewString())
	if err != nil {
		slogctx.Error(ctx, "creating audit metadata", "error", err)
		return otlpaudit.EventMetadata{}, false
	}

	return metadata, true
}

func (s *Service) auditSuccess(ctx context.Context, provider string, identity oauth.Identity, userID string) {
	metadata, ok := s.auditMetadata(ctx, identity)
	if !ok {
		return
	}

	event, err := otlpaudit.NewUserLoginSuccessEvent(metadata, userID, otlpaudit.LOGINMETHOD_OPENIDCONNECT, otlpaudit.MFATYPE_NONE, otlpaudit.USERTYPE_BUSINESS, provider)
	if err != nil {
		slogctx.Error(ctx, "creating audit log", "error", err)
		return
	}

	if err := s.audit.SendEvent(ctx, event); err != nil {
		slogctx.Error(ctx, "Failed to send audit log for user login success", "error", err)
	}
}

func (s *Service) auditFailure(ctx context.Context, provider string, identity oauth.Identity, reason string) {
	metadata, ok := s.auditMetadata(ctx, identity)
	if !ok {
		return
	}

	objectID := identity.ProviderUserID
	if objectID == "" {
		objectID = provider
	}

	event, err := otlpaudit.NewUserLoginFailureEvent(metadata, objectID, otlpaudit.LOGINMETHOD_OPENIDCONNECT, otlpaudit.FailReason(reason), provider)
	if err != nil {
		slogctx.Error(ctx, "creating audit log", "error", err)
		return
	}

	if err := s.audit.SendEvent(ctx, event); err != nil {
		slogctx.Error(ctx, "Failed to send audit log for user login failure", "error", err)
	}
}

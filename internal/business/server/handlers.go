package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-auth/internal/auth"
	"github.com/openkcm/session-auth/internal/config"
	"github.com/openkcm/session-auth/internal/secretstore"
	"github.com/openkcm/session-auth/internal/serviceerr"
	"github.com/openkcm/session-auth/internal/session"
)

const maxBodyBytes = 1 << 20

type loginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=200"`
}

type statusResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type handler struct {
	svc      *auth.Service
	validate *validator.Validate

	signInPath      string
	afterSignInPath string
	trustProxy      bool
}

func newHandler(cfg *config.Config, svc *auth.Service) *handler {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &handler{
		svc:             svc,
		validate:        validate,
		signInPath:      cfg.SessionManager.SignInPath,
		afterSignInPath: cfg.SessionManager.AfterSignInPath,
		trustProxy:      cfg.HTTP.TrustProxyHeaders,
	}
}

// authorize redirects to the provider's authorization endpoint.
func (h *handler) authorize(w http.ResponseWriter, r *http.Request) {
	store := secretstore.NewCookieStore(w, r)

	u, err := h.svc.AuthURL(r.Context(), r.PathValue("provider"), store)
	if err != nil {
		h.redirectToSignIn(w, r, err)
		return
	}

	http.Redirect(w, r, u, http.StatusFound)
}

// callback completes a federated sign-in. Failures redirect to the sign-in
// page with the error code in the query.
func (h *handler) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	provider := r.PathValue("provider")
	query := r.URL.Query()
	store := secretstore.NewCookieStore(w, r)

	var err error
	if providerErr := query.Get("error"); providerErr != "" {
		err = h.svc.ProviderRejected(ctx, provider, providerErr, query.Get("error_description"), store)
	} else {
		_, err = h.svc.SignInWithProvider(ctx, provider, query.Get("code"), query.Get("state"), store, h.meta(r))
	}

	recordSignIn(ctx, "oauth:"+strings.ToLower(provider), err)

	if err != nil {
		h.redirectToSignIn(w, r, err)
		return
	}

	http.Redirect(w, r, h.afterSignInPath, http.StatusFound)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req loginRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		slogctx.Debug(ctx, "Malformed login request", "error", err)
		writeError(w, &serviceerr.Error{Err: serviceerr.CodeInvalidRequest, Description: "Malformed JSON"})
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				slogctx.Debug(ctx, "Invalid login request", "field", fe.Field(), "tag", fe.Tag())
			}
		}
		writeError(w, serviceerr.New(serviceerr.CodeInvalidRequest, err))
		return
	}

	store := secretstore.NewCookieStore(w, r)
	_, err := h.svc.SignInWithPassword(ctx, store, req.Email, req.Password, h.meta(r))
	recordSignIn(ctx, "password", err)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Success: true})
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	store := secretstore.NewCookieStore(w, r)
	id, _ := h.svc.SessionID(store)

	h.svc.SignOut(r.Context(), id, store)

	http.Redirect(w, r, h.signInPath, http.StatusSeeOther)
}

func (h *handler) session(w http.ResponseWriter, r *http.Request) {
	store := secretstore.NewCookieStore(w, r)

	id, ok := h.svc.SessionID(store)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, statusResponse{})
		return
	}

	if _, err := h.svc.ValidateSession(r.Context(), store, id, h.meta(r)); err != nil {
		writeJSON(w, serviceerr.From(err).HTTPStatus(), statusResponse{})
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Success: true})
}

func (h *handler) meta(r *http.Request) session.Meta {
	return session.Meta{
		UserAgent: r.UserAgent(),
		IPAddress: clientIP(r, h.trustProxy),
	}
}

func (h *handler) redirectToSignIn(w http.ResponseWriter, r *http.Request, err error) {
	serr := serviceerr.From(err)
	if serr.Err == serviceerr.CodeServerError {
		slogctx.Error(r.Context(), "Sign-in failed", "error", err)
	}

	http.Redirect(w, r, h.signInPath+"?error="+url.QueryEscape(string(serr.Err)), http.StatusFound)
}

func writeError(w http.ResponseWriter, err error) {
	serr := serviceerr.From(err)
	msg := serr.Description
	if msg == "" {
		msg = serr.Err.Message()
	}

	writeJSON(w, serr.HTTPStatus(), statusResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

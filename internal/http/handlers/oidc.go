// Package handlers expone los flujos de autenticación externa por HTTP.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/idlink/internal/domain/repository"
	httpx "github.com/dropDatabas3/idlink/internal/http"
	mw "github.com/dropDatabas3/idlink/internal/http/middlewares"
	"github.com/dropDatabas3/idlink/internal/identity"
	"github.com/dropDatabas3/idlink/internal/observability/logger"
	"github.com/dropDatabas3/idlink/internal/oidc"
	"github.com/dropDatabas3/idlink/internal/security/password"
	"github.com/dropDatabas3/idlink/internal/state"
)

// OIDCDeps contiene las dependencias del handler.
type OIDCDeps struct {
	Flow       *oidc.Flow
	Reconciler *identity.Reconciler
	States     *state.Store
	Accounts   repository.AccountRepository
}

type oidcHandler struct {
	flow       *oidc.Flow
	reconciler *identity.Reconciler
	states     *state.Store
	accounts   repository.AccountRepository
}

func NewOIDC(d OIDCDeps) *oidcHandler {
	return &oidcHandler{
		flow:       d.Flow,
		reconciler: d.Reconciler,
		states:     d.States,
		accounts:   d.Accounts,
	}
}

func (h *oidcHandler) Register(r chi.Router) {
	r.Route("/v1/auth/oidc", func(r chi.Router) {
		r.Get("/start", h.start)
		r.Get("/callback", h.callback)
		r.Post("/link/start", h.linkStart)
		r.Post("/confirm-link", h.confirmLink)
		r.Post("/unlink", h.unlink)
	})
}

type accountView struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	DisplayName  string `json:"display_name,omitempty"`
	AuthProvider string `json:"auth_provider"`
	Linked       bool   `json:"linked"`
}

func viewOf(a *repository.Account) *accountView {
	if a == nil {
		return nil
	}
	return &accountView{
		ID:           a.ID,
		Username:     a.Username,
		Email:        a.Email,
		DisplayName:  a.DisplayName,
		AuthProvider: string(a.AuthProvider),
		Linked:       a.IsLinked(),
	}
}

func metaOf(r *http.Request) identity.RequestMeta {
	return identity.RequestMeta{
		IP:        mw.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// currentAccountID lee la cuenta autenticada del header X-Account-ID.
// La emisión de sesiones queda afuera de este servicio: el gateway upstream
// valida la sesión y propaga la identidad en este header.
func currentAccountID(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.Header.Get("X-Account-ID"))
	if raw == "" {
		return 0, errors.New("missing X-Account-ID")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid X-Account-ID")
	}
	return id, nil
}

// GET /v1/auth/oidc/start
func (h *oidcHandler) start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token, err := h.states.Issue(ctx, state.ModeLogin, 0)
	if err != nil {
		logger.From(ctx).Error("state issue failed", logger.Err(err))
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "state issue failed")
		return
	}

	authURL, err := h.flow.AuthorizationURL(ctx, token)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// POST /v1/auth/oidc/link/start
func (h *oidcHandler) linkStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accountID, err := currentAccountID(r)
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	if _, err := h.accounts.GetByID(ctx, accountID); err != nil {
		if repository.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, "account_not_found", "")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	token, err := h.states.Issue(ctx, state.ModeLink, accountID)
	if err != nil {
		logger.From(ctx).Error("state issue failed", logger.Err(err))
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "state issue failed")
		return
	}

	authURL, err := h.flow.AuthorizationURL(ctx, token)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"authorization_url": authURL})
}

// GET /v1/auth/oidc/callback
func (h *oidcHandler) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if errCode := r.URL.Query().Get("error"); errCode != "" {
		httpx.WriteError(w, http.StatusBadGateway, "provider_error", errCode)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing_code", "")
		return
	}

	entry, err := h.states.Consume(ctx, r.URL.Query().Get("state"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_state", "state desconocido o expirado")
		return
	}

	var res *identity.Result
	switch entry.Mode {
	case state.ModeLink:
		res, err = h.reconciler.Link(ctx, entry.AccountID, code, metaOf(r))
	default:
		res, err = h.reconciler.Login(ctx, code, metaOf(r))
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	if res.Status == identity.StatusRejectedConflict {
		// Conflicto de email: queda pendiente de confirmación manual.
		token, serr := h.states.StashConflict(ctx, res.Account.ID, res.Identity)
		if serr != nil {
			logger.From(ctx).Error("conflict stash failed", logger.Err(serr))
			httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "")
			return
		}
		httpx.WriteJSON(w, http.StatusConflict, map[string]any{
			"status":         string(res.Status),
			"error":          "email_conflict",
			"conflict_token": token,
			"account":        viewOf(res.Account),
		})
		return
	}

	status := http.StatusOK
	if res.Status == identity.StatusCreated {
		status = http.StatusCreated
	}
	httpx.WriteJSON(w, status, map[string]any{
		"status":  string(res.Status),
		"outcome": string(res.Outcome),
		"account": viewOf(res.Account),
	})
}

type confirmLinkRequest struct {
	ConflictToken string `json:"conflict_token"`
	Password      string `json:"password"`
}

// POST /v1/auth/oidc/confirm-link
//
// Confirma el link de un EmailConflict pendiente. El password demuestra que
// quien confirma es dueño de la cuenta local.
func (h *oidcHandler) confirmLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req confirmLinkRequest
	if !httpx.ReadJSON(w, r, &req) {
		return
	}
	if req.ConflictToken == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "conflict_token y password son requeridos")
		return
	}

	pc, err := h.states.TakeConflict(ctx, req.ConflictToken)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_conflict_token", "token desconocido o expirado")
		return
	}

	acc, err := h.accounts.GetByID(ctx, pc.AccountID)
	if err != nil {
		httpx.WriteError(w, http.StatusNotFound, "account_not_found", "")
		return
	}
	if !acc.HasPassword() || !password.Verify(req.Password, *acc.PasswordHash) {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "")
		return
	}

	res, err := h.reconciler.ConfirmLink(ctx, pc.AccountID, pc.Identity, metaOf(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  string(res.Status),
		"account": viewOf(res.Account),
	})
}

type unlinkRequest struct {
	Password string `json:"password"`
}

// POST /v1/auth/oidc/unlink
func (h *oidcHandler) unlink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accountID, err := currentAccountID(r)
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}

	var req unlinkRequest
	if !httpx.ReadJSON(w, r, &req) {
		return
	}
	if req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "password es requerido")
		return
	}

	acc, err := h.accounts.GetByID(ctx, accountID)
	if err != nil {
		if repository.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, "account_not_found", "")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	if !acc.HasPassword() || !password.Verify(req.Password, *acc.PasswordHash) {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "")
		return
	}

	updated, err := h.reconciler.Unlink(ctx, accountID, metaOf(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "unlinked",
		"account": viewOf(updated),
	})
}

// writeDomainError mapea errores de dominio a respuestas HTTP.
func (h *oidcHandler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, oidc.ErrInvalidToken):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", string(oidc.ReasonOf(err)))
	case errors.Is(err, oidc.ErrTokenExchangeFailed):
		httpx.WriteError(w, http.StatusBadGateway, "token_exchange_failed", "")
	case errors.Is(err, oidc.ErrProviderUnavailable):
		httpx.WriteError(w, http.StatusBadGateway, "provider_unavailable", "")
	case errors.Is(err, oidc.ErrDiscoveryUnavailable):
		httpx.WriteError(w, http.StatusServiceUnavailable, "discovery_unavailable", "")
	case errors.Is(err, oidc.ErrMissingSubject), errors.Is(err, identity.ErrUnresolvable):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "unresolvable_profile", "")
	case errors.Is(err, identity.ErrProfileIncomplete):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "profile_incomplete", "")
	case errors.Is(err, identity.ErrAlreadyLinkedElsewhere):
		httpx.WriteError(w, http.StatusConflict, "already_linked_elsewhere", "")
	case errors.Is(err, identity.ErrDuplicateAccount):
		httpx.WriteError(w, http.StatusConflict, "duplicate_account", "")
	case errors.Is(err, repository.ErrNoFallbackCredential):
		httpx.WriteError(w, http.StatusConflict, "no_fallback_credential", "la cuenta quedaría sin credenciales")
	case repository.IsNotFound(err):
		httpx.WriteError(w, http.StatusNotFound, "account_not_found", "")
	case repository.IsConflict(err):
		httpx.WriteError(w, http.StatusConflict, "conflict", "")
	default:
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "")
	}
}

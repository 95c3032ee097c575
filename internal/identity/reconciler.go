package identity

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/idlink/internal/audit"
	"github.com/dropDatabas3/idlink/internal/domain/repository"
	"github.com/dropDatabas3/idlink/internal/metrics"
	"github.com/dropDatabas3/idlink/internal/observability/logger"
	"github.com/dropDatabas3/idlink/internal/oidc"
)

// Status es el estado terminal de un intento de reconciliación.
type Status string

const (
	StatusLinked           Status = "linked"
	StatusCreated          Status = "created"
	StatusRejectedConflict Status = "rejected_conflict"
	StatusFailed           Status = "failed"
)

// RequestMeta son los metadatos del request que viajan a la auditoría.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// Result es el desenlace de un intento.
type Result struct {
	Status  Status
	Outcome OutcomeKind // regla que decidió; vacía en Failed y en linking mode
	Account *repository.Account
	Message string

	// Identity queda disponible en RejectedConflict para que la capa HTTP
	// pueda ofrecer la confirmación manual del link.
	Identity *oidc.Identity
}

// Deps contiene las dependencias del Reconciler.
type Deps struct {
	Flow     *oidc.Flow
	Verifier *oidc.Verifier
	Resolver *Resolver
	Audit    *audit.Recorder

	// UsernameMatchKeepsPassword controla la regla 2: por defecto (false) un
	// username match migra la cuenta a externa-only, como hace el sistema
	// original. En true conserva el password local (auth pasa a "both").
	UsernameMatchKeepsPassword bool
}

// Reconciler orquesta un intento completo:
//
//	ExchangeToken → VerifyToken → NormalizeProfile → Resolve → efecto
//
// Cada intento es autocontenido (sin estado compartido entre requests) y
// cada estado terminal emite exactamente un AuditEvent. Nada acá reintenta:
// el authorization code es single-use.
type Reconciler struct {
	flow                *oidc.Flow
	verifier            *oidc.Verifier
	resolver            *Resolver
	audits              *audit.Recorder
	keepOnUsernameMatch bool
}

// NewReconciler crea el orquestador.
func NewReconciler(d Deps) *Reconciler {
	return &Reconciler{
		flow:                d.Flow,
		verifier:            d.Verifier,
		resolver:            d.Resolver,
		audits:              d.Audit,
		keepOnUsernameMatch: d.UsernameMatchKeepsPassword,
	}
}

// Login procesa un callback de autorización en modo login: autentica contra
// el provider y aplica la regla de matching que corresponda.
func (rc *Reconciler) Login(ctx context.Context, code string, meta RequestMeta) (*Result, error) {
	start := time.Now()
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("identity.reconciler"))

	id, err := rc.authenticate(ctx, code)
	if err != nil {
		log.Warn("authentication failed", logger.Err(err))
		return rc.failed(ctx, nil, repository.AuditLogin, meta, err, start)
	}
	log = log.With(logger.Subject(id.Subject))

	out, err := rc.resolver.Resolve(ctx, id)
	if err != nil {
		log.Warn("resolution failed", logger.Err(err))
		return rc.failed(ctx, nil, repository.AuditLogin, meta, err, start)
	}
	log.Info("identity resolved", logger.Outcome(string(out.Kind)))
	metrics.ReconcileOutcome.WithLabelValues(string(out.Kind)).Inc()

	switch out.Kind {
	case OutcomeExistingLink:
		if err := rc.resolver.accounts.TouchExternalLogin(ctx, out.Account.ID); err != nil {
			// No es motivo para rebotar un login válido.
			log.Warn("touch external login failed", logger.Err(err), logger.AccountID(out.Account.ID))
		}
		rc.emit(ctx, &out.Account.ID, repository.AuditLogin, true, meta, "")
		return rc.done(StatusLinked, out, out.Account, start), nil

	case OutcomeUsernameMatch:
		acc, err := rc.resolver.ApplyLink(ctx, out.Account.ID, id, rc.keepOnUsernameMatch)
		if err != nil {
			log.Warn("auto-link by username failed", logger.Err(err), logger.AccountID(out.Account.ID))
			return rc.failed(ctx, &out.Account.ID, repository.AuditAccountLink, meta, err, start)
		}
		rc.emit(ctx, &acc.ID, repository.AuditAccountLink, true, meta, "")
		return rc.done(StatusLinked, out, acc, start), nil

	case OutcomeEmailMatch:
		// Email + username coinciden: link seguro, el password se conserva.
		acc, err := rc.resolver.ApplyLink(ctx, out.Account.ID, id, true)
		if err != nil {
			log.Warn("auto-link by email failed", logger.Err(err), logger.AccountID(out.Account.ID))
			return rc.failed(ctx, &out.Account.ID, repository.AuditAccountLink, meta, err, start)
		}
		rc.emit(ctx, &acc.ID, repository.AuditAccountLink, true, meta, "")
		return rc.done(StatusLinked, out, acc, start), nil

	case OutcomeEmailConflict:
		// Ambiguo: misma persona o colisión. Jamás se auto-resuelve.
		rc.emit(ctx, &out.Account.ID, repository.AuditLogin, false, meta, "email_conflict")
		res := rc.done(StatusRejectedConflict, out, out.Account, start)
		res.Identity = id
		return res, nil

	case OutcomeCreateNew:
		acc, err := rc.resolver.CreateFromIdentity(ctx, id)
		if err != nil {
			log.Warn("account creation failed", logger.Err(err))
			return rc.failed(ctx, nil, repository.AuditLogin, meta, err, start)
		}
		rc.emit(ctx, &acc.ID, repository.AuditLogin, true, meta, "")
		log.Info("account created", logger.AccountID(acc.ID), logger.Username(acc.Username))
		return rc.done(StatusCreated, out, acc, start), nil
	}

	// Unreachable mientras Resolve retorne kinds conocidos.
	err = errors.New("identity: unknown outcome kind")
	return rc.failed(ctx, nil, repository.AuditLogin, meta, err, start)
}

// Link procesa un callback en linking mode: el caller ya está autenticado y
// quiere colgar la identidad externa de SU cuenta. Saltea las reglas de
// auto-match por completo y nunca crea cuentas.
func (rc *Reconciler) Link(ctx context.Context, accountID int64, code string, meta RequestMeta) (*Result, error) {
	start := time.Now()
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("identity.reconciler"),
		logger.AccountID(accountID),
	)

	id, err := rc.authenticate(ctx, code)
	if err != nil {
		log.Warn("authentication failed", logger.Err(err))
		return rc.failed(ctx, &accountID, repository.AuditAccountLink, meta, err, start)
	}

	// Linking manual conserva el password del caller.
	acc, err := rc.resolver.ApplyLink(ctx, accountID, id, true)
	if err != nil {
		log.Warn("link failed", logger.Err(err), logger.Subject(id.Subject))
		return rc.failed(ctx, &accountID, repository.AuditAccountLink, meta, err, start)
	}

	rc.emit(ctx, &acc.ID, repository.AuditAccountLink, true, meta, "")
	log.Info("external identity linked", logger.Subject(id.Subject))

	res := rc.done(StatusLinked, &Outcome{Message: "external identity linked"}, acc, start)
	return res, nil
}

// ConfirmLink aplica el link que un EmailConflict dejó pendiente, una vez
// que el usuario lo confirmó explícitamente. El password local se conserva.
func (rc *Reconciler) ConfirmLink(ctx context.Context, accountID int64, id *oidc.Identity, meta RequestMeta) (*Result, error) {
	start := time.Now()

	acc, err := rc.resolver.ApplyLink(ctx, accountID, id, true)
	if err != nil {
		return rc.failed(ctx, &accountID, repository.AuditAccountLink, meta, err, start)
	}

	rc.emit(ctx, &acc.ID, repository.AuditAccountLink, true, meta, "")
	return rc.done(StatusLinked, &Outcome{Message: "conflict link confirmed"}, acc, start), nil
}

// Unlink desvincula la identidad externa de la cuenta, respetando el
// invariante de credencial de respaldo.
func (rc *Reconciler) Unlink(ctx context.Context, accountID int64, meta RequestMeta) (*repository.Account, error) {
	acc, err := rc.resolver.Unlink(ctx, accountID)
	if err != nil {
		rc.emit(ctx, &accountID, repository.AuditAccountUnlink, false, meta, failureCode(err))
		return nil, err
	}
	rc.emit(ctx, &acc.ID, repository.AuditAccountUnlink, true, meta, "")
	return acc, nil
}

// authenticate ejecuta la mitad protocolo del intento:
// exchange → verify → userinfo (best-effort) → normalize.
func (rc *Reconciler) authenticate(ctx context.Context, code string) (*oidc.Identity, error) {
	tokens, err := rc.flow.Exchange(ctx, code)
	if err != nil {
		metrics.ProviderRequests.WithLabelValues("token", "error").Inc()
		return nil, err
	}
	metrics.ProviderRequests.WithLabelValues("token", "ok").Inc()

	claims, err := rc.verifier.Verify(ctx, tokens.IDToken)
	if err != nil {
		return nil, err
	}

	var userinfo map[string]any
	if tokens.AccessToken != "" {
		userinfo, err = rc.flow.UserInfo(ctx, tokens.AccessToken)
		if err != nil {
			// El identity token alcanza: seguimos sin claims suplementarios.
			logger.From(ctx).Warn("userinfo fetch failed", logger.Err(err))
			metrics.ProviderRequests.WithLabelValues("userinfo", "error").Inc()
			userinfo = nil
		} else {
			metrics.ProviderRequests.WithLabelValues("userinfo", "ok").Inc()
		}
	}

	return oidc.Normalize(claims, userinfo)
}

func (rc *Reconciler) done(st Status, out *Outcome, acc *repository.Account, start time.Time) *Result {
	metrics.ReconcileTotal.WithLabelValues(string(st)).Inc()
	metrics.ReconcileDuration.Observe(float64(time.Since(start).Milliseconds()))
	return &Result{
		Status:  st,
		Outcome: out.Kind,
		Account: acc,
		Message: out.Message,
	}
}

func (rc *Reconciler) failed(ctx context.Context, actor *int64, evType repository.AuditEventType, meta RequestMeta, err error, start time.Time) (*Result, error) {
	rc.emit(ctx, actor, evType, false, meta, failureCode(err))
	metrics.ReconcileTotal.WithLabelValues(string(StatusFailed)).Inc()
	metrics.ReconcileDuration.Observe(float64(time.Since(start).Milliseconds()))
	return &Result{Status: StatusFailed, Message: failureCode(err)}, err
}

func (rc *Reconciler) emit(ctx context.Context, actor *int64, evType repository.AuditEventType, success bool, meta RequestMeta, errCode string) {
	rc.audits.Record(ctx, repository.AuditEvent{
		AccountID: actor,
		Method:    "external",
		EventType: evType,
		Success:   success,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		Error:     errCode,
		CreatedAt: time.Now().UTC(),
	})
}

// failureCode traduce errores internos a códigos de dominio estables.
// Es lo único que ve el caller: jamás texto crudo del provider o de la DB.
func failureCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, oidc.ErrInvalidToken):
		if r := oidc.ReasonOf(err); r != "" {
			return "invalid_token:" + string(r)
		}
		return "invalid_token"
	case errors.Is(err, oidc.ErrTokenExchangeFailed):
		return "token_exchange_failed"
	case errors.Is(err, oidc.ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, oidc.ErrDiscoveryUnavailable):
		return "discovery_unavailable"
	case errors.Is(err, oidc.ErrMissingSubject), errors.Is(err, ErrUnresolvable):
		return "unresolvable_profile"
	case errors.Is(err, ErrAlreadyLinkedElsewhere):
		return "already_linked_elsewhere"
	case errors.Is(err, ErrDuplicateAccount):
		return "duplicate_account"
	case errors.Is(err, ErrProfileIncomplete):
		return "profile_incomplete"
	case errors.Is(err, repository.ErrNoFallbackCredential):
		return "no_fallback_credential"
	case repository.IsNotFound(err):
		return "account_not_found"
	case repository.IsConflict(err):
		return "conflict"
	default:
		return "internal_error"
	}
}

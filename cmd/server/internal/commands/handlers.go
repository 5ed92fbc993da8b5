package commands

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/firmguard/internal/apierror"
	"github.com/wolfeidau/firmguard/internal/auth"
	"github.com/wolfeidau/firmguard/internal/fieldcrypt"
	httpmiddleware "github.com/wolfeidau/firmguard/internal/http"
	"github.com/wolfeidau/firmguard/internal/models"
	"github.com/wolfeidau/firmguard/internal/reshape"
	"github.com/wolfeidau/firmguard/internal/secure"
	"github.com/wolfeidau/firmguard/internal/session"
	"github.com/wolfeidau/firmguard/internal/stepup"
	"github.com/wolfeidau/firmguard/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxRequestBody  = 64 << 10
)

// handlers serves the demo API behind the security stack. Handlers return
// values and errors; reshape.Wrap encodes them for the negotiated version.
type handlers struct {
	version     string
	native      reshape.Version
	transformer *reshape.Transformer
	post        reshape.PostProcessor
	stores      *storeSet
	sessions    *session.Engine
	stepUp      *stepup.Gate
	cipher      *fieldcrypt.Cipher
	policy      fieldcrypt.Policy
	secret      []byte
	issuer      string
	tokenTTL    time.Duration
	now         func() time.Time
}

type userView struct {
	ID              uuid.UUID   `json:"id"`
	Email           string      `json:"email"`
	Name            string      `json:"name"`
	Role            models.Role `json:"role"`
	FirmID          *uuid.UUID  `json:"firmId"`
	IsEmailVerified bool        `json:"isEmailVerified"`
}

func newUserView(u *models.User) userView {
	return userView{
		ID:              u.UserID,
		Email:           u.Email,
		Name:            u.Name,
		Role:            u.Role,
		FirmID:          u.FirmID,
		IsEmailVerified: u.IsEmailVerified,
	}
}

func badRequest(field string) error {
	e := apierror.NewError(http.StatusBadRequest, apierror.CodeValidation)
	e.Response = e.Response.WithDetails(map[string]any{"field": field})
	return e
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("body")
	}
	return nil
}

func (h *handlers) health(r *http.Request) (int, any, error) {
	return http.StatusOK, map[string]any{"status": "ok", "version": h.version}, nil
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type reauthenticateRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expiresAt"`
	RememberMe bool      `json:"rememberMe"`
	User       userView  `json:"user"`
}

// login issues a session after checking the password against the stored
// hash. It is only routed when the demo login is enabled.
func (h *handlers) login() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.wrap(func(r *http.Request) (int, any, error) {
			ctx := r.Context()

			var req loginRequest
			if err := decodeBody(r, &req); err != nil {
				return 0, nil, err
			}
			if strings.TrimSpace(req.Email) == "" {
				return 0, nil, badRequest("email")
			}
			if req.Password == "" {
				return 0, nil, badRequest("password")
			}

			user, err := h.stores.Users.FindUserByEmail(ctx, req.Email)
			if err != nil {
				if errors.Is(err, store.ErrUserNotFound) {
					return 0, nil, invalidCredentials()
				}
				return 0, nil, err
			}
			if err := h.verifyPassword(r, user, req.Password); err != nil {
				return 0, nil, err
			}

			now := h.now()
			ttl := h.tokenTTL
			if req.RememberMe {
				ttl = h.sessions.Policy().RememberMeTimeout
			}

			principal := &auth.Principal{UserID: user.UserID, Role: user.Role, Email: user.Email}
			if user.HasFirm() {
				principal.FirmID = *user.FirmID
			}

			token, err := auth.IssueToken(h.secret, h.issuer, auth.TokenRequest{
				Principal:  principal,
				TTL:        ttl,
				RememberMe: req.RememberMe,
			}, now)
			if err != nil {
				return 0, nil, err
			}

			h.recordAuthentication(r, user.UserID, now, true)
			auth.WriteSessionCookie(w, r, token, now.Add(ttl))

			return http.StatusOK, loginResponse{
				Token:      token,
				ExpiresAt:  now.Add(ttl),
				RememberMe: req.RememberMe,
				User:       newUserView(user),
			}, nil
		}).ServeHTTP(w, r)
	})
}

func invalidCredentials() error {
	return apierror.NewError(http.StatusUnauthorized, apierror.CodeInvalidCredentials)
}

// verifyPassword checks password for user and records failed attempts.
func (h *handlers) verifyPassword(r *http.Request, user *models.User, password string) error {
	err := auth.CheckPassword(user.PasswordHash, password)
	if err == nil {
		return nil
	}
	if errors.Is(err, auth.ErrInvalidCredentials) {
		h.recordAuthentication(r, user.UserID, h.now(), false)
		return invalidCredentials()
	}
	return err
}

// recordAuthentication stores the auth event that step-up checks read and,
// on success, starts the idle clock. Failures are logged; the login itself
// stands.
func (h *handlers) recordAuthentication(r *http.Request, userID uuid.UUID, at time.Time, succeeded bool) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)

	if succeeded {
		if err := h.sessions.RecordActivity(ctx, userID); err != nil {
			logger.Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to record session activity")
		}
	}

	err := h.stores.AuthEvents.RecordAuthEvent(ctx, &models.AuthEvent{
		EventID:   uuid.New(),
		UserID:    userID,
		Method:    models.AuthMethodPassword,
		Succeeded: succeeded,
		IPAddress: httpmiddleware.ClientIP(r),
		UserAgent: r.UserAgent(),
		CreatedAt: at,
	})
	if err != nil {
		logger.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to record auth event")
	}
}

func (h *handlers) logout() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := auth.PrincipalFromContext(r.Context())
		if err := h.sessions.ClearSessionActivity(r.Context(), principal.UserID); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Failed to clear session activity")
		}
		auth.ClearSessionCookie(w, r)
		w.WriteHeader(http.StatusNoContent)
	})
}

// reauthenticate refreshes step-up freshness once the caller proves the
// password again. A valid token alone is not enough.
func (h *handlers) reauthenticate(r *http.Request) (int, any, error) {
	ctx := r.Context()
	principal := auth.PrincipalFromContext(ctx)

	var req reauthenticateRequest
	if err := decodeBody(r, &req); err != nil {
		return 0, nil, err
	}
	if req.Password == "" {
		return 0, nil, badRequest("password")
	}

	user, err := h.stores.Users.FindUser(ctx, principal.UserID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return 0, nil, invalidCredentials()
		}
		return 0, nil, err
	}
	if err := h.verifyPassword(r, user, req.Password); err != nil {
		return 0, nil, err
	}

	h.recordAuthentication(r, user.UserID, h.now(), true)
	return http.StatusOK, h.stepUp.VerifyRecent(ctx, user.UserID, stepup.PresetCritical), nil
}

func (h *handlers) authStatus(r *http.Request) (int, any, error) {
	ctx := r.Context()
	principal := auth.PrincipalFromContext(ctx)

	return http.StatusOK, map[string]any{
		"userId":    principal.UserID,
		"role":      principal.Role,
		"issuedAt":  principal.IssuedAt,
		"expiresAt": principal.ExpiresAt,
		"stepUp": map[string]stepup.Status{
			"critical":  h.stepUp.VerifyRecent(ctx, principal.UserID, stepup.PresetCritical),
			"sensitive": h.stepUp.VerifyRecent(ctx, principal.UserID, stepup.PresetSensitive),
		},
	}, nil
}

func (h *handlers) me(r *http.Request) (int, any, error) {
	principal := auth.PrincipalFromContext(r.Context())
	user, err := h.stores.Users.FindUser(r.Context(), principal.UserID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return 0, nil, apierror.NewError(http.StatusUnauthorized, apierror.CodeAuthRequired)
		}
		return 0, nil, err
	}
	return http.StatusOK, newUserView(user), nil
}

// pageRequest reads either a cursor or a page number, so both API
// generations can page through the same handler.
func pageRequest(r *http.Request) (offset, limit int, err error) {
	q := r.URL.Query()

	limit = defaultPageSize
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return 0, 0, badRequest("limit")
		}
		limit = min(limit, maxPageSize)
	}

	if cursor := q.Get("cursor"); cursor != "" {
		offset, err = reshape.DecodeCursor(cursor)
		if err != nil {
			return 0, 0, badRequest("cursor")
		}
		return offset, limit, nil
	}

	if raw := q.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return 0, 0, badRequest("page")
		}
		offset = (page - 1) * limit
	}
	return offset, limit, nil
}

func (h *handlers) listCases(r *http.Request) (int, any, error) {
	offset, limit, err := pageRequest(r)
	if err != nil {
		return 0, nil, err
	}

	firmID, _ := secure.FirmIDFromContext(r.Context())
	cases, total := h.stores.Records.firmCases(firmID, offset, limit)

	page := reshape.OffsetPage{
		Page:  offset/limit + 1,
		Limit: limit,
		Total: total,
		Pages: (total + limit - 1) / limit,
	}

	var pagination any = page
	if h.native == reshape.V2 {
		pagination = reshape.OffsetToCursor(page)
	}

	return http.StatusOK, map[string]any{
		"data":                cases,
		reshape.PaginationKey: pagination,
	}, nil
}

func resourceID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, secure.DefaultResourceParam))
	if err != nil {
		return uuid.Nil, apierror.NewError(http.StatusNotFound, apierror.CodeResourceNotFound)
	}
	return id, nil
}

func (h *handlers) getCase(r *http.Request) (int, any, error) {
	id, err := resourceID(r)
	if err != nil {
		return 0, nil, err
	}
	c, ok := h.stores.Records.getCase(id)
	if !ok {
		return 0, nil, apierror.NewError(http.StatusNotFound, apierror.CodeResourceNotFound)
	}
	return http.StatusOK, c, nil
}

func (h *handlers) deleteCase(r *http.Request) (int, any, error) {
	id, err := resourceID(r)
	if err != nil {
		return 0, nil, err
	}
	h.stores.Records.deleteCase(id)
	zerolog.Ctx(r.Context()).Info().Str("case_id", id.String()).Msg("Case deleted")
	return http.StatusNoContent, nil, nil
}

func (h *handlers) getClient(r *http.Request) (int, any, error) {
	id, err := resourceID(r)
	if err != nil {
		return 0, nil, err
	}
	c, ok := h.stores.Records.getClient(id)
	if !ok {
		return 0, nil, apierror.NewError(http.StatusNotFound, apierror.CodeResourceNotFound)
	}
	return http.StatusOK, c, nil
}

type createClientRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	NationalID string `json:"nationalId"`
	IBAN       string `json:"iban"`
}

// createClient stores the encrypted-at-rest fields encrypted. Clients may
// send them already encrypted; the request middleware has decrypted those.
func (h *handlers) createClient(r *http.Request) (int, any, error) {
	var req createClientRequest
	if err := decodeBody(r, &req); err != nil {
		return 0, nil, err
	}
	if strings.TrimSpace(req.Name) == "" {
		return 0, nil, badRequest("name")
	}

	sensitive := map[string]any{"nationalId": req.NationalID, "iban": req.IBAN}
	if err := h.cipher.EncryptFields(sensitive, h.policy.Encrypted); err != nil {
		return 0, nil, err
	}

	firmID, _ := secure.FirmIDFromContext(r.Context())
	record := clientRecord{
		ID:         uuid.New(),
		FirmID:     firmID,
		Name:       req.Name,
		Email:      req.Email,
		Phone:      req.Phone,
		NationalID: sensitive["nationalId"].(string),
		IBAN:       sensitive["iban"].(string),
		CreatedAt:  h.now().UTC(),
	}
	h.stores.Records.putClient(record)

	return http.StatusCreated, record, nil
}

func (h *handlers) listAllowedNetworks(r *http.Request) (int, any, error) {
	firmID, _ := secure.FirmIDFromContext(r.Context())
	enabled, networks, err := h.stores.AllowLists.AllowedNetworks(r.Context(), firmID)
	if err != nil {
		return 0, nil, err
	}

	cidrs := make([]string, 0, len(networks))
	for _, n := range networks {
		cidrs = append(cidrs, n.String())
	}
	return http.StatusOK, map[string]any{"enabled": enabled, "networks": cidrs}, nil
}

type addNetworkRequest struct {
	CIDR        string `json:"cidr"`
	Description string `json:"description"`
}

func (h *handlers) addAllowedNetwork(r *http.Request) (int, any, error) {
	var req addNetworkRequest
	if err := decodeBody(r, &req); err != nil {
		return 0, nil, err
	}
	prefix, err := netip.ParsePrefix(strings.TrimSpace(req.CIDR))
	if err != nil {
		return 0, nil, badRequest("cidr")
	}

	firmID, _ := secure.FirmIDFromContext(r.Context())
	entry := &models.AllowedNetwork{
		FirmID:      firmID,
		Prefix:      prefix.Masked(),
		Description: req.Description,
		CreatedAt:   h.now().UTC(),
	}
	if err := h.stores.AllowLists.AddAllowedNetwork(r.Context(), entry); err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, map[string]any{"cidr": entry.Prefix.String(), "description": entry.Description}, nil
}

type transferOwnershipRequest struct {
	NewOwnerID uuid.UUID `json:"newOwnerId"`
}

// transferOwnership only acknowledges the request; the transfer itself is
// out of scope for the demo.
func (h *handlers) transferOwnership(r *http.Request) (int, any, error) {
	var req transferOwnershipRequest
	if err := decodeBody(r, &req); err != nil {
		return 0, nil, err
	}
	if req.NewOwnerID == uuid.Nil {
		return 0, nil, badRequest("newOwnerId")
	}
	return http.StatusAccepted, map[string]any{"status": "pending", "newOwnerId": req.NewOwnerID}, nil
}

type webhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// webhook acknowledges a verified delivery. The body was checked against
// its signature by the security stack.
func (h *handlers) webhook(provider string) reshape.ResultHandler {
	return func(r *http.Request) (int, any, error) {
		var event webhookEvent
		if raw, ok := secure.RawBodyFromContext(r.Context()); ok {
			if err := json.Unmarshal(raw, &event); err != nil {
				return 0, nil, badRequest("body")
			}
		}
		zerolog.Ctx(r.Context()).Info().
			Str("provider", provider).
			Str("event_id", event.ID).
			Str("event_type", event.Type).
			Msg("Webhook received")
		return http.StatusOK, map[string]any{"received": true}, nil
	}
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"devportal/internal/domain"
	"devportal/internal/engine"
)

const defaultTokenTTL = 12 * time.Hour

// AuthConfig enables bearer authentication when JWTSecret is set. Without a
// secret every request is accepted and the caller may name itself with the
// X-Actor-Id header.
type AuthConfig struct {
	JWTSecret string
	PMRoles   []string
	TokenTTL  time.Duration
	Logger    *log.Logger
}

func (c AuthConfig) Enabled() bool {
	return strings.TrimSpace(c.JWTSecret) != ""
}

func (c AuthConfig) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

func (c AuthConfig) tokenTTL() time.Duration {
	if c.TokenTTL > 0 {
		return c.TokenTTL
	}
	return defaultTokenTTL
}

func (c AuthConfig) pmRoles() []string {
	if len(c.PMRoles) == 0 {
		return []string{"pm"}
	}
	return c.PMRoles
}

type Principal struct {
	ActorID string
	Roles   []string
	Source  string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// actorID is the caller recorded on activities, or empty for the default.
func actorID(ctx context.Context) string {
	if p, ok := principalFromContext(ctx); ok {
		return p.ActorID
	}
	return ""
}

func isPM(p Principal, cfg AuthConfig) bool {
	if p.ActorID == engine.DefaultActor {
		return true
	}
	for _, role := range p.Roles {
		for _, pm := range cfg.pmRoles() {
			if role == pm {
				return true
			}
		}
	}
	return false
}

// requirePM gates project manager operations. It is a no-op with auth disabled.
func requirePM(ctx context.Context, cfg AuthConfig) error {
	if !cfg.Enabled() {
		return nil
	}
	p, ok := principalFromContext(ctx)
	if !ok || !isPM(p, cfg) {
		return domain.ForbiddenError{Reason: "project manager role required"}
	}
	return nil
}

// actingDeveloper resolves the developer a request acts for. An explicit id
// wins over the caller identity, but with auth enabled only a PM may act on
// behalf of someone else.
func actingDeveloper(ctx context.Context, cfg AuthConfig, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	p, ok := principalFromContext(ctx)
	if requested == "" {
		if ok && p.ActorID != "" {
			return p.ActorID, nil
		}
		return "", domain.ValidationError{Field: "developerId", Reason: "is required"}
	}
	if cfg.Enabled() && ok && p.ActorID != requested && !isPM(p, cfg) {
		return "", domain.ForbiddenError{Reason: "cannot act on behalf of another developer"}
	}
	return requested, nil
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

func authenticateJWT(token string, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	return Principal{
		ActorID: claims.Subject,
		Roles:   claims.Roles,
		Source:  "jwt",
	}, nil
}

func signDevToken(secret, actor string, roles []string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	expires := now.Add(ttl)
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor,
			Issuer:    "devportal",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Roles: roles,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func isPublicPath(basePath, p string) bool {
	switch p {
	case path.Join(basePath, "health"), path.Join(basePath, "auth/dev/login"), path.Join(basePath, "openapi.json"):
		return true
	}
	return false
}

func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if isPublicPath(basePath, req.URL.Path) {
				next.ServeHTTP(w, req)
				return
			}

			if !cfg.Enabled() {
				if actor := strings.TrimSpace(req.Header.Get("X-Actor-Id")); actor != "" {
					ctx := withPrincipal(req.Context(), Principal{ActorID: actor, Source: "header"})
					req = req.WithContext(ctx)
				}
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			if authz == "" {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			token, ok := bearerToken(authz)
			if !ok {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			principal, err := authenticateJWT(token, cfg.JWTSecret)
			if err != nil {
				cfg.logger().Printf("auth: rejected bearer token: %v", err)
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}

func registerDevAuth(api huma.API, cfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID:   "dev-login",
		Method:        http.MethodPost,
		Path:          "/auth/dev/login",
		Summary:       "Issue a development bearer token",
		DefaultStatus: http.StatusOK,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*bodyOutput[DevLoginResponse], error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, handleError(domain.ValidationError{Field: "actorId", Reason: "is required"})
		}
		token, expires, err := signDevToken(cfg.JWTSecret, actor, input.Body.Roles, time.Now().UTC(), cfg.tokenTTL())
		if err != nil {
			return nil, handleError(err)
		}
		return respond(DevLoginResponse{Token: token, ActorID: actor, ExpiresAt: expires}), nil
	})
}

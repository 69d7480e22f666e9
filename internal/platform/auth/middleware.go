package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	actorKey contextKey = "actor"
	tokenKey contextKey = "bearer_token"
)

// Claims are the session token claims issued by the clinic backend.
type Claims struct {
	jwt.RegisteredClaims
	Role      string   `json:"role"`
	Roles     []string `json:"roles,omitempty"`
	Name      string   `json:"name,omitempty"`
	PatientID string   `json:"patient_id,omitempty"`
	DoctorID  string   `json:"doctor_id,omitempty"`
}

// Actor converts the claims to an Actor.
func (c *Claims) Actor() Actor {
	role := NormalizeRole(c.Role)
	if role == "" {
		for _, r := range c.Roles {
			if role = NormalizeRole(r); role != "" {
				break
			}
		}
	}
	return Actor{
		ID:        c.Subject,
		Role:      role,
		Name:      c.Name,
		PatientID: c.PatientID,
		DoctorID:  c.DoctorID,
	}
}

var roleAliases = map[string]string{
	"admin":         RoleAdmin,
	"administrador": RoleAdmin,
	"doctor":        RoleDoctor,
	"medico":        RoleDoctor,
	"médico":        RoleDoctor,
	"patient":       RolePatient,
	"paciente":      RolePatient,
}

// NormalizeRole maps a backend role name to a gateway role. Unknown roles
// map to "".
func NormalizeRole(raw string) string {
	return roleAliases[strings.ToLower(strings.TrimSpace(raw))]
}

type JWTConfig struct {
	// SigningKey is the HMAC secret shared with the clinic backend.
	SigningKey []byte
	Issuer     string
	Skipper    func(echo.Context) bool
}

// JWTMiddleware validates the bearer token and stores the actor and the raw
// token on the request context. The raw token is forwarded to the backend.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}
			tokenStr, err := bearerToken(c.Request())
			if err != nil {
				return err
			}
			actor, err := parseActor(tokenStr, cfg)
			if err != nil {
				return err
			}
			setActor(c, actor, tokenStr)
			return next(c)
		}
	}
}

// DevAuthMiddleware lets unauthenticated requests through as a development
// admin. Requests that do carry a token are still validated when a signing
// key is configured.
func DevAuthMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") == "" {
				setActor(c, Actor{ID: "dev-user", Role: RoleAdmin, Name: "Dev Admin"}, "")
				return next(c)
			}
			if len(cfg.SigningKey) == 0 {
				if cfg.Skipper != nil && cfg.Skipper(c) {
					return next(c)
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "token validation disabled: set AUTH_SECRET or omit the Authorization header")
			}
			return JWTMiddleware(cfg)(next)(c)
		}
	}
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

func parseActor(tokenStr string, cfg JWTConfig) (Actor, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil || !token.Valid {
		return Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	actor := claims.Actor()
	if actor.Role == "" {
		return Actor{}, echo.NewHTTPError(http.StatusForbidden, "unknown role")
	}
	return actor, nil
}

func setActor(c echo.Context, actor Actor, token string) {
	ctx := WithActor(c.Request().Context(), actor)
	if token != "" {
		ctx = context.WithValue(ctx, tokenKey, token)
	}
	c.SetRequest(c.Request().WithContext(ctx))
	c.Set("actor_id", actor.ID)
}

// WithActor returns a context carrying actor.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext returns the authenticated actor and whether there is one.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok
}

// TokenFromContext returns the caller's raw bearer token, or "".
func TokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}

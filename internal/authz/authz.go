package authz

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"auditgate/internal/config"
	"auditgate/internal/models"
)

// Actor is the authenticated human behind a decision request.
type Actor struct {
	ID   string
	Role string
}

// Authorizer is the capability check injected into the decision API. The
// engine itself never embeds role logic.
type Authorizer interface {
	CanDecide(actor Actor, pkg *models.StrategyPackage) bool
}

// RoleAuthorizer requires the configured senior role for high-risk
// packages; any authenticated reviewer may decide the rest.
type RoleAuthorizer struct {
	SeniorRole string
}

func (a *RoleAuthorizer) CanDecide(actor Actor, pkg *models.StrategyPackage) bool {
	if actor.ID == "" {
		return false
	}
	if pkg != nil && pkg.RiskLevel == models.RiskHigh {
		senior := a.SeniorRole
		if senior == "" {
			senior = "senior_reviewer"
		}
		return strings.EqualFold(actor.Role, senior)
	}
	return true
}

// Claims is the token payload carrying the reviewer identity.
type Claims struct {
	Role string `json:"role"`

	jwt.RegisteredClaims
}

const actorKey = "authz.actor"

// ActorFromContext returns the actor set by Middleware.
func ActorFromContext(c *gin.Context) (Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return Actor{}, false
	}
	actor, ok := v.(Actor)
	return actor, ok
}

// Middleware verifies the bearer token on API routes and stores the actor
// on the request context. With auth disabled, a fixed local actor is used.
func Middleware(cfg config.AuthConfig) gin.HandlerFunc {
	secret := []byte(cfg.JWTSecret)
	return func(c *gin.Context) {
		if cfg.Disabled {
			c.Set(actorKey, Actor{ID: "local", Role: cfg.SeniorRole})
			c.Next()
			return
		}
		path := c.Request.URL.Path
		if path == "/healthz" || path == "/readyz" {
			c.Next()
			return
		}
		tok := bearerToken(c.GetHeader("Authorization"))
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := verify(tok, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(actorKey, Actor{ID: claims.Subject, Role: claims.Role})
		c.Next()
	}
}

func verify(token string, secret []byte) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return Claims{}, err
	}
	c, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	return *c, nil
}

func bearerToken(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	parts := strings.SplitN(v, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

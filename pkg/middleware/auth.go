package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prohmpiriya/campus-registration/pkg/response"
)

const (
	// ContextKeyUserID is the gin context key for the authenticated user
	ContextKeyUserID = "user_id"
	// ContextKeyUserRole is the gin context key for the user's role
	ContextKeyUserRole = "user_role"

	UserIDHeader   = "X-User-ID"
	UserRoleHeader = "X-User-Role"
)

// Roles understood by RequireRole
const (
	RoleUser      = "user"
	RoleOrganizer = "organizer"
	RoleAdmin     = "admin"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// AuthConfig configures the identity middleware
type AuthConfig struct {
	// JWTSecret enables HMAC bearer-token validation. When empty the
	// identity is read from X-User-ID / X-User-Role set by the gateway.
	JWTSecret string
	Issuer    string
}

// Auth extracts the caller identity into the gin context
func Auth(cfg *AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var userID, role string

		if cfg != nil && cfg.JWTSecret != "" {
			header := c.GetHeader("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error("UNAUTHORIZED", "missing bearer token"))
				return
			}

			claims, err := ParseToken(token, cfg.JWTSecret, cfg.Issuer)
			if err != nil {
				code := "INVALID_TOKEN"
				if errors.Is(err, ErrTokenExpired) {
					code = "TOKEN_EXPIRED"
				}
				c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(code, err.Error()))
				return
			}
			userID, role = claims.UserID, claims.Role
		} else {
			userID = c.GetHeader(UserIDHeader)
			role = c.GetHeader(UserRoleHeader)
		}

		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error("UNAUTHORIZED", "user identity is required"))
			return
		}
		if role == "" {
			role = RoleUser
		}

		c.Set(ContextKeyUserID, userID)
		c.Set(ContextKeyUserRole, role)
		c.Next()
	}
}

// Claims is the identity carried by an access token
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// ParseToken validates an HS256 token and returns its claims
func ParseToken(tokenString, secret, issuer string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IssueToken signs an HS256 access token for userID with role. The
// registration API only validates tokens; issuing is for operators and
// tests.
func IssueToken(secret, issuer, userID, role string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is required")
	}
	if userID == "" {
		return "", errors.New("user id is required")
	}
	if role == "" {
		role = RoleUser
	}

	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// RequireRole aborts with 403 unless the caller has one of roles
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := GetUserRole(c)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, response.Error("FORBIDDEN", "insufficient role"))
	}
}

// GetUserID returns the authenticated user ID
func GetUserID(c *gin.Context) (string, bool) {
	id := c.GetString(ContextKeyUserID)
	return id, id != ""
}

// GetUserRole returns the authenticated user's role
func GetUserRole(c *gin.Context) (string, bool) {
	role := c.GetString(ContextKeyUserRole)
	return role, role != ""
}

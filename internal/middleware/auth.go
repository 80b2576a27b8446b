package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"logistics/internal/domain"
)

const callerKey = "caller"

// CallerClaims are the bearer token claims. The subject is the numeric user id.
type CallerClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Auth returns middleware that verifies an HS256 bearer token and stores the
// caller on the context. Requests without a valid token get 401.
func Auth(secret []byte) gin.HandlerFunc {
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			unauthorized(c, "missing bearer token")
			return
		}

		claims := &CallerClaims{}
		if _, err := parser.ParseWithClaims(raw, claims, keyFunc); err != nil || claims.ExpiresAt == nil {
			unauthorized(c, "invalid or expired token")
			return
		}

		caller, err := claims.Caller()
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		SetCaller(c, caller)
		c.Next()
	}
}

// Caller converts the claims into a domain caller.
func (cl *CallerClaims) Caller() (domain.Caller, error) {
	id, err := strconv.ParseInt(cl.Subject, 10, 64)
	if err != nil || id <= 0 {
		return domain.Caller{}, errors.New("token subject is not a user id")
	}
	role, err := domain.ParseRole(cl.Role)
	if err != nil {
		return domain.Caller{}, err
	}
	return domain.Caller{UserID: id, Role: role}, nil
}

// SetCaller stores the authenticated caller on the context.
func SetCaller(c *gin.Context, caller domain.Caller) {
	c.Set(callerKey, caller)
}

// CallerFrom returns the authenticated caller. ok is false on routes that
// are not behind Auth.
func CallerFrom(c *gin.Context) (domain.Caller, bool) {
	v, ok := c.Get(callerKey)
	if !ok {
		return domain.Caller{}, false
	}
	caller, ok := v.(domain.Caller)
	return caller, ok
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "reason": "unauthorized"})
}

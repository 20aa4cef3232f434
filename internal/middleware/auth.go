// Package middleware provides HTTP middleware for the tribute API.
package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/tribute_layer/internal/httputil"
	"github.com/R3E-Network/tribute_layer/pkg/logger"
)

// RoleAdmin is the role claim that grants access to operator endpoints.
const RoleAdmin = "admin"

// Claims represents admin JWT claims.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Identify copies the gateway-supplied user id into the request context.
func Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(httputil.UserIDHeader))
		if userID != "" {
			r = r.WithContext(httputil.WithUserID(r.Context(), userID))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUserID rejects requests that carry no user id.
func RequireUserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if httputil.UserIDFrom(r.Context()) == "" {
			respondError(w, http.StatusUnauthorized, "missing "+httputil.UserIDHeader+" header")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AdminAuth guards operator endpoints. A request passes with the static
// bearer token or with an HS256 JWT carrying role "admin".
type AdminAuth struct {
	token  []byte
	secret []byte
	log    *logger.Logger
}

// NewAdminAuth creates the guard. With neither token nor secret every request
// is refused.
func NewAdminAuth(token, jwtSecret string, log *logger.Logger) *AdminAuth {
	if log == nil {
		log = logger.NewDefault("admin-auth")
	}
	m := &AdminAuth{log: log}
	if t := strings.TrimSpace(token); t != "" {
		m.token = []byte(t)
	}
	if s := strings.TrimSpace(jwtSecret); s != "" {
		m.secret = []byte(s)
	}
	return m
}

// Enabled reports whether any credential is configured.
func (m *AdminAuth) Enabled() bool {
	return len(m.token) > 0 || len(m.secret) > 0
}

// Handler returns the middleware handler.
func (m *AdminAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() {
			respondError(w, http.StatusForbidden, "admin access is disabled")
			return
		}
		bearer, ok := bearerToken(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if err := m.authorize(bearer); err != nil {
			m.log.WithError(err).
				WithField("path", r.URL.Path).
				WithField("method", r.Method).
				Warn("admin authentication failed")
			respondError(w, http.StatusUnauthorized, "invalid admin credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *AdminAuth) authorize(bearer string) error {
	if len(m.token) > 0 && subtle.ConstantTimeCompare([]byte(bearer), m.token) == 1 {
		return nil
	}
	if len(m.secret) == 0 {
		return errors.New("token mismatch")
	}
	claims, err := m.validateToken(bearer)
	if err != nil {
		return err
	}
	if claims.Role != RoleAdmin {
		return fmt.Errorf("role %q is not allowed", claims.Role)
	}
	return nil
}

// validateToken validates an HS256 token and returns its claims.
func (m *AdminAuth) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func respondError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Package auth provides JWT-based authentication over the configured user
// database.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/lanvault/lanvault/internal/config"
	"github.com/lanvault/lanvault/internal/logging"
	"github.com/lanvault/lanvault/internal/metrics"
)

type contextKey string

const userContextKey contextKey = "user"

// Claims holds JWT token claims.
type Claims struct {
	Username    string `json:"username"`
	SharedWrite bool   `json:"shared_write"`
	jwt.RegisteredClaims
}

// Auth verifies credentials against the configured accounts and issues
// signed access tokens.
type Auth struct {
	users     map[string]config.UserConfig
	secret    []byte
	tokenTTL  time.Duration
	dummyHash []byte
}

// New creates an Auth handler from the auth configuration.
func New(cfg config.AuthConfig) *Auth {
	users := make(map[string]config.UserConfig, len(cfg.Users))
	for _, u := range cfg.Users {
		users[u.Username] = u
	}
	// Compared against for unknown usernames so lookups take as long as
	// wrong passwords.
	dummyHash, _ := bcrypt.GenerateFromPassword([]byte("lanvault"), bcrypt.DefaultCost)
	return &Auth{
		users:     users,
		secret:    []byte(cfg.JWTSecret),
		tokenTTL:  cfg.TokenTTL,
		dummyHash: dummyHash,
	}
}

// Middleware returns HTTP middleware that validates JWT tokens and stores
// the claims in the request context.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, "missing authentication token")
			return
		}

		claims, err := a.validateToken(tokenStr)
		if err != nil {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		// Accounts can be removed from the config between restarts while
		// their tokens are still in the wild.
		user, ok := a.users[claims.Username]
		if !ok {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, "unknown account")
			return
		}

		// Shared-write is policy, not identity. The configured value wins
		// over whatever was baked into the token at issuance, so revoking
		// the grant takes effect without waiting for tokens to expire.
		claims.SharedWrite = user.SharedWrite

		ctx := context.WithValue(r.Context(), userContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClaims extracts claims from the request context. Nil when the request
// did not pass the auth middleware.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(userContextKey).(*Claims)
	return claims
}

// HandleLogin handles POST /api/v1/auth/token.
func (a *Auth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusBadRequest, "username and password required")
		return
	}

	user, ok := a.users[req.Username]
	if !ok {
		bcrypt.CompareHashAndPassword(a.dummyHash, []byte(req.Password))
		metrics.RecordAuthAttempt(false)
		logging.WithContext(r.Context()).Warn("login failed: unknown user", zap.String("username", req.Username))
		sendAuthError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		metrics.RecordAuthAttempt(false)
		logging.WithContext(r.Context()).Warn("login failed: invalid password", zap.String("username", req.Username))
		sendAuthError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	tokenStr, expiresAt, err := a.IssueToken(user)
	if err != nil {
		metrics.RecordAuthAttempt(false)
		logging.WithContext(r.Context()).Error("failed to sign token", zap.Error(err))
		sendAuthError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	metrics.RecordAuthAttempt(true)
	logging.WithContext(r.Context()).Info("login successful", zap.String("username", req.Username))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"token":      tokenStr,
		"expires_at": expiresAt,
		"user": map[string]interface{}{
			"username":     user.Username,
			"shared_write": user.SharedWrite,
		},
	})
}

// IssueToken signs an access token for the given account.
func (a *Auth) IssueToken(user config.UserConfig) (string, time.Time, error) {
	now := time.Now()
	claims := &Claims{
		Username:    user.Username,
		SharedWrite: user.SharedWrite,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "lanvault",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return tokenStr, claims.ExpiresAt.Time, nil
}

func (a *Auth) validateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	// Query parameter fallback for SSE clients that cannot set headers
	return r.URL.Query().Get("token")
}

func sendAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message, "code": http.StatusText(status)})
}

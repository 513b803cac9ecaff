package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"mvsynth/core/auth"
	"mvsynth/logger"
)

type ctxKey string

const usernameKey ctxKey = "username"

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginHandler issues a token for the configured admin user.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	admin, err := auth.NewAdmin(s.Config.AdminUser, s.Config.AdminPasswordHash)
	if s.Issuer == nil || err != nil {
		if err != nil && !errors.Is(err, auth.ErrNoCredentials) {
			logger.Error("[Login] 管理员凭据配置无效", logger.ErrorField(err))
		}
		http.Error(w, "Authentication is not configured", http.StatusServiceUnavailable)
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("[Login] 解析请求体失败", logger.ErrorField(err))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "Username and password are required", http.StatusBadRequest)
		return
	}

	if !admin.Verify(req.Username, req.Password) {
		logger.Warn("[Login] 用户名或密码错误", logger.String("username", req.Username))
		http.Error(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}

	token, expires, err := s.Issuer.GenerateToken(req.Username)
	if err != nil {
		logger.Error("[Login] 生成令牌失败", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":     token,
		"expiresAt": expires.Format(time.RFC3339),
	})
}

// AuthMiddleware checks for a valid JWT in the Authorization header, or in
// the token query parameter for WebSocket clients.
func (s *Server) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Issuer == nil {
			next.ServeHTTP(w, r)
			return
		}

		token := r.URL.Query().Get("token")
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
				return
			}
			token = parts[1]
		}
		if token == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		claims, err := s.Issuer.ParseToken(token)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), usernameKey, claims.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// UsernameFromContext extracts the authenticated username.
func UsernameFromContext(ctx context.Context) string {
	username, _ := ctx.Value(usernameKey).(string)
	return username
}

// Package middleware содержит HTTP middleware для сервиса эскроу.
package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// TokenAuth пропускает запросы с заголовком Authorization: Bearer <token>.
// Пустой токен отключает проверку.
type TokenAuth struct {
	digest []byte
}

// NewTokenAuth создаёт новый экземпляр TokenAuth с указанным токеном.
func NewTokenAuth(token string) *TokenAuth {
	if token == "" {
		return &TokenAuth{}
	}
	sum := sha256.Sum256([]byte(token))
	return &TokenAuth{digest: sum[:]}
}

// Enabled сообщает, включена ли проверка токена.
func (a *TokenAuth) Enabled() bool {
	return len(a.digest) > 0
}

// Middleware проверяет токен запроса.
func (a *TokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearerToken(r)
		if !ok || !a.valid(token) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="escrow"`)
			writeUnauthorized(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// valid сравнивает дайджесты за постоянное время, чтобы длина токена не влияла на тайминг.
func (a *TokenAuth) valid(token string) bool {
	sum := sha256.Sum256([]byte(token))
	return hmac.Equal(sum[:], a.digest)
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":    false,
		"error": http.StatusText(http.StatusUnauthorized),
	})
}

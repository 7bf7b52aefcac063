package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"net/http"
)

const adminTokenHeader = "X-Admin-Token"

// AdminAuth проверяет административный токен в заголовке X-Admin-Token.
// Пустой настроенный токен полностью отключает административный доступ.
type AdminAuth struct {
	token string
}

// NewAdminAuth создаёт middleware административного доступа.
func NewAdminAuth(token string) *AdminAuth {
	return &AdminAuth{token: token}
}

// Middleware отклоняет запросы без валидного административного токена.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.token == "" {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		got := r.Header.Get(adminTokenHeader)
		if got == "" || !tokenEqual(got, a.token) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// tokenEqual сравнивает токены за постоянное время. Хеширование выравнивает
// длины, чтобы сравнение не раскрывало длину настоящего токена.
func tokenEqual(got, want string) bool {
	gotSum := sha256.Sum256([]byte(got))
	wantSum := sha256.Sum256([]byte(want))
	return hmac.Equal(gotSum[:], wantSum[:])
}

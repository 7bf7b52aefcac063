package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAdminAuth(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		header     string
		wantStatus int
		wantNext   bool
	}{
		{
			name:       "valid token",
			configured: "s3cret",
			header:     "s3cret",
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
		{
			name:       "wrong token",
			configured: "s3cret",
			header:     "guess",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing token",
			configured: "s3cret",
			header:     "",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "admin access disabled",
			configured: "",
			header:     "anything",
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nextCalled := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				nextCalled = true
			})

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
			if tt.header != "" {
				r.Header.Set("X-Admin-Token", tt.header)
			}

			NewAdminAuth(tt.configured).Middleware(next).ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if nextCalled != tt.wantNext {
				t.Fatalf("next called = %v, want %v", nextCalled, tt.wantNext)
			}
		})
	}
}

package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/guruprasath0306/Silo-Monitor/internal/utils"
)

const CookieName = "session"

// Middleware attaches the request's session, if it carries a valid one, to the
// request context. Requests without a usable token pass through unchanged.
func (c *TokenCodec) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := tokenFromRequest(r); token != "" {
			if s, err := c.Parse(token); err == nil {
				r = r.WithContext(WithSession(r.Context(), s))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if ck, err := r.Cookie(CookieName); err == nil {
		return ck.Value
	}
	return ""
}

func SetSessionCookie(w http.ResponseWriter, token string, expires time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Require rejects requests without a session (401) or whose session fails allow
// (403). A nil allow accepts any session.
func Require(allow func(Session) bool, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := FromContext(r.Context())
		if !ok {
			utils.WriteError(w, http.StatusUnauthorized, "sign in required")
			return
		}
		if allow != nil && !allow(s) {
			utils.WriteError(w, http.StatusForbidden, "role "+string(s.Role)+" may not do this")
			return
		}
		next(w, r)
	}
}

// StaticToken validates a single shared API key.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// RequireAPIKey guards next with the key in header. An empty key leaves next open.
func RequireAPIKey(key, header string, next http.Handler) http.Handler {
	if key == "" {
		return next
	}
	v := StaticToken{Token: key}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := v.Validate(r.Header.Get(header)); err != nil {
			utils.WriteError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

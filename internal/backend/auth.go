package backend

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the lifetime of issued tokens.
const DefaultTokenTTL = time.Hour

// Auth checks request credentials. In disabled mode every request passes.
// Otherwise a request must carry either the static token or a token issued
// by IssueToken.
type Auth struct {
	Enabled  bool
	Token    string
	Username string
	Password string
	Secret   []byte
	TTL      time.Duration
	now      func() time.Time
}

func (a *Auth) clock() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now()
}

// Middleware rejects unauthenticated requests with 401.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled || a.valid(r.Header.Get("Authorization")) {
			next.ServeHTTP(w, r)
			return
		}
		writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
	})
}

func (a *Auth) valid(header string) bool {
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if raw == "" {
		return false
	}
	if a.Token != "" && subtle.ConstantTimeCompare([]byte(raw), []byte(a.Token)) == 1 {
		return true
	}
	if len(a.Secret) == 0 {
		return false
	}
	_, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return a.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.clock),
	)
	return err == nil
}

var errNoCredentials = errors.New("username and password login is not configured")

// issue signs a token for user.
func (a *Auth) issue(user string) (string, error) {
	if a.Username == "" || len(a.Secret) == 0 {
		return "", errNoCredentials
	}
	ttl := a.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := a.clock()
	claims := jwt.RegisteredClaims{
		Subject:   user,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
}

// IssueToken handles GET /api/users/token. The caller authenticates with
// basic auth and receives a signed token.
func (a *Auth) IssueToken(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok ||
		subtle.ConstantTimeCompare([]byte(user), []byte(a.Username)) != 1 ||
		subtle.ConstantTimeCompare([]byte(pass), []byte(a.Password)) != 1 {
		writeJSON(w, http.StatusUnauthorized, errorBody("invalid credentials"))
		return
	}
	tok, err := a.issue(user)
	if err != nil {
		writeJSON(w, http.StatusNotImplemented, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": tok})
}

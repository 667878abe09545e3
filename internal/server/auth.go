package server

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	jose "gopkg.in/go-jose/go-jose.v2"
	"gopkg.in/go-jose/go-jose.v2/jwt"

	"github.com/qvarn/qvarn/internal/model"
)

// Authenticator validates bearer tokens signed with one public key.
type Authenticator struct {
	key    any
	issuer string
	now    func() time.Time
}

// NewAuthenticator parses a PEM public key ("PUBLIC KEY" or "RSA PUBLIC
// KEY"). When issuer is non-empty, tokens must carry it as iss.
func NewAuthenticator(pemKey, issuer string) (*Authenticator, error) {
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, errors.New("token validation key is not PEM encoded")
	}
	var (
		key any
		err error
	)
	if block.Type == "RSA PUBLIC KEY" {
		key, err = x509.ParsePKCS1PublicKey(block.Bytes)
	} else {
		key, err = x509.ParsePKIXPublicKey(block.Bytes)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing token validation key: %w", err)
	}
	return &Authenticator{key: key, issuer: issuer, now: time.Now}, nil
}

// Token is what a validated bearer token grants.
type Token struct {
	Subject string
	Scopes  map[string]bool
}

type scopeClaims struct {
	Scope string `json:"scope"`
}

// Authenticate validates the value of an Authorization header.
func (a *Authenticator) Authenticate(header string) (*Token, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, model.ErrUnauthorized("missing bearer token")
	}
	parsed, err := jwt.ParseSigned(strings.TrimSpace(raw))
	if err != nil {
		return nil, model.ErrUnauthorized("malformed token")
	}
	if len(parsed.Headers) != 1 {
		return nil, model.ErrUnauthorized("unexpected token headers")
	}
	switch jose.SignatureAlgorithm(parsed.Headers[0].Algorithm) {
	case jose.RS256, jose.RS512, jose.ES256, jose.EdDSA:
	default:
		return nil, model.ErrUnauthorized("unsupported signature algorithm " + parsed.Headers[0].Algorithm)
	}

	var std jwt.Claims
	var extra scopeClaims
	if err := parsed.Claims(a.key, &std, &extra); err != nil {
		return nil, model.ErrUnauthorized("invalid token signature")
	}
	if err := std.Validate(jwt.Expected{Issuer: a.issuer, Time: a.now()}); err != nil {
		return nil, model.ErrUnauthorized(err.Error())
	}

	tok := &Token{Subject: std.Subject, Scopes: map[string]bool{}}
	for _, s := range strings.Fields(extra.Scope) {
		tok.Scopes[s] = true
	}
	return tok, nil
}

// Scope returns the scope a token needs for method on the route template,
// e.g. /persons/{id} and GET give uapi_persons_id_get.
func Scope(template, method string) string {
	var b strings.Builder
	b.WriteString("uapi")
	for _, part := range strings.Split(strings.Trim(template, "/"), "/") {
		b.WriteByte('_')
		if strings.HasPrefix(part, "{") {
			b.WriteString("id")
		} else {
			b.WriteString(part)
		}
	}
	b.WriteByte('_')
	b.WriteString(method)
	return strings.ToLower(b.String())
}

type subjectKey struct{}

func subjectFrom(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}

// authorize is router middleware checking the token and the route's scope.
func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Auth == nil {
			next.ServeHTTP(w, r)
			return
		}
		tmpl, err := mux.CurrentRoute(r).GetPathTemplate()
		if err != nil || tmpl == "/healthcheck" || tmpl == "/version" {
			next.ServeHTTP(w, r)
			return
		}

		tok, err := s.opts.Auth.Authenticate(r.Header.Get("Authorization"))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			writeError(w, r, err)
			return
		}
		scope := Scope(tmpl, r.Method)
		if !tok.Scopes[scope] {
			w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
			writeError(w, r, model.ErrForbidden(scope))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, tok.Subject)))
	})
}

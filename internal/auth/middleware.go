package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"

	"github.com/inkwell-labs/billing-api/internal/common"
)

// Authenticator verifies bearer tokens and injects the caller identity into
// request context. Token issuance happens elsewhere; this service only
// consumes HS256 tokens signed with the shared secret.
type Authenticator struct {
	Secret    []byte
	Validator TokenValidator
	Logger    zerolog.Logger
	Now       func() time.Time
}

// NewAuthenticator builds an Authenticator with sane defaults.
func NewAuthenticator(secret, issuer string, logger zerolog.Logger) *Authenticator {
	return &Authenticator{
		Secret: []byte(secret),
		Validator: TokenValidator{
			Issuer:    issuer,
			ClockSkew: 30 * time.Second,
			Algorithm: jwa.HS256,
		},
		Logger: logger,
		Now:    time.Now,
	}
}

// RequireAuth rejects requests that do not carry a valid bearer token.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "missing bearer token", nil)
			return
		}

		tok, alg, err := a.parse(raw)
		if err != nil {
			a.Logger.Debug().Err(err).Msg("token parse failed")
			common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "invalid token", nil)
			return
		}
		if err := a.Validator.Validate(tok, alg, a.Now()); err != nil {
			a.Logger.Debug().Err(err).Msg("token validation failed")
			common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "invalid token", nil)
			return
		}
		sub := tok.Subject()
		if sub == "" {
			common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "token missing subject", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(common.WithUserID(r.Context(), sub)))
	})
}

func (a *Authenticator) parse(raw string) (jwt.Token, jwa.SignatureAlgorithm, error) {
	msg, err := jws.ParseString(raw)
	if err != nil {
		return nil, "", err
	}
	var alg jwa.SignatureAlgorithm
	if sigs := msg.Signatures(); len(sigs) > 0 {
		alg = sigs[0].ProtectedHeaders().Algorithm()
	}

	tok, err := jwt.ParseString(raw, jwt.WithKey(jwa.HS256, a.Secret), jwt.WithValidate(false))
	if err != nil {
		return nil, "", err
	}
	return tok, alg, nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

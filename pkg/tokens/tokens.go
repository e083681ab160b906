// Package tokens issues and verifies the HMAC-signed, salt-parametrised
// tokens used for login links, email verification, password resets, CSRF
// and file downloads. The salt binds a token to one purpose: a login
// token can never pass as a download token.
package tokens

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cultivarhq/cultivar/pkg/configuration"
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

type Purpose string

const (
	PurposeLogin    Purpose = "login"
	PurposeVerify   Purpose = "verify"
	PurposeReset    Purpose = "reset"
	PurposeCSRF     Purpose = "csrf"
	PurposeDownload Purpose = "download"
)

type Signer struct {
	secret   []byte
	salts    map[Purpose]string
	expiries map[Purpose]time.Duration
	now      func() time.Time
}

func NewSigner(opts configuration.TokenOptions) *Signer {
	return &Signer{
		secret: []byte(opts.Secret),
		salts: map[Purpose]string{
			PurposeLogin:    opts.LoginSalt,
			PurposeVerify:   opts.VerifySalt,
			PurposeReset:    opts.ResetSalt,
			PurposeCSRF:     opts.CSRFSalt,
			PurposeDownload: opts.DownloadSalt,
		},
		expiries: map[Purpose]time.Duration{
			PurposeLogin:    opts.LoginExpiry,
			PurposeVerify:   opts.VerifyExpiry,
			PurposeReset:    opts.ResetExpiry,
			PurposeCSRF:     opts.CSRFExpiry,
			PurposeDownload: opts.DownloadExpiry,
		},
		now: time.Now,
	}
}

// WithClock overrides the signer's clock.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

type claims struct {
	Subject string `json:"sub"`
	Salt    string `json:"salt"`
	jwt.RegisteredClaims
}

// Sign issues a token for the given purpose and subject.
func (s *Signer) Sign(purpose Purpose, subject string) (string, error) {
	salt, ok := s.salts[purpose]
	if !ok {
		return "", serrors.IllegalOperation("unknown token purpose %q", purpose)
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Subject: subject,
		Salt:    salt,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiries[purpose])),
		},
	})
	return token.SignedString(s.secret)
}

// Verify checks the signature, expiry and purpose salt, returning the
// subject.
func (s *Signer) Verify(purpose Purpose, raw string) (string, error) {
	salt, ok := s.salts[purpose]
	if !ok {
		return "", serrors.IllegalOperation("unknown token purpose %q", purpose)
	}
	parsed, err := jwt.ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, serrors.IllegalOperation("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", serrors.Unauthorised("invalid %s token: %v", purpose, err)
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return "", serrors.Unauthorised("invalid %s token", purpose)
	}
	if c.Salt != salt {
		return "", serrors.Unauthorised("token purpose mismatch")
	}
	return c.Subject, nil
}

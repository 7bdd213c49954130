package auth

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPVerifier checks a second-factor code. Treated as a black box by login.
type TOTPVerifier interface {
	Verify(secret, code string) bool
}

// PquernaTOTPVerifier validates RFC 6238 codes with pquerna/otp
type PquernaTOTPVerifier struct {
	opts totp.ValidateOpts
	now  func() time.Time
}

// NewTOTPVerifier creates a verifier for 6-digit, 30-second SHA1 codes.
// Allows ±1 time step for clock drift.
func NewTOTPVerifier() *PquernaTOTPVerifier {
	return &PquernaTOTPVerifier{
		opts: totp.ValidateOpts{
			Period:    30,
			Skew:      1,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		},
		now: time.Now,
	}
}

// WithClock replaces the time source (tests).
func (v *PquernaTOTPVerifier) WithClock(now func() time.Time) *PquernaTOTPVerifier {
	v.now = now
	return v
}

// Verify validates code against a base32 secret
func (v *PquernaTOTPVerifier) Verify(secret, code string) bool {
	valid, err := totp.ValidateCustom(code, secret, v.now(), v.opts)
	return err == nil && valid
}

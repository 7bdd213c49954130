package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name       string
		password   string
		shouldFail bool
	}{
		{"valid strong password", "SecureP@ss123", false},
		{"too short", "Pass@1", true},
		{"missing uppercase", "securepass@123", true},
		{"missing lowercase", "SECUREPASS@123", true},
		{"missing digit", "SecurePass@xyz", true},
		{"missing special character", "SecurePass123", true},
		{"common password rejected", "password123", true},
		{"valid with symbols", "MyP@ssw0rd!", false},
		{"valid with multiple special chars", "Secure#P@ssw0rd", false},
		{"too long", "Aa1@" + strings.Repeat("x", 150), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.shouldFail {
				require.Error(t, err)
				assert.Equal(t, "invalid password", err.Error())
				var pve *PasswordValidationError
				assert.ErrorAs(t, err, &pve)
				assert.NotEmpty(t, pve.Errors)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHasher_HashAndCompare(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)
	password := "SecureP@ss123"

	hash, err := h.Hash(password)
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.NotEqual(t, password, hash)

	assert.NoError(t, h.Compare(hash, password))
	assert.ErrorIs(t, h.Compare(hash, "WrongPassword123!"), ErrPasswordMismatch)
}

func TestHasher_EmptyPassword(t *testing.T) {
	_, err := NewHasher(bcrypt.MinCost).Hash("")
	assert.Error(t, err)
}

func TestNewHasher_OutOfRangeCost(t *testing.T) {
	assert.Equal(t, BcryptCost, NewHasher(0).cost)
	assert.Equal(t, BcryptCost, NewHasher(99).cost)
	assert.Equal(t, bcrypt.MinCost, NewHasher(bcrypt.MinCost).cost)
}

func TestUnmatchableHash(t *testing.T) {
	hash := UnmatchableHash(bcrypt.MinCost)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)

	h := NewHasher(bcrypt.MinCost)
	for _, pw := range []string{"", "x", "timing-equalization", "bastionTimingEqualizer"} {
		assert.ErrorIs(t, h.Compare(hash, pw), ErrPasswordMismatch, pw)
	}

	cost, err = bcrypt.Cost([]byte(UnmatchableHash(99)))
	require.NoError(t, err)
	assert.Equal(t, BcryptCost, cost)
}

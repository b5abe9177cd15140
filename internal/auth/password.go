// Package auth implements the session-security core: password hashing and
// verification, session token issuance and validation, and the cookie contract
// that every protected route depends on.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// scrypt work factors. N=16384,r=8,p=1 costs tens of milliseconds per hash on
// current server hardware, which is the point: offline brute force against a
// leaked record has to pay the same price per guess.
const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 64
	saltLen      = 16
)

// HashPassword derives a storable record from a plaintext password. The record
// is self-contained: "hex(salt):hex(derivedKey)" with a fresh random salt per
// call, so two hashes of the same password never collide.
//
// The only failure mode is the entropy source, which is fatal for the caller:
// an account must never be created with a predictable salt.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := scrypt.Key([]byte(password), []byte(hex.EncodeToString(salt)), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", fmt.Errorf("failed to derive key: %w", err)
	}

	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(key), nil
}

// VerifyPassword re-derives the key from the candidate password and the
// record's salt and compares in constant time. It returns false for a
// mismatch or for a record that does not split into salt and key; records are
// expected to originate from HashPassword.
func VerifyPassword(password, record string) bool {
	salt, keyHex, ok := strings.Cut(record, ":")
	if !ok || salt == "" || keyHex == "" {
		return false
	}

	storedKey, err := hex.DecodeString(keyHex)
	if err != nil || len(storedKey) != scryptKeyLen {
		return false
	}

	derived, err := scrypt.Key([]byte(password), []byte(salt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare(storedKey, derived) == 1
}

// passwordCharset matches the generator the registration UI documents: mixed
// case, digits, and a handful of symbols.
const passwordCharset = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz~!@-#$"

// GeneratePassword returns a random password of the given length for accounts
// provisioned from a federated identity. The password is hashed and stored but
// never delivered to the user, so those accounts have no password-logon path
// until an out-of-band reset exists.
func GeneratePassword(length int) (string, error) {
	if length <= 0 {
		length = 12
	}
	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(passwordCharset)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		b.WriteByte(passwordCharset[n.Int64()])
	}
	return b.String(), nil
}

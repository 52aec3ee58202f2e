package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the device identity inside a signed device token.
type Claims struct {
	DeviceID string `json:"sub"`
	jwt.RegisteredClaims
}

type TokenConfig struct {
	Secret string
	Issuer string
}

// CreateDeviceToken mints a signed token for a newly paired device. The token
// itself never touches disk; callers persist only HashToken(token).
func CreateDeviceToken(deviceID string, cfg TokenConfig) (string, error) {
	if cfg.Secret == "" {
		return "", errors.New("missing secret")
	}
	if deviceID == "" {
		return "", errors.New("missing deviceID")
	}

	claims := Claims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   cfg.Issuer,
			IssuedAt: jwt.NewNumericDate(time.Now()),
			Subject:  deviceID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}

// ParseDeviceToken verifies the signature and returns the embedded claims.
// A valid signature alone does not authorize anything; the trust store still
// has to match the token hash and confirm the device is not revoked.
func ParseDeviceToken(tokenString string, cfg TokenConfig) (*Claims, error) {
	if cfg.Secret == "" {
		return nil, errors.New("missing secret")
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(cfg.Secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	return claims, nil
}

// HashToken returns the base64 SHA-256 of the token, the only form ever
// stored at rest.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// VerifyTokenHash compares a presented token against a stored hash in
// constant time.
func VerifyTokenHash(token, expectedHash string) bool {
	if expectedHash == "" {
		return false
	}
	expected, err := base64.StdEncoding.DecodeString(expectedHash)
	if err != nil {
		return false
	}
	actual := sha256.Sum256([]byte(token))
	return subtle.ConstantTimeCompare(actual[:], expected) == 1
}

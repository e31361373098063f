package repo

import (
	crand "crypto/rand"
	"encoding/base64"
)

const (
	tokenBytes    = 9
	tokenRetryMax = 5
)

// generateToken возвращает URL-безопасный случайный токен персональной ссылки.
func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := crand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2 tuning matches the teacher's internal/membership/password.go
// exactly: time=1, memory=64MiB, parallelism=4, keyLen=32.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// hashPassword generates a salted Argon2id hash of password.
func hashPassword(password string) (hash, salt string, err error) {
	saltBytes := make([]byte, 16)
	if _, err := rand.Read(saltBytes); err != nil {
		return "", "", err
	}
	sum := argon2.IDKey([]byte(password), saltBytes, argonTime, argonMemory, argonThreads, argonKeyLen)
	return base64.StdEncoding.EncodeToString(sum), base64.StdEncoding.EncodeToString(saltBytes), nil
}

// verifyPassword compares password against a stored salted hash in
// constant time.
func verifyPassword(password, salt, hash string) (bool, error) {
	saltBytes, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	hashBytes, err := base64.StdEncoding.DecodeString(hash)
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}
	sum := argon2.IDKey([]byte(password), saltBytes, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(sum, hashBytes) == 1, nil
}

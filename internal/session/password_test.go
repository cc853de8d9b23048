package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword_RoundTrip(t *testing.T) {
	hash, salt, err := hashPassword("correct horse battery staple")
	require.NoError(t, err)
	require.NotEmpty(t, hash)
	require.NotEmpty(t, salt)

	ok, err := verifyPassword("correct horse battery staple", salt, hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHashPassword_WrongPasswordFails(t *testing.T) {
	hash, salt, err := hashPassword("correct horse battery staple")
	require.NoError(t, err)

	ok, err := verifyPassword("wrong password", salt, hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashPassword_SaltsDiffer(t *testing.T) {
	_, salt1, err := hashPassword("same password")
	require.NoError(t, err)
	_, salt2, err := hashPassword("same password")
	require.NoError(t, err)

	assert.NotEqual(t, salt1, salt2)
}

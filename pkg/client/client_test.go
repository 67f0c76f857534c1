package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const secretJSON = `{"installed": {
	"client_id": "id.apps.googleusercontent.com",
	"client_secret": "secret",
	"auth_uri": "https://accounts.google.com/o/oauth2/auth",
	"token_uri": "https://oauth2.googleapis.com/token",
	"redirect_uris": ["http://localhost"]
}}`

func TestNewFromToken(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	c := NewFromToken(context.Background(), "ya29.token")
	resp, err := c.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer ya29.token", got)
}

func TestSaveAndLoadToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	expiry := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, SaveToken(path, &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: expiry}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	tok, err := TokenFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "r", tok.RefreshToken)
	assert.True(t, tok.Expiry.Equal(expiry))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	secret := filepath.Join(dir, "client_secret.json")
	require.NoError(t, os.WriteFile(secret, []byte(secretJSON), 0o600))

	_, err := Load(context.Background(), secret, "scope")
	assert.ErrorIs(t, err, ErrNoToken)

	require.NoError(t, SaveToken(TokenFile, &oauth2.Token{AccessToken: "a"}))
	c, err := Load(context.Background(), secret, "scope")
	require.NoError(t, err)
	assert.NotNil(t, c)

	_, err = Load(context.Background(), filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestGenerateState(t *testing.T) {
	a, err := generateState()
	require.NoError(t, err)
	b, err := generateState()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Len(t, a, 44)
}

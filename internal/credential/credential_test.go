package credential

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mint-trader/internal/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "settings.json", `{
  "accounts": [
    {"name": "main", "api_key": "k1", "api_secret": "s1", "api_pass": "p1"},
    {"name": "sub", "api_key": "k2", "api_secret": "s2", "api_pass": "p2"}
  ]
}`)

	creds, err := Load(path)
	require.NoError(t, err)
	require.Len(t, creds, 2)
	assert.Equal(t, "main", creds[0].Name)
	assert.Equal(t, "k1", creds[0].APIKey)
	assert.Equal(t, "p2", creds[1].Passphrase)
}

func TestLoad_WithoutExtensionDefaultsToJSON(t *testing.T) {
	path := writeFile(t, "settings", `{"accounts": [{"name": "a", "api_key": "k", "api_secret": "s", "api_pass": "p"}]}`)

	creds, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, creds, 1)
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]string{
		"empty":     `{"accounts": []}`,
		"missing":   `{"accounts": [{"name": "a", "api_key": "k"}]}`,
		"duplicate": `{"accounts": [{"name": "a", "api_key": "k", "api_secret": "s", "api_pass": "p"}, {"name": "a", "api_key": "k", "api_secret": "s", "api_pass": "p"}]}`,
		"no name":   `{"accounts": [{"api_key": "k", "api_secret": "s", "api_pass": "p"}]}`,
		"malformed": `{"accounts": [`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "settings.json", content))
			require.Error(t, err)
			assert.ErrorIs(t, err, config.ErrConfig)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorIs(t, err, config.ErrConfig)

	_, err = Load("")
	assert.ErrorIs(t, err, config.ErrConfig)
}

func TestString_RedactsSecrets(t *testing.T) {
	c := Credential{Name: "main", APIKey: "key", APISecret: "secret", Passphrase: "pass"}
	s := c.String()
	assert.Contains(t, s, "main")
	assert.NotContains(t, s, "key=key")
	assert.NotContains(t, s, "secret")
	assert.NotContains(t, s, "pass")
}

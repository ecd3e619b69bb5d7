package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampax/pampax/internal/errors"
)

func writeProject(t *testing.T, root, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, ProjectFileName), []byte(content), 0o644))
}

func isolateUserConfig(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func TestLoad_DefaultsWhenNoFiles(t *testing.T) {
	isolateUserConfig(t)
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.Equal(t, ".pampax", cfg.Storage.Dir)
	assert.True(t, cfg.Features.Graph)
	assert.Empty(t, cfg.Warnings())
	require.NoError(t, cfg.Validate())
}

func TestLoad_ProjectOverridesUser(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	userDir := filepath.Join(xdg, "pampax")
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "config.yaml"),
		[]byte("search:\n  default_k: 20\n  rrf_constant: 90\n"), 0o644))

	root := t.TempDir()
	writeProject(t, root, "search:\n  default_k: 5\n")

	cfg, err := Load(root)
	require.NoError(t, err)

	// Project wins where it speaks, the user layer holds elsewhere.
	assert.Equal(t, 5, cfg.Search.DefaultK)
	assert.Equal(t, 90, cfg.Search.RRFConstant)
}

func TestLoad_EnvWinsOverFiles(t *testing.T) {
	isolateUserConfig(t)
	root := t.TempDir()
	writeProject(t, root, "search:\n  default_k: 5\nserver:\n  log_level: warn\n")
	t.Setenv("PAMPAX_DEFAULT_K", "42")
	t.Setenv("PAMPAX_LOG_LEVEL", "debug")

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.Search.DefaultK)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
}

func TestLoad_UnknownKeysWarnNotFail(t *testing.T) {
	isolateUserConfig(t)
	root := t.TempDir()
	writeProject(t, root, "search:\n  default_kay: 5\nturbo: true\n")

	cfg, err := Load(root)
	require.NoError(t, err)

	require.Len(t, cfg.Warnings(), 2)
	assert.Contains(t, cfg.Warnings()[0], "default_kay")
	assert.Contains(t, cfg.Warnings()[1], "turbo")
	// The rest of the config still loaded.
	assert.Equal(t, 10, cfg.Search.DefaultK)
}

func TestLoad_MalformedYAMLFails(t *testing.T) {
	isolateUserConfig(t)
	root := t.TempDir()
	writeProject(t, root, "search: [unclosed")

	_, err := Load(root)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))
}

func TestLoad_BadEnvValueWarns(t *testing.T) {
	isolateUserConfig(t)
	t.Setenv("PAMPAX_DEFAULT_K", "many")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Search.DefaultK)
	require.NotEmpty(t, cfg.Warnings())
	assert.Contains(t, cfg.Warnings()[0], "PAMPAX_DEFAULT_K")
}

func TestValidate_RejectsBadShares(t *testing.T) {
	cfg := Default()
	cfg.Packing.MustShare = 0.9
	cfg.Packing.ReserveShare = 0.9

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))
}

func TestValidate_RejectsUnknownTransport(t *testing.T) {
	cfg := Default()
	cfg.Server.Transport = "http"
	require.Error(t, cfg.Validate())
}

func TestAPIKey_ReadsEnvOnly(t *testing.T) {
	t.Setenv("PAMPAX_COHERE_API_KEY", "sk-test")
	var r RerankConfig
	assert.Equal(t, "sk-test", r.APIKey("cohere"))
	assert.Empty(t, r.APIKey("voyage"))
}

func TestSave_KeepsBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ProjectFileName)

	cfg := Default()
	require.NoError(t, cfg.Save(path))

	cfg.Search.DefaultK = 25
	require.NoError(t, cfg.Save(path))

	bak, err := os.ReadFile(path + ".bak")
	require.NoError(t, err)
	assert.Contains(t, string(bak), "default_k: 10")

	cur, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(cur), "default_k: 25")
}

func TestStateDir_ResolvesRelative(t *testing.T) {
	cfg := Default()
	assert.Equal(t, filepath.Join("/repo", ".pampax"), cfg.StateDir("/repo"))

	cfg.Storage.Dir = "/var/lib/pampax"
	assert.Equal(t, "/var/lib/pampax", cfg.StateDir("/repo"))
}

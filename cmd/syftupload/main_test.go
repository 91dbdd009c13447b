package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoot(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "syftupload"}
	addGlobalFlags(cmd.PersistentFlags())
	// no stray .env from the working directory
	require.NoError(t, cmd.PersistentFlags().Set("env-file", filepath.Join(t.TempDir(), "none.env")))
	return cmd
}

func TestLoadConfig_FromEnv(t *testing.T) {
	cmd := newTestRoot(t)
	require.NoError(t, cmd.PersistentFlags().Set("config", filepath.Join(t.TempDir(), "missing.json")))

	t.Setenv("SYFTUP_SERVER_URL", "https://uploads.example.com/")
	t.Setenv("SYFTUP_USER_ID", "alice")
	t.Setenv("SYFTUP_CHUNK_SIZE", "8MiB")
	t.Setenv("SYFTUP_PART_TIMEOUT", "90s")
	t.Setenv("SYFTUP_API_RETRIES", "5")

	cfg, err := loadValidConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, "https://uploads.example.com", cfg.ServerURL)
	assert.Equal(t, "alice", cfg.UserID)
	assert.EqualValues(t, 8<<20, cfg.PartSize)
	assert.Equal(t, 90*time.Second, cfg.PartTimeoutDur)
	assert.Equal(t, 5, cfg.APIRetries)
}

func TestLoadConfig_FromJSONFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	statePath := filepath.Join(dir, "state.db")
	dummyConfig := `{
	"server_url": "https://json.example.com",
	"user_id": "bob",
	"chunk_size": "16MiB",
	"state_backend": "sqlite",
	"state_path": "` + filepath.ToSlash(statePath) + `"
}`
	require.NoError(t, os.WriteFile(cfgPath, []byte(dummyConfig), 0o644))

	cmd := newTestRoot(t)
	require.NoError(t, cmd.PersistentFlags().Set("config", cfgPath))

	cfg, err := loadValidConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, cfgPath, cfg.Path)
	assert.Equal(t, "https://json.example.com", cfg.ServerURL)
	assert.Equal(t, "bob", cfg.UserID)
	assert.EqualValues(t, 16<<20, cfg.PartSize)
	assert.Equal(t, "sqlite", cfg.StateBackend)
	assert.Equal(t, filepath.Clean(statePath), cfg.StatePath)
}

func TestLoadConfig_FlagBeatsEnvAndFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"user_id": "from-file", "server_url": "https://file.example.com"}`), 0o644))

	cmd := newTestRoot(t)
	pf := cmd.PersistentFlags()
	require.NoError(t, pf.Set("config", cfgPath))
	require.NoError(t, pf.Set("user", "from-flag"))
	t.Setenv("SYFTUP_USER_ID", "from-env")

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.UserID)
	assert.Equal(t, "https://file.example.com", cfg.ServerURL)
}

func TestLoadConfig_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("SYFTUP_USER_ID=carol\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("SYFTUP_USER_ID") })

	cmd := newTestRoot(t)
	pf := cmd.PersistentFlags()
	require.NoError(t, pf.Set("config", filepath.Join(dir, "missing.json")))
	require.NoError(t, pf.Set("env-file", envFile))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "carol", cfg.UserID)
}

func TestLoadValidConfig_RequiresUser(t *testing.T) {
	cmd := newTestRoot(t)
	require.NoError(t, cmd.PersistentFlags().Set("config", filepath.Join(t.TempDir(), "missing.json")))
	t.Setenv("SYFTUP_USER_ID", "")

	_, err := loadValidConfig(cmd)
	require.Error(t, err)
}

func TestResolveConfigPath(t *testing.T) {
	t.Run("flag wins", func(t *testing.T) {
		cmd := newTestRoot(t)
		t.Setenv("SYFTUP_CONFIG_PATH", "/from/env.json")
		require.NoError(t, cmd.PersistentFlags().Set("config", "/from/flag.json"))
		assert.Equal(t, "/from/flag.json", resolveConfigPath(cmd))
	})

	t.Run("env when flag unset", func(t *testing.T) {
		cmd := newTestRoot(t)
		t.Setenv("SYFTUP_CONFIG_PATH", "/from/env.json")
		assert.Equal(t, "/from/env.json", resolveConfigPath(cmd))
	})
}

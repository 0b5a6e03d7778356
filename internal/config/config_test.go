package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headline-goat/funnel-engine/internal/config"
	"github.com/headline-goat/funnel-engine/internal/store"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := config.Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "fnl_sid", cfg.Experiments.SessionCookie)
	assert.Equal(t, 365*24*time.Hour, cfg.CookieMaxAge())
	assert.Equal(t, 15*time.Minute, cfg.Alerts.Interval)
	assert.Equal(t, 16, cfg.Metrics.MaxDepth)
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	yaml := "server:\n  port: 9000\nalerts:\n  interval: 5m\nmetrics:\n  timezone: UTC\nlog:\n  level: debug\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fnl.yaml"), []byte(yaml), 0o644))
	t.Setenv("FNL_ALERTS_CONCURRENCY", "9")
	t.Setenv("FNL_SERVER_PORT", "9100")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("db", "", "")
	require.NoError(t, fs.Parse([]string{"--db", "/tmp/other.db"}))

	v := viper.New()
	require.NoError(t, config.BindFlags(v, fs))
	cfg, err := config.Load(v, "")
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port, "env overrides file")
	assert.Equal(t, 5*time.Minute, cfg.Alerts.Interval)
	assert.Equal(t, 9, cfg.Alerts.Concurrency)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/other.db", cfg.Database.DSN)
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	_, err := config.Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("FNL_LEDGER_DRIVER", "carrier-pigeon")

	_, err := config.Load(viper.New(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrConfiguration)
}

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OceanOptics/getOC/internal/config"
	"github.com/OceanOptics/getOC/internal/platform"
)

func TestLoad_Defaults(t *testing.T) {
	v := config.NewViper()
	require.NoError(t, config.ReadFile(v, ""))

	cfg, err := config.Load(v)
	require.NoError(t, err)

	assert.Equal(t, 60.0, cfg.Query.BoundingBoxSize)
	assert.Equal(t, 12*time.Hour, cfg.Query.TimeWindow)
	assert.Equal(t, time.Second, cfg.Query.QueryDelay)
	assert.Equal(t, "4km", cfg.Query.L3Resolution)
	assert.Equal(t, "8D", cfg.Query.L3BinningPeriod)
	assert.Equal(t, 3, cfg.Download.MaxRetries)
	assert.Equal(t, 10, cfg.Download.ArchiveMaxRetries)
	assert.Equal(t, time.Minute, cfg.Download.RetryDelay)
	assert.Equal(t, 16*1024, cfg.Download.ChunkSize)
	assert.Equal(t, int64(1024), cfg.Download.MinFileSize)
	assert.Equal(t, "credentials.ini", cfg.Credentials)

	_, forced := cfg.PlatformKind()
	assert.False(t, forced)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "getoc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
platform: cmr
query:
  bounding_box_size: 30
  time_window: 3h
download:
  max_retries: 5
`), 0o600))
	t.Setenv("GETOC_QUERY_TIME_WINDOW", "90m")

	v := config.NewViper()
	require.NoError(t, config.ReadFile(v, path))
	cfg, err := config.Load(v)
	require.NoError(t, err)

	assert.Equal(t, 30.0, cfg.Query.BoundingBoxSize)
	assert.Equal(t, 90*time.Minute, cfg.Query.TimeWindow, "environment wins over the file")
	assert.Equal(t, 5, cfg.Download.MaxRetries)

	kind, forced := cfg.PlatformKind()
	assert.True(t, forced)
	assert.Equal(t, platform.KindCMR, kind)
}

func TestReadFile_ExplicitMissing(t *testing.T) {
	err := config.ReadFile(config.NewViper(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key   string
		value interface{}
	}{
		{config.KeyPlatform, "copernicus"},
		{config.KeyBoundingBoxSize, -1},
		{config.KeyDayNight, "X"},
		{config.KeyMaxRetries, 0},
		{config.KeyLogFormat, "xml"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			v := config.NewViper()
			v.Set(tt.key, tt.value)
			_, err := config.Load(v)
			assert.Error(t, err)
		})
	}
}

func TestRun_QueryAndDownloadConfig(t *testing.T) {
	v := config.NewViper()
	v.Set(config.KeyOutputDir, "/data")
	cfg, err := config.Load(v)
	require.NoError(t, err)

	q := cfg.PlatformQuery("MODIS-Aqua", "L2", "OC")
	assert.Equal(t, "MODIS-Aqua", q.Instrument)
	assert.Equal(t, 12*time.Hour, q.TimeWindow)

	assert.Equal(t, 3, cfg.DownloadConfig(platform.KindCMR).MaxRetries)
	assert.Equal(t, 10, cfg.DownloadConfig(platform.KindCDSE).MaxRetries)
	assert.Equal(t, 10, cfg.DownloadConfig(platform.KindCreodias).MaxRetries)
	assert.Equal(t, "/data", cfg.DownloadConfig(platform.KindOceanColor).OutputDir)
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "getoc.yaml")
	require.NoError(t, config.WriteDefault(path, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# getoc configuration")
	assert.Contains(t, string(data), "time_window: 12h0m0s")

	assert.Error(t, config.WriteDefault(path, false), "existing file is kept")
	assert.NoError(t, config.WriteDefault(path, true))

	v := config.NewViper()
	require.NoError(t, config.ReadFile(v, path))
	cfg, err := config.Load(v)
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour, cfg.Query.TimeWindow)
}

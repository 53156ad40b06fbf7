package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OceanOptics/getOC/internal/config"
	"github.com/OceanOptics/getOC/internal/platform"
	"github.com/OceanOptics/getOC/internal/platform/oceancolor"
	"github.com/OceanOptics/getOC/internal/poi"
	"github.com/OceanOptics/getOC/internal/provider/resilience"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "getoc dev")
}

func TestConfigInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "getoc.yaml")

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.FileExists(t, path)

	_, err = execute(t, "config", "init", path)
	assert.Error(t, err)

	_, err = execute(t, "config", "init", "--force", path)
	assert.NoError(t, err)
}

func TestRunCommand_RequiresInstrument(t *testing.T) {
	_, err := execute(t, "run", "cruise.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instrument")
}

func TestRunCommand_ConfigurationErrors(t *testing.T) {
	dir := t.TempDir()
	dataset := filepath.Join(dir, "cruise.csv")
	require.NoError(t, os.WriteFile(dataset, []byte("1,2020/08/16 12:00:00,36.0,-70.0\n"), 0o600))

	_, err := execute(t, "run", "-i", "AVHRR", dataset)
	assert.ErrorIs(t, err, platform.ErrUnsupportedInstrument)

	_, err = execute(t, "run", "-i", "MODIS-Aqua", "--platform", "copernicus", dataset)
	assert.ErrorIs(t, err, platform.ErrUnknownPlatform)

	_, err = execute(t, "run", "-i", "MODIS-Aqua", "-r", dataset)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cruise_MODIS-Aqua_L2_OC.csv does not exist")
}

func TestRunCommand_MissingCredentials(t *testing.T) {
	if config.NewTerminalPrompter(os.Stdin, io.Discard) != nil {
		t.Skip("stdin is a terminal")
	}
	dir := t.TempDir()
	dataset := filepath.Join(dir, "cruise.csv")
	require.NoError(t, os.WriteFile(dataset, []byte("1,2020/08/16 12:00:00,36.0,-70.0\n"), 0o600))

	_, err := execute(t, "run", "-i", "MODIS-Aqua", "--credentials", filepath.Join(dir, "none.ini"), "--platform", "cmr", dataset)
	assert.ErrorIs(t, err, config.ErrMissingCredentials, "no account and no terminal fails before any query")
}

func TestDownloadCommand_SkipsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "images")
	require.NoError(t, os.MkdirAll(out, 0o755))

	dataset := filepath.Join(dir, "cruise.csv")
	name := "AQUA_MODIS.20200816T173001.L2.OC.nc"
	require.NoError(t, poi.WriteFile(poi.CachePath(dataset, "MODIS-Aqua", "L2", "OC"), []*poi.POI{{
		ID:        "p1",
		Timestamp: time.Date(2020, 8, 16, 12, 0, 0, 0, time.UTC),
		Latitude:  36,
		Longitude: -70,
		Images:    []poi.Image{{Name: name, URL: "http://127.0.0.1:1/" + name}},
	}}))
	require.NoError(t, os.WriteFile(filepath.Join(out, name), bytes.Repeat([]byte{1}, 4096), 0o600))

	creds := filepath.Join(dir, "credentials.ini")
	require.NoError(t, os.WriteFile(creds, []byte("[earthdata]\nusername = jdoe\npassword = pw\n"), 0o600))

	_, err := execute(t, "download",
		"-i", "MODIS-Aqua", "-l", "L2", "-p", "OC",
		"--platform", "cmr",
		"--credentials", creds,
		"-o", out,
		dataset,
	)
	assert.NoError(t, err)
}

func TestNewPlatformRegistry(t *testing.T) {
	v := config.NewViper()
	cfg, err := config.Load(v)
	require.NoError(t, err)

	health := resilience.NewRegistry()
	var asked []platform.Kind
	registry := newPlatformRegistry(platformDeps{
		run:    cfg,
		logger: zerolog.Nop(),
		health: health,
		credential: func(kind platform.Kind) (config.Credential, error) {
			asked = append(asked, kind)
			if kind == platform.KindCreodias {
				return config.Credential{}, config.ErrMissingCredentials
			}
			return config.Credential{Username: "u", Password: "p"}, nil
		},
	})

	assert.Equal(t, 4, health.ProviderCount())

	for _, kind := range []platform.Kind{platform.KindOceanColor, platform.KindCMR, platform.KindCDSE} {
		p, err := registry.New(kind)
		require.NoError(t, err, kind)
		assert.Equal(t, kind, p.Kind())
	}

	_, err = registry.New(platform.KindCreodias)
	assert.True(t, errors.Is(err, config.ErrMissingCredentials))
	assert.Len(t, asked, 4)

	first, err := registry.New(platform.KindOceanColor)
	require.NoError(t, err)
	second, err := registry.New(platform.KindOceanColor)
	require.NoError(t, err)
	assert.Same(t, first.(*oceancolor.Client).Limiter(), second.(*oceancolor.Client).Limiter(),
		"browser clients of one registry share the query delay")
}

func TestSelectedPlatformAcceptsQuery(t *testing.T) {
	cfg, err := config.Load(config.NewViper())
	require.NoError(t, err)
	registry := newPlatformRegistry(platformDeps{run: cfg, logger: zerolog.Nop(), health: resilience.NewRegistry()})

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ages := map[string]time.Time{
		"old":    now.Add(-30 * 24 * time.Hour),
		"recent": now.Add(-6 * time.Hour),
	}
	levels := func(inst platform.Instrument) []string {
		switch inst.Name {
		case "OLCI", "SLSTR":
			return []string{platform.LevelL1, platform.LevelL2}
		case "MSI":
			return []string{platform.LevelL1C, platform.LevelL2A}
		}
		out := []string{platform.LevelL0, platform.LevelL1, platform.LevelL1A, platform.LevelL1B, platform.LevelGEO, platform.LevelL2}
		if inst.CMRName != "" {
			out = append(out, platform.LevelL3m)
		}
		return out
	}

	for _, name := range platform.InstrumentNames() {
		inst, err := platform.LookupInstrument(name)
		require.NoError(t, err)
		for _, level := range levels(inst) {
			for age, mostRecent := range ages {
				t.Run(name+"/"+level+"/"+age, func(t *testing.T) {
					product := "OC"
					if platform.IsLevel3(level) {
						product = "CHL"
					}
					kind, err := platform.Select(now, mostRecent, name, level)
					require.NoError(t, err)

					p, err := registry.New(kind)
					require.NoError(t, err)
					assert.NoError(t, p.Validate(platform.Query{Instrument: name, Level: level, Product: product}), "platform %s", kind)
				})
			}
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LogConfig{Level: "warn", Format: "json"}, false)
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"service":"getoc"`)

	buf.Reset()
	logger = newLogger(&buf, config.LogConfig{Level: "warn", Format: "json"}, true)
	logger.Debug().Msg("verbose")
	assert.Contains(t, buf.String(), "verbose")
}

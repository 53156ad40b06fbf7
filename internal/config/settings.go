package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/OceanOptics/getOC/internal/ledger"
	"github.com/OceanOptics/getOC/internal/notify"
	"github.com/OceanOptics/getOC/internal/telemetry"
)

// Settings are the process-level integrations, read from the environment.
//
//	GETOC_TELEMETRY_ENABLED=true
//	GETOC_LEDGER_DRIVER=postgres
//	GETOC_LEDGER_POSTGRES_DSN=postgres://...
//	GETOC_NOTIFY_DRIVER=nats
type Settings struct {
	Telemetry telemetry.Config `envPrefix:"TELEMETRY_"`
	Ledger    ledger.Config    `envPrefix:"LEDGER_"`
	Notify    notify.Config    `envPrefix:"NOTIFY_"`
}

// LoadSettings parses Settings, first loading the given .env files that exist.
// Variables already set in the environment win over the files.
func LoadSettings(envFiles ...string) (*Settings, error) {
	var present []string
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("checking env file: %w", err)
		}
	}
	if len(present) > 0 {
		if err := godotenv.Load(present...); err != nil {
			return nil, fmt.Errorf("loading env file: %w", err)
		}
	}

	var s Settings
	if err := env.ParseWithOptions(&s, env.Options{Prefix: EnvPrefix + "_"}); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &s, nil
}

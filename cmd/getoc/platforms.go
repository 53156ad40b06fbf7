package main

import (
	"github.com/rs/zerolog"

	"github.com/OceanOptics/getOC/internal/config"
	"github.com/OceanOptics/getOC/internal/download"
	"github.com/OceanOptics/getOC/internal/platform"
	"github.com/OceanOptics/getOC/internal/platform/cdse"
	"github.com/OceanOptics/getOC/internal/platform/cmr"
	"github.com/OceanOptics/getOC/internal/platform/creodias"
	"github.com/OceanOptics/getOC/internal/platform/oceancolor"
	"github.com/OceanOptics/getOC/internal/provider/resilience"
)

// platformDeps configures the backends of a registry.
type platformDeps struct {
	run    *config.Run
	logger zerolog.Logger
	health *resilience.Registry

	// credential returns the account of a backend. Nil runs anonymously.
	credential func(platform.Kind) (config.Credential, error)

	// download completes the downloader settings of a backend. Nil uses the run defaults.
	download func(platform.Kind, download.Config) download.Config
}

// newPlatformRegistry registers the four backends. Search clients are shared
// across instances so that circuit state and health survive between requests.
func newPlatformRegistry(deps platformDeps) *platform.Registry {
	clients := map[platform.Kind]*resilience.Client{}
	for _, kind := range []platform.Kind{
		platform.KindOceanColor, platform.KindCMR, platform.KindCDSE, platform.KindCreodias,
	} {
		cfg := resilience.DefaultClientConfig(string(kind))
		cfg.UserAgent = serviceName + "/" + Version
		cfg.Registry = deps.health
		clients[kind] = resilience.NewClient(cfg)
	}

	prepare := func(kind platform.Kind) (config.Credential, download.Config, zerolog.Logger, error) {
		var cred config.Credential
		if deps.credential != nil {
			c, err := deps.credential(kind)
			if err != nil {
				return config.Credential{}, download.Config{}, zerolog.Logger{}, err
			}
			cred = c
		}
		dl := deps.run.DownloadConfig(kind)
		if deps.download != nil {
			dl = deps.download(kind, dl)
		}
		return cred, dl, deps.logger.With().Str("platform", string(kind)).Logger(), nil
	}

	// One gate for every browser client, as serve builds a client per request.
	browserGate := oceancolor.NewLimiter(deps.run.Query.QueryDelay)

	registry := platform.NewRegistry()
	registry.MustRegister(platform.KindOceanColor, func() (platform.Platform, error) {
		cred, dl, logger, err := prepare(platform.KindOceanColor)
		if err != nil {
			return nil, err
		}
		return oceancolor.NewClient(oceancolor.ClientConfig{
			Limiter:    browserGate,
			Username:   cred.Username,
			Password:   cred.Password,
			HTTPClient: clients[platform.KindOceanColor],
			Download:   dl,
			Logger:     logger,
		}), nil
	})
	registry.MustRegister(platform.KindCMR, func() (platform.Platform, error) {
		cred, dl, logger, err := prepare(platform.KindCMR)
		if err != nil {
			return nil, err
		}
		return cmr.NewClient(cmr.ClientConfig{
			Username:   cred.Username,
			Password:   cred.Password,
			HTTPClient: clients[platform.KindCMR],
			Download:   dl,
			Logger:     logger,
		}), nil
	})
	registry.MustRegister(platform.KindCDSE, func() (platform.Platform, error) {
		cred, dl, logger, err := prepare(platform.KindCDSE)
		if err != nil {
			return nil, err
		}
		return cdse.NewClient(cdse.ClientConfig{
			Username:   cred.Username,
			Password:   cred.Password,
			HTTPClient: clients[platform.KindCDSE],
			Download:   dl,
			Logger:     logger,
		}), nil
	})
	registry.MustRegister(platform.KindCreodias, func() (platform.Platform, error) {
		cred, dl, logger, err := prepare(platform.KindCreodias)
		if err != nil {
			return nil, err
		}
		return creodias.NewClient(creodias.ClientConfig{
			Username:   cred.Username,
			Password:   cred.Password,
			HTTPClient: clients[platform.KindCreodias],
			Download:   dl,
			Logger:     logger,
		}), nil
	})
	return registry
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/OceanOptics/getOC/internal/config"
	"github.com/OceanOptics/getOC/internal/download"
	"github.com/OceanOptics/getOC/internal/ledger"
	"github.com/OceanOptics/getOC/internal/notify"
	"github.com/OceanOptics/getOC/internal/platform"
	"github.com/OceanOptics/getOC/internal/poi"
	"github.com/OceanOptics/getOC/internal/provider/resilience"
)

// runOptions are the per-invocation arguments of run, resolve and download.
type runOptions struct {
	instrument string
	level      string
	product    string
	username   string

	readList  bool
	writeList bool
	resolve   bool
	download  bool
}

func addQueryFlags(cmd *cobra.Command, opts *runOptions) {
	f := cmd.Flags()
	f.StringVarP(&opts.instrument, "instrument", "i", "", "instrument: SeaWiFS, MODIS-Aqua, MODIS-Terra, OCTS, CZCS, GOCI, MERIS, HICO, VIIRSN, VIIRSJ1, OLCI, SLSTR, MSI")
	f.StringVarP(&opts.level, "level", "l", platform.LevelL2, "processing level: L0, L1, L1A, L1B, L1C, GEO, L2, L2A, L3b, L3m; append _ERR or _EFR for the OLCI resolution")
	f.StringVarP(&opts.product, "product", "p", "OC", "level 2 and 3 product: OC, SST, SST4, IOP, or a level 3 suite such as CHL")
	f.String("platform", "", "force the data platform: oceancolor, cmr, cdse or creodias")
	f.Float64("box", platform.DefaultBoundingBoxSize, "bounding box radius in nautical miles")
	f.Duration("time-window", platform.DefaultTimeWindow, "half width of the search window around each point")
	f.DurationP("delay", "d", time.Second, "delay between Ocean-Color Browser queries")
	f.String("day-night", "", "day/night filter of the Ocean-Color Browser: D, N or D@N")
	f.String("res", platform.DefaultL3Resolution, "level 3 spatial resolution: 4km or 9km")
	f.StringP("binning-period", "b", platform.DefaultL3BinningPeriod, "level 3 binning period: DAY, 8D, MO or YR")
	_ = cmd.MarkFlagRequired("instrument")
}

func addDownloadFlags(cmd *cobra.Command, opts *runOptions) {
	f := cmd.Flags()
	f.StringVarP(&opts.username, "username", "u", "", "account username, overriding the credentials file")
	f.String("credentials", "credentials.ini", "INI file with earthdata, copernicus and creodias accounts")
	f.StringP("output-dir", "o", ".", "directory receiving the images")
	f.Int("max-retries", download.DefaultMaxRetries, "download attempts per file on Earthdata platforms")
	f.Duration("retry-delay", download.DefaultRetryDelay, "wait between download attempts")
	f.Bool("fail-fast", false, "stop at the first file that cannot be downloaded")
}

func newRunCommand(a *app) *cobra.Command {
	opts := &runOptions{resolve: true, download: true}
	cmd := &cobra.Command{
		Use:   "run <dataset.csv>",
		Short: "Resolve the image lists of a dataset and download the images",
		Example: `  getoc run -i MODIS-Aqua -l L2 -p OC -w cruise.csv
  getoc run -i VIIRSN -l L1A --box 30 cruise.csv
  getoc run -i OLCI -l L2 --platform creodias -r cruise.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.readList {
				opts.resolve = false
			}
			return a.execute(cmd, opts, args[0])
		},
	}
	addQueryFlags(cmd, opts)
	addDownloadFlags(cmd, opts)
	cmd.Flags().BoolVarP(&opts.writeList, "write-image-list", "w", false, "write the resolved image lists next to the dataset")
	cmd.Flags().BoolVarP(&opts.readList, "read-image-list", "r", false, "download from a previously written image list instead of querying")
	return cmd
}

func newResolveCommand(a *app) *cobra.Command {
	opts := &runOptions{resolve: true, writeList: true}
	cmd := &cobra.Command{
		Use:   "resolve <dataset.csv>",
		Short: "Resolve and write the image lists of a dataset without downloading",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.execute(cmd, opts, args[0])
		},
	}
	addQueryFlags(cmd, opts)
	return cmd
}

func newDownloadCommand(a *app) *cobra.Command {
	opts := &runOptions{readList: true, download: true}
	cmd := &cobra.Command{
		Use:   "download <dataset.csv>",
		Short: "Download the images of a previously written image list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.execute(cmd, opts, args[0])
		},
	}
	addQueryFlags(cmd, opts)
	addDownloadFlags(cmd, opts)
	return cmd
}

// execute runs the resolve and download stages selected by opts.
func (a *app) execute(cmd *cobra.Command, opts *runOptions, dataset string) error {
	ctx := cmd.Context()
	if err := a.setup(ctx, cmd); err != nil {
		return err
	}
	defer a.shutdown()

	q := a.cfg.PlatformQuery(opts.instrument, opts.level, opts.product)
	if _, err := platform.LookupInstrument(q.Instrument); err != nil {
		return err
	}

	listPath := poi.CachePath(dataset, opts.instrument, opts.level, opts.product)
	pois, err := a.loadDataset(dataset, listPath, opts.readList)
	if err != nil {
		return err
	}

	kind, err := a.selectPlatform(pois, q)
	if err != nil {
		return err
	}

	deps := platformDeps{
		run:    a.cfg,
		logger: a.logger,
		health: resilience.NewRegistry(),
	}
	if opts.download {
		sinks, err := a.openSinks(ctx)
		if err != nil {
			return err
		}
		defer sinks.close(a)

		creds, err := a.credentials(opts)
		if err != nil {
			return err
		}
		deps.credential = creds
		deps.download = func(_ platform.Kind, dl download.Config) download.Config {
			dl.RunID = a.runID
			dl.Verbose = a.verbose
			dl.Recorder = sinks.ledger
			dl.Publisher = sinks.publisher
			return dl
		}
		defer sinks.summarize(a)
	}

	plat, err := newPlatformRegistry(deps).New(kind)
	if err != nil {
		return err
	}
	if err := plat.Validate(q); err != nil {
		return err
	}

	resolver := platform.NewResolver(platform.ResolverConfig{
		Platform: plat,
		Logger:   a.logger,
		RunID:    a.runID,
	})

	if opts.resolve {
		a.logger.Info().
			Str("instrument", q.Instrument).
			Str("level", q.Level).
			Str("product", q.Product).
			Str("platform", string(kind)).
			Msg("querying")
		if _, err := resolver.Resolve(ctx, pois, q); err != nil {
			return err
		}
		if opts.writeList {
			if err := poi.WriteFile(listPath, pois); err != nil {
				return err
			}
			a.logger.Info().Str("path", listPath).Msg("image list written")
		}
	}

	images := resolver.Finalize(pois)
	if !opts.download {
		return nil
	}

	report, err := plat.Download(ctx, images)
	if err != nil {
		return err
	}
	if !report.OK() {
		for _, f := range report.Failures {
			a.logger.Error().Err(f.Err).Str("image", f.Name).Msg("download failed")
		}
		return fmt.Errorf("%d of %d files could not be downloaded", report.Failed, report.Requested)
	}
	a.logger.Info().
		Int("completed", report.Completed).
		Int("skipped", report.Skipped).
		Int64("bytes", report.Bytes).
		Dur("duration", report.Duration).
		Msg("download completed")
	return nil
}

func (a *app) loadDataset(dataset, listPath string, readList bool) ([]*poi.POI, error) {
	if readList {
		pois, err := poi.ReadCacheFile(listPath)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("image list %s does not exist, resolve it first with --write-image-list", listPath)
		}
		if err != nil {
			return nil, err
		}
		a.logger.Info().Str("path", listPath).Int("pois", len(pois)).Msg("image list loaded")
		return pois, nil
	}

	pois, err := poi.ReadFile(dataset)
	if err != nil {
		return nil, err
	}
	if len(pois) == 0 {
		return nil, fmt.Errorf("no points of interest in %s", dataset)
	}
	return pois, nil
}

func (a *app) selectPlatform(pois []*poi.POI, q platform.Query) (platform.Kind, error) {
	if kind, forced := a.cfg.PlatformKind(); forced {
		return kind, nil
	}
	kind, err := platform.Select(time.Now(), poi.MostRecent(pois), q.Instrument, q.Level)
	if err != nil {
		return "", err
	}
	a.logger.Debug().Str("platform", string(kind)).Msg("platform selected")
	return kind, nil
}

// credentials returns the account lookup of a downloading run. Level 3
// products are public on Earthdata, so a missing account there is not fatal.
func (a *app) credentials(opts *runOptions) (func(platform.Kind) (config.Credential, error), error) {
	creds, err := config.LoadCredentials(a.cfg.Credentials)
	if err != nil {
		return nil, err
	}

	var prompter config.Prompter
	if tp := config.NewTerminalPrompter(os.Stdin, a.stderr); tp != nil {
		prompter = tp
	}
	public := strings.HasPrefix(opts.level, "L3")

	return func(kind platform.Kind) (config.Credential, error) {
		cred, err := creds.Resolve(kind, opts.username, prompter)
		if err != nil && public && config.SectionFor(kind) == config.SectionEarthdata &&
			errors.Is(err, config.ErrMissingCredentials) {
			a.logger.Warn().Str("platform", string(kind)).Msg("no earthdata account, downloading anonymously")
			return config.Credential{}, nil
		}
		return cred, err
	}, nil
}

// sinks receive the transfer states of a downloading run.
type sinks struct {
	ledger    ledger.Repository
	publisher notify.Publisher
	runID     string
}

func (a *app) openSinks(ctx context.Context) (*sinks, error) {
	repo, err := ledger.Open(ctx, a.settings.Ledger)
	if err != nil {
		return nil, err
	}
	pub, err := notify.New(ctx, a.settings.Notify, a.logger)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	return &sinks{ledger: repo, publisher: pub, runID: a.runID}, nil
}

func (s *sinks) summarize(a *app) {
	entries, err := s.ledger.ListByRun(context.Background(), s.runID)
	if err != nil {
		a.logger.Warn().Err(err).Msg("failed to read ledger")
		return
	}
	counts := ledger.Summarize(entries)
	a.logger.Debug().
		Int("complete", counts[download.StateComplete]).
		Int("failed", counts[download.StateFailed]).
		Int("transfers", len(entries)).
		Msg("ledger summary")
}

func (s *sinks) close(a *app) {
	if err := s.publisher.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close notifier")
	}
	if err := s.ledger.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close ledger")
	}
}

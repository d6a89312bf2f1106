package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"calreport/internal/capture"
	"calreport/internal/config"
	"calreport/internal/export"
	appLog "calreport/internal/log"
	"calreport/internal/model"
	"calreport/internal/pdf"
	"calreport/internal/report"
	"calreport/internal/source"
	"calreport/internal/web"
)

const version = "0.1.0"

var (
	timeNow             = time.Now
	logOutput io.Writer = os.Stderr
)

// globalFlags holds root-level flag values.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newApp() *cli.Command {
	var (
		g   globalFlags
		cfg *config.Config
	)

	return &cli.Command{
		Name:    "calreport",
		Usage:   "Export calendar events as a PDF report",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file (created with defaults if missing)",
				Value:       "./calreport.yaml",
				Sources:     cli.EnvVars("CALREPORT_CONFIG"),
				Destination: &g.configPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Log level (debug, info, warn, error)",
				Category:    "Logging",
				Value:       "info",
				Sources:     cli.EnvVars("CALREPORT_LOG_LEVEL"),
				Destination: &g.logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "Log format (console, json, auto)",
				Category:    "Logging",
				Value:       "auto",
				Sources:     cli.EnvVars("CALREPORT_LOG_FORMAT"),
				Destination: &g.logFormat,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			format, err := parseLogFormat(g.logFormat)
			if err != nil {
				return ctx, err
			}
			appLog.SetOutput(logOutput, format)
			appLog.SetLevel(appLog.ParseLevel(g.logLevel))
			appLog.Info("calreport starting", "version", version)

			loaded, err := config.Load(g.configPath)
			if err != nil {
				return ctx, goerr.Wrap(err, "failed to load config", goerr.V("config_path", g.configPath))
			}
			cfg = loaded
			return ctx, nil
		},
		Commands: []*cli.Command{
			cmdExport(&cfg),
			cmdServe(&cfg),
		},
	}
}

func parseLogFormat(s string) (appLog.Format, error) {
	switch s {
	case "auto", "":
		return appLog.FormatAuto, nil
	case "console":
		return appLog.FormatConsole, nil
	case "json":
		return appLog.FormatJSON, nil
	default:
		return "", goerr.New("invalid log format", goerr.V("format", s))
	}
}

// newCapturer builds the Chromium capturer from config.
func newCapturer(cfg *config.Config) *capture.Chromium {
	return capture.NewChromium(capture.Options{
		Width:    cfg.Capture.Width,
		Height:   cfg.Capture.Height,
		Scale:    cfg.Capture.Scale,
		Timeout:  cfg.Capture.Timeout(),
		ExecPath: cfg.Capture.ChromePath,
	})
}

// loadFont reads the configured header font; zero Font keeps the embedded one.
func loadFont(cfg *config.Config) (pdf.Font, error) {
	if cfg.Font.Regular == "" {
		return pdf.Font{}, nil
	}
	return pdf.LoadFont(cfg.Font.Regular, cfg.Font.Bold)
}

func newBuilder(cfg *config.Config) *report.Builder {
	return report.NewBuilder(
		report.WithLocale(cfg.Locale),
		report.WithLocation(cfg.Location()),
		report.WithTableWidth(cfg.Capture.TableWidth),
	)
}

func cmdExport(cfgp **config.Config) *cli.Command {
	var (
		eventsPath string
		status     string
		engineer   string
		outDir     string
	)

	return &cli.Command{
		Name:  "export",
		Usage: "Render events into " + export.FileName,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "events",
				Aliases:     []string{"e"},
				Usage:       "JSON file with events (array or {filter, events}); configured ICS feeds are used when empty",
				Destination: &eventsPath,
			},
			&cli.StringFlag{
				Name:        "status",
				Usage:       "Status filter label (All, Open, Resolved)",
				Destination: &status,
			},
			&cli.StringFlag{
				Name:        "engineer",
				Usage:       "Engineer filter label",
				Destination: &engineer,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "Output directory (overrides output_dir in config)",
				Sources:     cli.EnvVars("CALREPORT_OUT"),
				Destination: &outDir,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := *cfgp
			if outDir != "" {
				cfg.OutputDir = outDir
			}

			var (
				events []model.Event
				filter model.Filter
			)

			if eventsPath != "" {
				// Events from a file are taken as already filtered and ordered.
				doc, err := source.ReadFile(eventsPath)
				if err != nil {
					return err
				}
				events, filter = doc.Events, doc.Filter
				if c.IsSet("status") {
					filter.Status = status
				}
				if c.IsSet("engineer") {
					filter.Engineer = engineer
				}
				filter = filter.Normalize()
			} else {
				filter = model.Filter{Status: status, Engineer: engineer}.Normalize()
				all, err := source.NewFeeds(cfg).Load(ctx, timeNow())
				if err != nil {
					return err
				}
				if events, err = source.Apply(all, filter); err != nil {
					return err
				}
			}

			font, err := loadFont(cfg)
			if err != nil {
				return err
			}

			appLog.Info("exporting report",
				"events", len(events),
				"status", filter.Status,
				"engineer", filter.Engineer,
				"output_dir", cfg.OutputDir,
			)

			exp := export.New(
				newBuilder(cfg),
				newCapturer(cfg),
				pdf.NewAssembler(pdf.WithLocale(cfg.Locale), pdf.WithFont(font)),
				export.FileSaver{Dir: cfg.OutputDir},
			)
			// Failures are logged by Export and do not change the exit code.
			exp.Export(ctx, events, filter)
			return nil
		},
	}
}

func cmdServe(cfgp **config.Config) *cli.Command {
	var listen string

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve report downloads over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "listen",
				Aliases:     []string{"l"},
				Usage:       "HTTP listen address (overrides config if set)",
				Sources:     cli.EnvVars("CALREPORT_LISTEN"),
				Destination: &listen,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := *cfgp
			if listen != "" {
				cfg.Listen = listen
			}

			appLog.Info("effective config",
				"listen", cfg.Listen,
				"timezone", cfg.Timezone,
				"locale", cfg.Locale,
				"refresh", cfg.RefreshCron,
				"horizon_days", cfg.HorizonDays,
				"backfill_days", cfg.BackfillDays,
				"ics_count", len(cfg.ICS),
			)

			font, err := loadFont(cfg)
			if err != nil {
				return err
			}

			srv := web.NewServer(cfg, source.NewFeeds(cfg), newCapturer(cfg), web.WithFont(font))

			// Warm the cache; a failing feed must not keep the server down.
			if err := srv.Refresh(ctx); err != nil {
				appLog.Error("initial feed load failed", err)
			}
			if err := srv.StartRefresher(ctx, cfg.RefreshCron); err != nil {
				return err
			}

			return web.StartServer(ctx, cfg, srv)
		},
	}
}

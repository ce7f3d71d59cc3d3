package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/adamancini/otaup/internal/config"
	"github.com/adamancini/otaup/internal/distribution"
	"github.com/adamancini/otaup/internal/logging"
	"github.com/adamancini/otaup/internal/output"
)

// session bundles what every command needs after loading config.
type session struct {
	cfg    *config.Config
	log    zerolog.Logger
	client *distribution.Client
	out    *output.Writer
}

// openSession loads config, builds the logger and opens the package store.
// restartCmd, if set, is run after an immediate install.
func openSession(cmd *cobra.Command, restartCmd string) (*session, error) {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return nil, err
	}

	path, err := config.Find(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("config", path).Msg("Loaded config")

	store, err := distribution.OpenStore(cfg.StorageDir)
	if err != nil {
		return nil, err
	}

	var restart distribution.RestartFunc
	if restartCmd != "" {
		restart = shellRestart(restartCmd, store)
	}

	client, err := distribution.NewClient(distribution.Options{
		ServerURL:     cfg.ServerURL,
		DeploymentKey: cfg.DeploymentKey,
		AppVersion:    cfg.AppVersion,
		Store:         store,
		Restart:       restart,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}

	return &session{
		cfg:    cfg,
		log:    log,
		client: client,
		out:    output.NewWriter(cmd.OutOrStdout(), format),
	}, nil
}

// newLogger applies --verbose and --quiet on top of the config's logging section.
func newLogger(cfg *config.Config) (zerolog.Logger, error) {
	opts := logging.Options{
		Enabled: cfg.Logging.Enabled,
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
	}
	if verbose {
		opts.Enabled = true
		opts.Level = "debug"
	}
	if quiet {
		opts.Enabled = false
	}
	return logging.New(opts)
}

// shellHook runs command through sh, failing if it exits non-zero.
func shellHook(command string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return runShell(ctx, command, nil)
	}
}

// shellRestart runs command with the installed package exposed through the environment.
func shellRestart(command string, store *distribution.Store) distribution.RestartFunc {
	return func(ctx context.Context, current distribution.PackageInfo) error {
		return runShell(ctx, command, []string{
			"OTAUP_LABEL=" + current.Label,
			"OTAUP_PACKAGE_HASH=" + current.Hash,
			"OTAUP_PACKAGE_PATH=" + store.PackagePath(current.Hash),
		})
	}
}

func runShell(ctx context.Context, command string, env []string) error {
	c := exec.CommandContext(ctx, "sh", "-c", command)
	c.Stdout = os.Stderr
	c.Stderr = os.Stderr
	c.Env = append(os.Environ(), env...)
	if err := c.Run(); err != nil {
		return fmt.Errorf("%q failed: %w", command, err)
	}
	return nil
}

// describePackage renders an optional package as "label (hash)".
func describePackage(p *distribution.PackageInfo) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", p.Label, shortHash(p.Hash))
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

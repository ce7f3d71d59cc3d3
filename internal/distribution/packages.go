package distribution

import (
	"context"
	"fmt"
	"os"

	"github.com/adamancini/otaup/internal/logging"
	"github.com/adamancini/otaup/internal/update"
)

// remotePackage is an update that still has to be downloaded
type remotePackage struct {
	info   PackageInfo
	url    string
	client *Client
}

func (p *remotePackage) Label() string       { return p.info.Label }
func (p *remotePackage) Hash() string        { return p.info.Hash }
func (p *remotePackage) AppVersion() string  { return p.info.AppVersion }
func (p *remotePackage) DownloadURL() string { return p.url }

// Download fetches the package into the store and verifies its hash
func (p *remotePackage) Download(ctx context.Context) (update.LocalPackage, error) {
	c := p.client

	if !c.store.Has(p.info.Hash) {
		tmp, err := c.store.CreateTemp()
		if err != nil {
			return nil, fmt.Errorf("failed to create temp file: %w", err)
		}

		c.log.Debug().Str(logging.KeyLabel, p.info.Label).Str("url", p.url).Msg("Downloading package")
		sum, err := c.downloader.Download(ctx, p.url, tmp)
		if err != nil {
			return nil, err
		}

		if err := verifyChecksum(sum, p.info.Hash); err != nil {
			_ = os.Remove(tmp.Name())
			return nil, err
		}

		if err := c.store.Add(p.info.Hash, tmp.Name()); err != nil {
			_ = os.Remove(tmp.Name())
			return nil, err
		}
	}

	return &localPackage{info: p.info, client: c}, nil
}

// localPackage is an update whose content is in the store
type localPackage struct {
	info   PackageInfo
	client *Client
}

func (p *localPackage) Label() string      { return p.info.Label }
func (p *localPackage) Hash() string       { return p.info.Hash }
func (p *localPackage) AppVersion() string { return p.info.AppVersion }

// Install verifies the stored content, then applies it now or on next resume
func (p *localPackage) Install(ctx context.Context, mode update.InstallMode) error {
	c := p.client

	sum, err := calculateSHA256(c.store.PackagePath(p.info.Hash))
	if err != nil {
		return fmt.Errorf("failed to read package: %w", err)
	}
	if err := verifyChecksum(sum, p.info.Hash); err != nil {
		return err
	}

	switch mode {
	case update.InstallImmediate:
		if err := c.store.Promote(p.info); err != nil {
			return err
		}
		c.log.Info().Str(logging.KeyLabel, p.info.Label).Str(logging.KeyMode, mode.String()).Msg("Installed package")
		if c.restart != nil {
			state := c.store.State()
			if err := c.restart(ctx, *state.Current); err != nil {
				return fmt.Errorf("failed to restart: %w", err)
			}
		}
		return nil

	case update.InstallOnNextResume:
		if err := c.store.SetPending(p.info); err != nil {
			return err
		}
		c.log.Info().Str(logging.KeyLabel, p.info.Label).Str(logging.KeyMode, mode.String()).Msg("Installed package")
		return nil

	default:
		return fmt.Errorf("unsupported install mode %s", mode)
	}
}

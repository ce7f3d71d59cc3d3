// Package autoupdate checks for and installs an update during app startup
// without blocking startup for longer than the configured timeouts.
package autoupdate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/adamancini/otaup/internal/device"
	"github.com/adamancini/otaup/internal/logging"
	"github.com/adamancini/otaup/internal/update"
)

// PreInstallHook runs before a foreground install, e.g. to show a splash screen
type PreInstallHook func(ctx context.Context) error

// Option configures an Updater
type Option func(*Updater)

// WithLogger sets the diagnostic logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(u *Updater) {
		u.log = logging.Component(log, "autoupdate")
	}
}

// WithUnknownDevicePolicy sets what happens when the device cannot be identified
func WithUnknownDevicePolicy(p device.Policy) Option {
	return func(u *Updater) {
		u.policy = p
	}
}

// Updater runs the startup update flow. It is safe for concurrent use.
type Updater struct {
	client    update.Client
	detector  device.Detector
	installer *update.Installer
	policy    device.Policy
	log       zerolog.Logger

	checks     *sharedCheck
	background sync.WaitGroup
}

// New creates an Updater
func New(client update.Client, detector device.Detector, opts ...Option) *Updater {
	u := &Updater{
		client:   client,
		detector: detector,
		policy:   device.PolicyProceed,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(u)
	}
	u.checks = &sharedCheck{Client: u.client}
	u.installer = update.NewInstaller(u.client)
	return u
}

// AutoUpdate checks for an update and installs it.
//
// If the check takes longer than checkTimeout, AutoUpdate returns at once and
// a found package is installed in the background for the next resume. If the
// check finishes in time and finds a package, preInstall runs and the package
// is installed immediately, waiting at most installTimeout for the install.
//
// AutoUpdate never fails: every error is logged and discarded. Nothing runs
// on an emulator.
func (u *Updater) AutoUpdate(ctx context.Context, checkTimeout, installTimeout time.Duration, preInstall PreInstallHook) {
	if err := u.run(ctx, checkTimeout, installTimeout, preInstall); err != nil {
		u.log.Warn().Err(err).Msg("Update failed")
	}
}

func (u *Updater) run(ctx context.Context, checkTimeout, installTimeout time.Duration, preInstall PreInstallHook) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("update panicked: %v", r)
		}
	}()

	skip, err := u.onEmulator(ctx)
	if err != nil {
		return err
	}
	if skip {
		u.log.Debug().Msg("Running in emulator, skipping update")
		return nil
	}

	outcome, err := update.CheckWithTimeout(ctx, u.checks, checkTimeout)
	if err != nil {
		return fmt.Errorf("update check failed: %w", err)
	}

	switch o := outcome.(type) {
	case *update.TimedOut:
		u.log.Debug().Dur(logging.KeyDuration, checkTimeout).Msg("Update check timed out, continuing in background")
		u.installLater(ctx, o.Pending)
		return nil

	case *update.Resolved:
		if o.Package == nil {
			u.log.Debug().Msg("No update available")
			return nil
		}
		return u.installNow(ctx, o.Package, installTimeout, preInstall)

	default:
		return fmt.Errorf("unexpected check outcome %T", outcome)
	}
}

// onEmulator reports whether the update flow must be skipped for this device
func (u *Updater) onEmulator(ctx context.Context) (bool, error) {
	emulator, err := u.detector.IsEmulator(ctx)
	if err == nil {
		return emulator, nil
	}
	if !errors.Is(err, device.ErrUnavailable) {
		return false, fmt.Errorf("device check failed: %w", err)
	}

	u.log.Warn().Err(err).Str("policy", string(u.policy)).Msg("Device identification unavailable")
	return u.policy == device.PolicySkip, nil
}

// installLater installs whatever the pending check finds on next resume.
// The result is discarded.
func (u *Updater) installLater(ctx context.Context, pending *update.PendingCheck) {
	ctx = context.WithoutCancel(ctx)

	u.detach(func() {
		pkg, err := pending.Wait(ctx)
		if err != nil {
			u.log.Debug().Err(err).Msg("Background update check failed")
			return
		}
		if pkg == nil {
			u.log.Debug().Msg("No update available")
			return
		}
		if err := u.installer.Install(ctx, pkg, false); err != nil {
			u.log.Debug().Err(err).Str(logging.KeyLabel, pkg.Label()).Msg("Background install failed")
			return
		}
		u.log.Info().Str(logging.KeyLabel, pkg.Label()).Msg("Update installed, applies on next resume")
	})
}

// installNow runs the pre-install hook, then installs pkg immediately,
// waiting at most installTimeout for the install to finish.
func (u *Updater) installNow(ctx context.Context, pkg update.Package, installTimeout time.Duration, preInstall PreInstallHook) error {
	if preInstall != nil {
		if err := preInstall(ctx); err != nil {
			return fmt.Errorf("pre-install hook failed: %w", err)
		}
	}

	done := make(chan error, 1)
	installCtx := context.WithoutCancel(ctx)
	u.detach(func() {
		done <- u.installer.Install(installCtx, pkg, true)
	})

	timer := time.NewTimer(installTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
		u.log.Info().Str(logging.KeyLabel, pkg.Label()).Msg("Update installed")
		return nil
	case <-timer.C:
		u.log.Debug().Str(logging.KeyLabel, pkg.Label()).Dur(logging.KeyDuration, installTimeout).
			Msg("Install timed out, continuing in background")
		return nil
	case <-ctx.Done():
		return nil
	}
}

// detach runs fn in a goroutine tracked by Wait. Panics are swallowed.
func (u *Updater) detach(fn func()) {
	u.background.Add(1)
	go func() {
		defer u.background.Done()
		defer func() {
			if r := recover(); r != nil {
				u.log.Debug().Interface("panic", r).Msg("Background update task panicked")
			}
		}()
		fn()
	}()
}

// Wait blocks until all background work started by AutoUpdate has finished or ctx ends
func (u *Updater) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		u.background.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sharedCheck collapses overlapping checks from concurrent AutoUpdate calls
type sharedCheck struct {
	update.Client
	group singleflight.Group
}

func (c *sharedCheck) CheckForUpdate(ctx context.Context) (update.Package, error) {
	v, err, _ := c.group.Do("check", func() (interface{}, error) {
		return c.Client.CheckForUpdate(ctx)
	})
	if err != nil {
		return nil, err
	}
	pkg, _ := v.(update.Package)
	return pkg, nil
}

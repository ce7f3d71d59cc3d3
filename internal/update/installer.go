package update

import (
	"context"
	"fmt"
	"sync"
)

// Installer downloads and installs packages, then tells the client the app is ready.
// Installs through the same Installer never overlap.
type Installer struct {
	client Client
	mu     sync.Mutex
}

// NewInstaller creates an installer that acknowledges installs through client
func NewInstaller(client Client) *Installer {
	return &Installer{client: client}
}

// Install ensures pkg is downloaded, installs it and notifies the client.
// applyImmediately selects InstallImmediate, otherwise InstallOnNextResume.
func (i *Installer) Install(ctx context.Context, pkg Package, applyImmediately bool) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	// 1. Make sure the package is on disk
	local, err := fetch(ctx, pkg)
	if err != nil {
		return err
	}

	// 2. Pick the install mode
	mode := InstallOnNextResume
	if applyImmediately {
		mode = InstallImmediate
	}

	// 3. Install
	if err := local.Install(ctx, mode); err != nil {
		return fmt.Errorf("failed to install %s (%s): %w", local.Label(), mode, err)
	}

	// 4. Acknowledge the running version so it is not rolled back
	if err := i.client.NotifyAppReady(ctx); err != nil {
		return fmt.Errorf("failed to notify app ready: %w", err)
	}

	return nil
}

// fetch returns pkg as a LocalPackage, downloading it first when it is remote
func fetch(ctx context.Context, pkg Package) (LocalPackage, error) {
	switch p := pkg.(type) {
	case LocalPackage:
		return p, nil
	case RemotePackage:
		local, err := p.Download(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to download %s: %w", p.Label(), err)
		}
		return local, nil
	case nil:
		return nil, fmt.Errorf("nil package: %w", ErrUnknownPackage)
	default:
		return nil, fmt.Errorf("%T: %w", pkg, ErrUnknownPackage)
	}
}

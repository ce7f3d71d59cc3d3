package update

import (
	"context"
	"errors"
)

// ErrUnknownPackage is returned when a package handle is neither remote nor local
var ErrUnknownPackage = errors.New("unknown package variant")

// InstallMode controls when an installed package takes effect
type InstallMode int

const (
	// InstallImmediate applies the package now and restarts the app
	InstallImmediate InstallMode = iota
	// InstallOnNextResume applies the package the next time the app resumes
	InstallOnNextResume
)

func (m InstallMode) String() string {
	switch m {
	case InstallImmediate:
		return "immediate"
	case InstallOnNextResume:
		return "on_next_resume"
	default:
		return "unknown"
	}
}

// Package is a handle to an update package. It is either a RemotePackage
// or a LocalPackage; callers discover which with a type switch.
type Package interface {
	Label() string      // Release label, e.g. "v12"
	Hash() string       // SHA-256 of the package content
	AppVersion() string // Binary version the package targets
}

// RemotePackage has a download URL but has not been fetched yet
type RemotePackage interface {
	Package
	DownloadURL() string
	Download(ctx context.Context) (LocalPackage, error)
}

// LocalPackage has been fetched and is ready to install
type LocalPackage interface {
	Package
	Install(ctx context.Context, mode InstallMode) error
}

// Client talks to the update-distribution service
type Client interface {
	// CheckForUpdate returns the available package, or nil when the app is up to date
	CheckForUpdate(ctx context.Context) (Package, error)
	// NotifyAppReady acknowledges that the running version booted successfully
	NotifyAppReady(ctx context.Context) error
}

// CheckOutcome is the result of CheckWithTimeout: either *TimedOut or *Resolved
type CheckOutcome interface {
	checkOutcome()
}

// TimedOut means the timer fired before the check finished.
// Pending still delivers the check's eventual result.
type TimedOut struct {
	Pending *PendingCheck
}

// Resolved means the check finished first. A nil Package means no update.
type Resolved struct {
	Package Package
}

func (*TimedOut) checkOutcome() {}
func (*Resolved) checkOutcome() {}

// Package device identifies the environment the app is running in.
package device

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// ErrUnavailable is returned when the environment cannot be identified
var ErrUnavailable = errors.New("device identification unavailable")

// Detector reports whether the app runs in an emulator or simulator
type Detector interface {
	IsEmulator(ctx context.Context) (bool, error)
}

// Policy decides what to do when a Detector returns ErrUnavailable
type Policy string

const (
	// PolicyProceed treats an unidentified device as real hardware
	PolicyProceed Policy = "proceed"
	// PolicySkip treats an unidentified device as an emulator
	PolicySkip Policy = "skip"
)

// ParsePolicy parses a policy name. The empty string selects PolicyProceed.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(PolicyProceed):
		return PolicyProceed, nil
	case string(PolicySkip):
		return PolicySkip, nil
	default:
		return "", fmt.Errorf("unknown device policy: %s", s)
	}
}

// virtualizationFunc matches host.VirtualizationWithContext
type virtualizationFunc func(ctx context.Context) (system string, role string, err error)

// HostDetector inspects the host's virtualization role.
// A "guest" role means the app runs inside an emulator or virtual machine.
type HostDetector struct {
	virtualization virtualizationFunc
}

// NewHostDetector creates a detector backed by gopsutil host information
func NewHostDetector() *HostDetector {
	return &HostDetector{virtualization: host.VirtualizationWithContext}
}

// IsEmulator implements Detector
func (d *HostDetector) IsEmulator(ctx context.Context) (bool, error) {
	system, role, err := d.virtualization(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if system == "" && role == "" {
		// gopsutil reports nothing on platforms it cannot inspect
		if !Detect().IsInspectable() {
			return false, ErrUnavailable
		}
		return false, nil
	}

	return role == "guest", nil
}

// Static is a Detector with a fixed answer
type Static bool

// IsEmulator implements Detector
func (s Static) IsEmulator(context.Context) (bool, error) {
	return bool(s), nil
}

// Unavailable is a Detector that can never identify the device
type Unavailable struct{}

// IsEmulator implements Detector
func (Unavailable) IsEmulator(context.Context) (bool, error) {
	return false, ErrUnavailable
}

// Platform describes the current system platform
type Platform struct {
	OS   string // Operating system (darwin, linux, android, ios)
	Arch string // Architecture (amd64, arm64)
}

// Detect returns the current platform (OS and architecture)
func Detect() Platform {
	return Platform{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}
}

// IsInspectable returns true if gopsutil can report virtualization on this platform
func (p Platform) IsInspectable() bool {
	switch p.OS {
	case "linux", "android", "freebsd":
		return true
	default:
		return false
	}
}

// Package distribution is an HTTP client for an over-the-air update
// distribution service. It downloads packages into a local Store and tracks
// which package is running, pending, or eligible for rollback.
package distribution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/adamancini/otaup/internal/device"
	"github.com/adamancini/otaup/internal/logging"
	"github.com/adamancini/otaup/internal/update"
)

const (
	updateCheckPath  = "/v0.1/public/codepush/update_check"
	reportDeployPath = "/v0.1/public/codepush/report_status/deploy"

	statusSucceeded = "DeploymentSucceeded"
	statusFailed    = "DeploymentFailed"
)

// RestartFunc restarts the host app so an immediately installed package takes effect
type RestartFunc func(ctx context.Context, current PackageInfo) error

// Options configures a Client
type Options struct {
	ServerURL     string
	DeploymentKey string
	AppVersion    string
	Store         *Store
	Restart       RestartFunc  // Optional
	HTTPClient    *http.Client // Optional, defaults to a client with a 30s timeout
	Logger        zerolog.Logger
}

// Client implements update.Client against the distribution service
type Client struct {
	serverURL     string
	deploymentKey string
	appVersion    string
	store         *Store
	restart       RestartFunc
	http          *http.Client
	downloader    *httpDownloader
	platform      device.Platform
	log           zerolog.Logger
}

// NewClient creates a distribution client
func NewClient(opts Options) (*Client, error) {
	if opts.ServerURL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	if opts.DeploymentKey == "" {
		return nil, fmt.Errorf("deployment key is required")
	}
	if _, err := update.ParseVersion(opts.AppVersion); err != nil {
		return nil, fmt.Errorf("invalid app version: %w", err)
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		serverURL:     strings.TrimSuffix(opts.ServerURL, "/"),
		deploymentKey: opts.DeploymentKey,
		appVersion:    update.NormalizeVersion(opts.AppVersion),
		store:         opts.Store,
		restart:       opts.Restart,
		http:          httpClient,
		downloader:    &httpDownloader{client: httpClient},
		platform:      device.Detect(),
		log:           logging.Component(opts.Logger, "distribution"),
	}, nil
}

// updateInfo is the update_check response payload
type updateInfo struct {
	IsAvailable       bool   `json:"is_available"`
	DownloadURL       string `json:"download_url"`
	PackageHash       string `json:"package_hash"`
	Label             string `json:"label"`
	TargetBinaryRange string `json:"target_binary_range"`
	Description       string `json:"description"`
	IsMandatory       bool   `json:"is_mandatory"`
	PackageSize       int64  `json:"package_size"`
	UpdateAppVersion  bool   `json:"update_app_version"`
}

type updateCheckResponse struct {
	UpdateInfo updateInfo `json:"update_info"`
}

// deployReport is the report_status/deploy request payload
type deployReport struct {
	DeploymentKey             string `json:"deployment_key"`
	AppVersion                string `json:"app_version"`
	Label                     string `json:"label,omitempty"`
	ClientUniqueID            string `json:"client_unique_id"`
	Status                    string `json:"status"`
	PreviousLabelOrAppVersion string `json:"previous_label_or_app_version,omitempty"`
}

// CheckForUpdate asks the service for a newer package.
// It returns nil when the app is up to date, when the update needs a new
// binary, or when the offered package is already installed, pending or known bad.
func (c *Client) CheckForUpdate(ctx context.Context) (update.Package, error) {
	info, err := c.fetchUpdateInfo(ctx)
	if err != nil {
		return nil, err
	}

	if !info.IsAvailable || info.UpdateAppVersion {
		c.log.Debug().Bool("updateAppVersion", info.UpdateAppVersion).Msg("No package update available")
		return nil, nil
	}

	if info.PackageHash == "" || info.DownloadURL == "" {
		return nil, fmt.Errorf("update %q is missing its hash or download URL", info.Label)
	}

	ok, err := update.MatchesRange(c.appVersion, info.TargetBinaryRange)
	if err != nil {
		return nil, fmt.Errorf("update %q: %w", info.Label, err)
	}
	if !ok {
		c.log.Debug().Str(logging.KeyLabel, info.Label).Str("range", info.TargetBinaryRange).
			Msg("Update targets a different binary version")
		return nil, nil
	}

	state := c.store.State()
	if state.Current != nil && state.Current.Hash == info.PackageHash ||
		state.Pending != nil && state.Pending.Hash == info.PackageHash {
		return nil, nil
	}
	if c.store.IsFailed(info.PackageHash) {
		c.log.Debug().Str(logging.KeyPackageHash, info.PackageHash).Msg("Skipping package that failed before")
		return nil, nil
	}

	pkg := PackageInfo{
		Label:       info.Label,
		Hash:        info.PackageHash,
		AppVersion:  c.appVersion,
		Description: info.Description,
		Mandatory:   info.IsMandatory,
		Size:        info.PackageSize,
	}

	if c.store.Has(pkg.Hash) {
		return &localPackage{info: pkg, client: c}, nil
	}
	return &remotePackage{info: pkg, url: info.DownloadURL, client: c}, nil
}

func (c *Client) fetchUpdateInfo(ctx context.Context) (*updateInfo, error) {
	state := c.store.State()

	q := url.Values{}
	q.Set("deployment_key", c.deploymentKey)
	q.Set("app_version", c.appVersion)
	q.Set("client_unique_id", state.ClientID)
	q.Set("os", c.platform.OS)
	q.Set("arch", c.platform.Arch)
	if state.Current != nil {
		q.Set("package_hash", state.Current.Hash)
		q.Set("label", state.Current.Label)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+updateCheckPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("update check failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("update check returned status %d", resp.StatusCode)
	}

	var body updateCheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &body.UpdateInfo, nil
}

// NotifyAppReady confirms the running package and reports its deploy once.
// A package installed immediately by this client is not running until the
// app restarts, so it stays unconfirmed and eligible for rollback.
func (c *Client) NotifyAppReady(ctx context.Context) error {
	previous, err := c.store.Confirm()
	if err != nil {
		return err
	}

	state := c.store.State()
	if state.Current != nil && !state.Confirmed {
		c.log.Debug().Str(logging.KeyLabel, state.Current.Label).Msg("Installed package has not started yet, nothing to confirm")
		return nil
	}
	if state.Current == nil || state.Reported == state.Current.Hash {
		return nil
	}

	report := deployReport{
		DeploymentKey:  c.deploymentKey,
		AppVersion:     c.appVersion,
		Label:          state.Current.Label,
		ClientUniqueID: state.ClientID,
		Status:         statusSucceeded,
	}
	if previous != nil {
		report.PreviousLabelOrAppVersion = previous.Label
	} else {
		report.PreviousLabelOrAppVersion = c.appVersion
	}

	if err := c.report(ctx, report); err != nil {
		return err
	}

	c.log.Debug().Str(logging.KeyLabel, state.Current.Label).Msg("Reported deploy")
	return c.store.MarkReported(state.Current.Hash)
}

// ApplyPending promotes a package that was installed for the next resume.
// It returns nil if nothing was pending.
func (c *Client) ApplyPending(ctx context.Context) (*PackageInfo, error) {
	pending, err := c.store.TakePending()
	if err != nil || pending == nil {
		return nil, err
	}

	if err := c.store.Activate(*pending); err != nil {
		return nil, fmt.Errorf("failed to apply %s: %w", pending.Label, err)
	}

	c.log.Info().Str(logging.KeyLabel, pending.Label).Msg("Applied pending update")
	return pending, nil
}

// RecoverFailedUpdate is called at startup. It counts the boot and, if the
// current package already booted once without NotifyAppReady, rolls it back.
// It returns the package that was rolled back, or nil.
func (c *Client) RecoverFailedUpdate(ctx context.Context) (*PackageInfo, error) {
	state := c.store.State()
	if state.Current == nil || state.Confirmed {
		return nil, nil
	}

	if state.Boots == 0 {
		return nil, c.store.MarkBooted()
	}

	failed, err := c.store.Rollback()
	if err != nil {
		return nil, err
	}
	c.log.Warn().Str(logging.KeyLabel, failed.Label).Msg("Update never reported ready, rolled back")

	report := deployReport{
		DeploymentKey:  c.deploymentKey,
		AppVersion:     c.appVersion,
		Label:          failed.Label,
		ClientUniqueID: state.ClientID,
		Status:         statusFailed,
	}
	if err := c.report(ctx, report); err != nil {
		c.log.Debug().Err(err).Msg("Failed to report rollback")
	}

	return failed, nil
}

// Store returns the client's package store
func (c *Client) Store() *Store {
	return c.store
}

func (c *Client) report(ctx context.Context, r deployReport) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+reportDeployPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("deploy report failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("deploy report returned status %d", resp.StatusCode)
	}
	return nil
}

package update

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// fakeClient is a test double for Client.
type fakeClient struct {
	delay     time.Duration
	pkg       Package
	checkErr  error
	notifyErr error

	checkCalled  atomic.Int32
	notifyCalled atomic.Int32
}

func (c *fakeClient) CheckForUpdate(ctx context.Context) (Package, error) {
	c.checkCalled.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.pkg, c.checkErr
}

func (c *fakeClient) NotifyAppReady(ctx context.Context) error {
	c.notifyCalled.Add(1)
	return c.notifyErr
}

// fakeLocal is a test double for LocalPackage.
type fakeLocal struct {
	label      string
	installErr error

	mu    sync.Mutex
	modes []InstallMode
}

func (p *fakeLocal) Label() string      { return p.label }
func (p *fakeLocal) Hash() string       { return "hash-" + p.label }
func (p *fakeLocal) AppVersion() string { return "1.0.0" }

func (p *fakeLocal) Install(ctx context.Context, mode InstallMode) error {
	p.mu.Lock()
	p.modes = append(p.modes, mode)
	p.mu.Unlock()
	return p.installErr
}

func (p *fakeLocal) installed() []InstallMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]InstallMode(nil), p.modes...)
}

// fakeRemote is a test double for RemotePackage.
type fakeRemote struct {
	local       *fakeLocal
	downloadErr error

	downloadCalled atomic.Int32
}

func (p *fakeRemote) Label() string       { return p.local.label }
func (p *fakeRemote) Hash() string        { return p.local.Hash() }
func (p *fakeRemote) AppVersion() string  { return p.local.AppVersion() }
func (p *fakeRemote) DownloadURL() string { return "https://updates.example.com/" + p.local.label }

func (p *fakeRemote) Download(ctx context.Context) (LocalPackage, error) {
	p.downloadCalled.Add(1)
	if p.downloadErr != nil {
		return nil, p.downloadErr
	}
	return p.local, nil
}

// barePackage implements neither RemotePackage nor LocalPackage.
type barePackage struct{}

func (barePackage) Label() string      { return "bare" }
func (barePackage) Hash() string       { return "" }
func (barePackage) AppVersion() string { return "" }

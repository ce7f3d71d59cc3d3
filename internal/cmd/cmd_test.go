package cmd

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const packageContent = "bundle v5"

// updateServer serves one package and records deploy reports.
type updateServer struct {
	checkDelay time.Duration
	checks     atomic.Int32

	mu      sync.Mutex
	reports []map[string]any
}

func (s *updateServer) reportCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

func startUpdateServer(t *testing.T, checkDelay time.Duration) (*updateServer, string) {
	t.Helper()

	sum := sha256.Sum256([]byte(packageContent))
	srv := &updateServer{checkDelay: checkDelay}

	mux := http.NewServeMux()
	var server *httptest.Server

	mux.HandleFunc("/v0.1/public/codepush/update_check", func(w http.ResponseWriter, r *http.Request) {
		srv.checks.Add(1)
		time.Sleep(srv.checkDelay)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"update_info": map[string]any{
				"is_available":        true,
				"download_url":        server.URL + "/download/v5",
				"package_hash":        hex.EncodeToString(sum[:]),
				"label":               "v5",
				"target_binary_range": "1.2.x",
				"package_size":        len(packageContent),
			},
		})
	})
	mux.HandleFunc("/download/v5", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(packageContent))
	})
	mux.HandleFunc("/v0.1/public/codepush/report_status/deploy", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		srv.mu.Lock()
		srv.reports = append(srv.reports, body)
		srv.mu.Unlock()
	})

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return srv, server.URL
}

// writeConfig writes a YAML config pointing at serverURL with a fresh store.
func writeConfig(t *testing.T, serverURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "otaup.yaml")
	content := fmt.Sprintf(`server_url: %s
deployment_key: test-key
app_version: 1.2.3
storage_dir: %s
check_timeout: 2s
install_timeout: 5s
`, serverURL, filepath.Join(dir, "store"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// execute runs the CLI with args and returns what it wrote to stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd("test", "abc123", "today")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func decodeStatus(t *testing.T, out string) statusReport {
	t.Helper()
	var st statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &st), out)
	return st
}

func TestStatus_FreshStore(t *testing.T) {
	_, url := startUpdateServer(t, 0)
	cfg := writeConfig(t, url)

	out, err := execute(t, "status", "--config", cfg, "-o", "json")
	require.NoError(t, err)

	st := decodeStatus(t, out)
	assert.NotEmpty(t, st.ClientID)
	assert.Equal(t, "1.2.3", st.AppVersion)
	assert.Nil(t, st.Current)
	assert.Nil(t, st.Pending)
}

func TestStatus_TextOutput(t *testing.T) {
	_, url := startUpdateServer(t, 0)
	cfg := writeConfig(t, url)

	out, err := execute(t, "status", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Client ID:")
	assert.Contains(t, out, "Current:     -")
}

func TestRun_InstallsImmediately(t *testing.T) {
	srv, url := startUpdateServer(t, 0)
	cfg := writeConfig(t, url)
	marker := filepath.Join(t.TempDir(), "hook-ran")

	out, err := execute(t, "run", "--config", cfg, "-o", "json",
		"--emulator", "no",
		"--wait", "5s",
		"--pre-install", "touch "+marker,
	)
	require.NoError(t, err)

	st := decodeStatus(t, out)
	require.NotNil(t, st.Current)
	assert.Equal(t, "v5", st.Current.Label)
	assert.False(t, st.Confirmed, "v5 confirms itself once it runs")
	assert.FileExists(t, marker)
	assert.Zero(t, srv.reportCount())

	out, err = execute(t, "ready", "--config", cfg, "-o", "json")
	require.NoError(t, err)
	assert.True(t, decodeStatus(t, out).Confirmed)
	assert.Equal(t, 1, srv.reportCount())

	// Confirming again does not report the same deploy twice
	_, err = execute(t, "ready", "--config", cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, srv.reportCount())
}

func TestRun_RollsBackUpdateThatNeverReportsReady(t *testing.T) {
	srv, url := startUpdateServer(t, 0)
	cfg := writeConfig(t, url)
	args := []string{"run", "--config", cfg, "-o", "json", "--emulator", "no", "--wait", "5s"}

	// Installs v5, then two starts without ready
	for i := 0; i < 3; i++ {
		_, err := execute(t, args...)
		require.NoError(t, err)
	}

	out, err := execute(t, "status", "--config", cfg, "-o", "json")
	require.NoError(t, err)
	st := decodeStatus(t, out)
	assert.Nil(t, st.Current)
	assert.Len(t, st.Failed, 1)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Len(t, srv.reports, 1)
	assert.Equal(t, "DeploymentFailed", srv.reports[0]["status"])
	assert.Equal(t, "v5", srv.reports[0]["label"])
}

func TestRun_SlowCheckInstallsForNextResume(t *testing.T) {
	srv, url := startUpdateServer(t, 300*time.Millisecond)
	cfg := writeConfig(t, url)

	out, err := execute(t, "run", "--config", cfg, "-o", "json",
		"--emulator", "no",
		"--check-timeout", "20ms",
		"--wait", "5s",
	)
	require.NoError(t, err)

	st := decodeStatus(t, out)
	assert.Nil(t, st.Current)
	require.NotNil(t, st.Pending)
	assert.Equal(t, "v5", st.Pending.Label)
	assert.Equal(t, int32(1), srv.checks.Load())

	out, err = execute(t, "resume", "--config", cfg, "-o", "json")
	require.NoError(t, err)
	var resumed resumeReport
	require.NoError(t, json.Unmarshal([]byte(out), &resumed))
	assert.True(t, resumed.Applied)
	assert.Equal(t, "v5", resumed.Label)

	out, err = execute(t, "status", "--config", cfg, "-o", "json")
	require.NoError(t, err)
	st = decodeStatus(t, out)
	require.NotNil(t, st.Current)
	assert.Equal(t, "v5", st.Current.Label)
	assert.Nil(t, st.Pending)
}

func TestRun_EmulatorSkipsUpdate(t *testing.T) {
	srv, url := startUpdateServer(t, 0)
	cfg := writeConfig(t, url)

	out, err := execute(t, "run", "--config", cfg, "-o", "json", "--emulator", "yes", "--wait", "1s")
	require.NoError(t, err)

	st := decodeStatus(t, out)
	assert.Nil(t, st.Current)
	assert.Zero(t, srv.checks.Load())
}

func TestRun_FailingHookSkipsInstall(t *testing.T) {
	_, url := startUpdateServer(t, 0)
	cfg := writeConfig(t, url)

	out, err := execute(t, "run", "--config", cfg, "-o", "json",
		"--emulator", "no",
		"--wait", "1s",
		"--pre-install", "exit 3",
	)
	require.NoError(t, err, "update failures never fail the run")

	st := decodeStatus(t, out)
	assert.Nil(t, st.Current)
}

func TestRun_RestartCommandSeesPackage(t *testing.T) {
	_, url := startUpdateServer(t, 0)
	cfg := writeConfig(t, url)
	envFile := filepath.Join(t.TempDir(), "env")

	_, err := execute(t, "run", "--config", cfg,
		"--emulator", "no",
		"--wait", "5s",
		"--restart", `echo "$OTAUP_LABEL $OTAUP_PACKAGE_PATH" > `+envFile,
	)
	require.NoError(t, err)

	got, err := os.ReadFile(envFile)
	require.NoError(t, err)
	fields := strings.Fields(string(got))
	require.Len(t, fields, 2)
	assert.Equal(t, "v5", fields[0])

	content, err := os.ReadFile(fields[1])
	require.NoError(t, err)
	assert.Equal(t, packageContent, string(content))
}

func TestCheck(t *testing.T) {
	t.Run("resolved", func(t *testing.T) {
		_, url := startUpdateServer(t, 0)
		cfg := writeConfig(t, url)

		out, err := execute(t, "check", "--config", cfg, "-o", "json")
		require.NoError(t, err)

		var r checkReport
		require.NoError(t, json.Unmarshal([]byte(out), &r))
		assert.Equal(t, "resolved", r.Outcome)
		assert.Equal(t, "v5", r.Label)
		assert.Equal(t, "remote", r.Source)
		assert.True(t, strings.HasSuffix(r.DownloadURL, "/download/v5"))
	})

	t.Run("timed out", func(t *testing.T) {
		_, url := startUpdateServer(t, 300*time.Millisecond)
		cfg := writeConfig(t, url)

		out, err := execute(t, "check", "--config", cfg, "--timeout", "10ms")
		require.NoError(t, err)
		assert.Equal(t, "Outcome: timed_out\n", out)
	})
}

func TestResume_NothingPending(t *testing.T) {
	_, url := startUpdateServer(t, 0)
	cfg := writeConfig(t, url)

	out, err := execute(t, "resume", "--config", cfg)
	require.NoError(t, err)
	assert.Equal(t, "Applied: no pending update\n", out)
}

func TestInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "otaup.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_url: ftp://example.com\n"), 0644))

	_, err := execute(t, "status", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server_url")
	assert.Contains(t, err.Error(), "deployment_key")
}

func TestInvalidOutputFormat(t *testing.T) {
	_, url := startUpdateServer(t, 0)
	cfg := writeConfig(t, url)

	_, err := execute(t, "status", "--config", cfg, "-o", "xml")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "otaup test (commit abc123, built today)\n", out)
}

func TestCompletion(t *testing.T) {
	for _, shell := range completionShells {
		out, err := execute(t, "completion", shell)
		require.NoError(t, err, shell)
		assert.Contains(t, out, "otaup", shell)
	}

	_, err := execute(t, "completion", "tcsh")
	assert.Error(t, err)
}

package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admind/internal/config"
	"admind/internal/storage"
	logx "admind/pkg/logx"
)

type adminStub struct {
	mu    sync.Mutex
	calls []string
}

func newAdminStub(t *testing.T) (*httptest.Server, *adminStub) {
	t.Helper()
	st := &adminStub{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st.mu.Lock()
		st.calls = append(st.calls, r.Method+" "+r.URL.Path+" key="+r.Header.Get("x-api-key"))
		st.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, st
}

func (s *adminStub) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func envLookup(env map[string]string) config.LookupFunc {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "admind.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestMissingConfigPreventsAnyTick(t *testing.T) {
	srv, stub := newAdminStub(t)

	a, err := New("", WithLookup(envLookup(map[string]string{
		config.EnvBaseURL: srv.URL,
	})), WithClock(clock.NewMock()))

	require.Error(t, err)
	assert.Nil(t, a)
	assert.True(t, errors.Is(err, config.ErrConfigMissing))
	var missing *config.MissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{config.EnvEnvironment, config.EnvAPIKey, config.EnvScannerPath}, missing.Keys)
	assert.Empty(t, stub.Calls())
}

func TestInvalidIntervalFailsStartup(t *testing.T) {
	cfgPath := writeConfig(t, "scheduler:\n  interval: soon\n  scanner_enabled: false\n")
	_, err := New(cfgPath, WithLookup(envLookup(map[string]string{
		config.EnvEnvironment: "dev",
		config.EnvAPIKey:      "k",
	})))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler.interval")
}

type closeSpy struct {
	storage.Store
	closed int
}

func (c *closeSpy) Close() error {
	c.closed++
	return c.Store.Close()
}

func TestNewReleasesStoreOnLateFailure(t *testing.T) {
	cfgPath := writeConfig(t, strings.Join([]string{
		"scheduler:",
		"  scanner_enabled: false",
		"storage:",
		"  driver: sqlite",
		"  path: " + filepath.Join(t.TempDir(), "admind.db"),
		"",
	}, "\n"))

	var spy *closeSpy
	opener := func(o *options) {
		o.openStore = func(sc storage.Config, log logx.Logger) (storage.Store, error) {
			st, err := storage.Open(sc, log)
			if err != nil {
				return nil, err
			}
			spy = &closeSpy{Store: st}
			return spy, nil
		}
	}

	a, err := New(cfgPath, WithLookup(envLookup(map[string]string{
		config.EnvEnvironment: "dev",
		config.EnvAPIKey:      "k",
		config.EnvBaseURL:     "localhost:3000",
	})), WithClock(clock.NewMock()), opener)
	require.Error(t, err)
	assert.Nil(t, a)
	assert.Contains(t, err.Error(), "admin base url")
	require.NotNil(t, spy, "store was never opened")
	assert.Equal(t, 1, spy.closed)
}

func TestStartRunsSystemdWatchdog(t *testing.T) {
	srv, _ := newAdminStub(t)
	cfgPath := writeConfig(t, "scheduler:\n  scanner_enabled: false\nlogging:\n  level: ERROR\n")
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_PID", "")
	t.Setenv("WATCHDOG_USEC", "200000")

	a, err := New(cfgPath, WithLookup(envLookup(map[string]string{
		config.EnvEnvironment: "dev",
		config.EnvAPIKey:      "k",
		config.EnvBaseURL:     srv.URL,
	})), WithClock(clock.NewMock()))
	require.NoError(t, err)

	require.NoError(t, a.Start(context.Background()))
	assert.True(t, a.sup.Running("systemd.watchdog"))

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
	assert.False(t, a.sup.Running("systemd.watchdog"))
}

func TestStartTicksImmediately(t *testing.T) {
	srv, stub := newAdminStub(t)
	cfgPath := writeConfig(t, "scheduler:\n  scanner_enabled: false\nlogging:\n  level: ERROR\n")

	a, err := New(cfgPath, WithLookup(envLookup(map[string]string{
		config.EnvEnvironment: "dev",
		config.EnvAPIKey:      "secret",
		config.EnvBaseURL:     srv.URL,
	})), WithClock(clock.NewMock()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	require.Eventually(t, func() bool { return len(stub.Calls()) >= 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{
		"DELETE /admin/user-idv-data key=secret",
		"POST /admin/transfer-funds key=secret",
	}, stub.Calls())

	h := a.health().(map[string]any)
	assert.Equal(t, "ok", h["status"])

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
	assert.Len(t, stub.Calls(), 2)
}

func TestDeleteOnlyVariant(t *testing.T) {
	srv, stub := newAdminStub(t)
	cfgPath := writeConfig(t, "scheduler:\n  transfer_enabled: false\n  scanner_enabled: false\n")

	a, err := New(cfgPath, WithLookup(envLookup(map[string]string{
		config.EnvEnvironment: "production",
		config.EnvAPIKey:      "k",
		config.EnvBaseURL:     srv.URL,
	})), WithClock(clock.NewMock()))
	require.NoError(t, err)

	rep, err := a.Once(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, rep.Launched)
	assert.Equal(t, []string{"DELETE /admin/user-idv-data key=k"}, stub.Calls())

	_, err = a.Once(context.Background(), true)
	assert.Error(t, err)
	require.NoError(t, a.Stop(context.Background(), StopAppStop))
}

func TestOnceLaunchesScannerAndAudits(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stub")
	}
	srv, stub := newAdminStub(t)

	scannerDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(scannerDir, "dist"), 0o755))
	script := "#!/bin/sh\necho \"$1\" > ran\nexit 4\n"
	require.NoError(t, os.WriteFile(filepath.Join(scannerDir, "dist", "index.js"), []byte(script), 0o755))

	auditPath := filepath.Join(t.TempDir(), "admind.db")
	cfgPath := writeConfig(t, strings.Join([]string{
		"scanner:",
		"  interpreter: \"-\"",
		"storage:",
		"  driver: file",
		"  path: " + auditPath,
		"",
	}, "\n"))

	a, err := New(cfgPath, WithLookup(envLookup(map[string]string{
		config.EnvEnvironment: "dev",
		config.EnvAPIKey:      "k",
		config.EnvBaseURL:     srv.URL,
		config.EnvScannerPath: scannerDir,
	})), WithClock(clock.NewMock()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rep, err := a.Once(ctx, true)
	require.NoError(t, err)
	assert.True(t, rep.ScanDue)
	assert.True(t, rep.Launched)
	assert.Equal(t, int64(0), rep.Elapsed)
	assert.Len(t, stub.Calls(), 2)

	out, err := os.ReadFile(filepath.Join(scannerDir, "ran"))
	require.NoError(t, err)
	assert.Equal(t, "id-and-phone\n", string(out))
	assert.Equal(t, 4, rep.Run.Wait().Code)

	recs, err := a.store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, storage.KindScanner, recs[0].Kind)
	assert.Equal(t, "exit_4", recs[0].Outcome)
	assert.Equal(t, "transfer-funds", recs[1].Action)
	assert.Equal(t, "delete-user-data", recs[2].Action)
	assert.Equal(t, "success", recs[2].Outcome)

	require.NoError(t, a.Stop(context.Background(), StopAppStop))
}

func TestMapAdminConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Environment = "dev"
	assert.Equal(t, "http://localhost:3000", mapAdminConfig(cfg).BaseURL)
	cfg.Environment = "prod"
	assert.Equal(t, "https://id-server.holonym.io", mapAdminConfig(cfg).BaseURL)
	cfg.Admin.BaseURL = "http://staging:3000"
	assert.Equal(t, "http://staging:3000", mapAdminConfig(cfg).BaseURL)
}

func TestMapStorageConfig(t *testing.T) {
	cfg := config.Defaults()
	_, enabled, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.False(t, enabled)

	cfg.Storage = &config.StorageConfig{Driver: "SQLite3", Path: "/tmp/a.db"}
	sc, enabled, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, storage.Config{Driver: "sqlite", Path: "/tmp/a.db", BusyTimeout: time.Second}, sc)

	cfg.Storage = &config.StorageConfig{Driver: "redis"}
	_, _, err = mapStorageConfig(cfg)
	assert.Error(t, err)
}

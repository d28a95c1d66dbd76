package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// writeConfig writes a config file using a fresh SQLite database and
// returns its path.
func writeConfig(t *testing.T, port int, extra string) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`name: rowstream
environment: test
logging:
  level: error
  format: json
database:
  enabled: true
  dsn: %s
  max_open_conns: 4
  max_idle_conns: 2
  retry_backoff: 1ms
  auto_migrate: true
server:
  enabled: true
  host: 127.0.0.1
  port: %d
%s`, filepath.Join(dir, "rowstream.db"), port, extra)
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestShippedConfigIsValid(t *testing.T) {
	cfg, err := loadConfig("config.yml", "")
	if err != nil {
		t.Fatal(err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if cfg.Database.Driver != "sqlite" || !cfg.Database.AutoMigrate {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Server.WriteTimeout != 0 || cfg.Server.Stream.FlushEvery != 100 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Stream.MaxConcurrent != 10 || cfg.Stream.MaxWait != 2*time.Second {
		t.Errorf("stream = %+v", cfg.Stream)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, 8080, "")
	t.Setenv("ROWSTREAM_STREAM_MAX_WAIT", "750ms")
	t.Setenv("ROWSTREAM_SERVER_STREAM_DEFAULT_FORMAT", "ndjson")

	cfg, err := loadConfig(path, "")
	if err != nil {
		t.Fatal(err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Stream.MaxWait != 750*time.Millisecond {
		t.Errorf("max_wait = %s", cfg.Stream.MaxWait)
	}
	if cfg.Server.Stream.DefaultFormat != "ndjson" {
		t.Errorf("default_format = %q", cfg.Server.Stream.DefaultFormat)
	}
	if cfg.Stream.MaxConcurrent != 4 {
		t.Errorf("max_concurrent = %d, want the pool size", cfg.Stream.MaxConcurrent)
	}
}

func TestConfigRejectsBulkheadLargerThanPool(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, 8080, "stream:\n  max_concurrent: 8\n"), "")
	if err != nil {
		t.Fatal(err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "max_open_conns") {
		t.Errorf("Validate() = %v", err)
	}
}

func TestSeedCommand(t *testing.T) {
	out, err := execute(t, "seed", "--rows", "25", "--config", writeConfig(t, 8080, ""))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Seeded 25 entities") {
		t.Errorf("output = %q", out)
	}

	if _, err := execute(t, "seed", "--rows", "-3", "--config", writeConfig(t, 8080, "")); err == nil {
		t.Error("negative rows should be rejected")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "dev") {
		t.Errorf("output = %q", out)
	}
}

func TestExportRejectsBadOptions(t *testing.T) {
	for _, args := range [][]string{
		{"export", "--batch", "0"},
		{"export", "--route", "entities/sql"},
		{"export", "--url", "not a url"},
	} {
		if _, err := execute(t, args...); err == nil {
			t.Errorf("%v should fail", args)
		}
	}
}

func TestServeAndExport(t *testing.T) {
	port := freePort(t)
	path := writeConfig(t, port, "")
	if _, err := execute(t, "seed", "--rows", "35", "--config", path); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path, "")
	if err != nil {
		t.Fatal(err)
	}
	var summary bytes.Buffer
	app, srv, err := newServeApp(cfg, &summary)
	if err != nil {
		t.Fatal(err)
	}
	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	outFile := filepath.Join(t.TempDir(), "export.ndjson")

	err = app.RunTask(context.Background(), func(ctx context.Context) error {
		if !srv.Running() {
			return fmt.Errorf("server not running")
		}

		resp, err := http.Get(base + "/entities/jdbc?format=ndjson&limit=5")
		if err != nil {
			return err
		}
		lines := countLines(t, resp.Body)
		resp.Body.Close()
		if lines != 5 {
			t.Errorf("limited stream lines = %d", lines)
		}

		resp, err = http.Get(base + "/health")
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("/health = %d", resp.StatusCode)
		}

		// Exporting twice appends.
		for range 2 {
			var out bytes.Buffer
			opts := &exportOptions{URL: base, Route: "/entities/batis", Batch: 10, Out: outFile}
			if err := runExport(ctx, opts, &out); err != nil {
				return err
			}
			if !strings.Contains(out.String(), "Exported 35 rows in 4 windows") {
				t.Errorf("export output = %q", out.String())
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(outFile)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if n := countLines(t, f); n != 70 {
		t.Errorf("exported lines = %d", n)
	}
	if !strings.Contains(summary.String(), "/entities/sql") {
		t.Errorf("summary misses routes:\n%s", summary.String())
	}
	if srv.Running() {
		t.Error("server still running after shutdown")
	}
}

func countLines(t *testing.T, r io.Reader) int {
	t.Helper()
	n := 0
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		n++
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}
	return n
}

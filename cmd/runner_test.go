package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/petredig/tidl/internal/models"
	"github.com/petredig/tidl/internal/shared"
	"github.com/petredig/tidl/internal/tasks"
	tu "github.com/petredig/tidl/internal/testing"
	"github.com/urfave/cli/v3"
)

func testConfig() *shared.Config {
	config := shared.DefaultConfig()
	config.Listener.Secret = "test-secret"
	config.Database.Path = ":memory:"
	return config
}

func newTestRunner(t *testing.T, backend *tu.MockService) (*Runner, *bytes.Buffer) {
	t.Helper()

	config := testConfig()
	config.Download.Path = t.TempDir()

	var buf bytes.Buffer
	runner := NewRunner(RunnerOpts{
		Config:  config,
		Backend: backend,
		Output:  &buf,
	})
	return runner, &buf
}

func runCommand(t *testing.T, runner *Runner, args ...string) error {
	t.Helper()
	app := &cli.Command{Name: "tidl", Commands: runner.register()}
	return app.Run(context.Background(), append([]string{"tidl"}, args...))
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		config := testConfig()
		backend := &tu.MockService{}
		var buf bytes.Buffer

		runner := NewRunner(RunnerOpts{
			Config:  config,
			Backend: backend,
			Output:  &buf,
		})

		if runner.config != config {
			t.Error("expected the provided config to be stored")
		}
		if runner.backend != backend {
			t.Error("expected the provided backend to be stored")
		}
		if runner.output != &buf {
			t.Error("expected the provided output to be stored")
		}
		if runner.logger == nil {
			t.Error("expected a default logger")
		}
	})

	t.Run("NewRunner Nil Config Uses Defaults", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})

		if runner.config == nil {
			t.Fatal("expected a default config")
		}
		if runner.config.Listener.Port != 8123 {
			t.Errorf("expected default port 8123, got %d", runner.config.Listener.Port)
		}
		if runner.output != os.Stdout {
			t.Error("expected stdout as the default output")
		}
	})

	t.Run("Register Builds All Commands", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{Config: testConfig()})
		commands := runner.register()

		want := map[string]bool{"setup": false, "login": false, "get": false, "listen": false, "history": false}
		for _, command := range commands {
			if _, ok := want[command.Name]; !ok {
				t.Errorf("unexpected command %s", command.Name)
				continue
			}
			want[command.Name] = true
		}
		for name, seen := range want {
			if !seen {
				t.Errorf("missing command %s", name)
			}
		}
	})

	t.Run("Engine Uses The Configured Quality", func(t *testing.T) {
		backend := &tu.MockService{}
		runner, _ := newTestRunner(t, backend)
		runner.config.Download.AudioQuality = "Master"

		engine := runner.engine()
		engine.Run(context.Background(), tasks.Job{ID: "job-1", URL: "https://tidal.com/track/1"})

		calls := backend.StreamCalls()
		if len(calls) == 0 || calls[0] != models.QualityMaster {
			t.Errorf("expected the Master tier, got %v", calls)
		}
	})
}

func TestGetCommand(t *testing.T) {
	t.Run("Successful Download", func(t *testing.T) {
		backend := &tu.MockService{
			Track: &models.Track{ID: "42", Title: "Blue Monday"},
			StreamByTier: map[models.AudioQuality]*models.Stream{
				models.QualityNormal: {Codec: "flac"},
			},
		}
		runner, buf := newTestRunner(t, backend)

		if err := runCommand(t, runner, "get", "https://tidal.com/track/42"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if !strings.Contains(buf.String(), "✓") || !strings.Contains(buf.String(), "Blue Monday") {
			t.Errorf("unexpected output %q", buf.String())
		}
	})

	t.Run("JSON Output", func(t *testing.T) {
		backend := &tu.MockService{
			Track: &models.Track{ID: "42", Title: "Blue Monday"},
		}
		runner, buf := newTestRunner(t, backend)

		if err := runCommand(t, runner, "get", "--json", "https://tidal.com/track/42"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		var outcome map[string]any
		if err := json.Unmarshal(buf.Bytes(), &outcome); err != nil {
			t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
		}
		if outcome["status"] != "finished" {
			t.Errorf("unexpected outcome %v", outcome)
		}
	})

	t.Run("Failed Download Reports The Code", func(t *testing.T) {
		backend := &tu.MockService{ResolveErr: shared.ErrTrackNotFound}
		runner, buf := newTestRunner(t, backend)

		if err := runCommand(t, runner, "get", "https://tidal.com/track/42"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if !strings.Contains(buf.String(), "✗") || !strings.Contains(buf.String(), "code=1") {
			t.Errorf("unexpected output %q", buf.String())
		}
	})

	t.Run("Missing URL Fails", func(t *testing.T) {
		runner, _ := newTestRunner(t, &tu.MockService{})

		if err := runCommand(t, runner, "get"); err == nil {
			t.Error("expected an error for a missing url")
		}
	})

	t.Run("Non Track URL Fails", func(t *testing.T) {
		runner, _ := newTestRunner(t, &tu.MockService{})

		if err := runCommand(t, runner, "get", "https://example.com/track/1"); err == nil {
			t.Error("expected an error for a foreign url")
		}
	})

	t.Run("Bearer Flag Reaches The Backend", func(t *testing.T) {
		backend := &tu.MockService{}
		runner, _ := newTestRunner(t, backend)

		if err := runCommand(t, runner, "get", "--bearer", "tok-xyz", "https://tidal.com/track/1"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		tokens := backend.Tokens()
		if len(tokens) != 1 || tokens[0] != "tok-xyz" {
			t.Errorf("expected the bearer override, got %v", tokens)
		}
	})
}

func TestHistoryCommand(t *testing.T) {
	t.Run("Empty History", func(t *testing.T) {
		runner, buf := newTestRunner(t, &tu.MockService{})

		if err := runCommand(t, runner, "history"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !strings.Contains(buf.String(), "No downloads recorded") {
			t.Errorf("unexpected output %q", buf.String())
		}
	})

	t.Run("Lists Recorded Downloads", func(t *testing.T) {
		runner, buf := newTestRunner(t, &tu.MockService{})

		history := runner.ensureHistory()
		if history == nil {
			t.Fatal("expected an in-memory history store")
		}
		rec := models.NewDownloadRecord("https://tidal.com/track/1", "Blue Monday", "FLAC", "HiFi", 0, false)
		if err := history.Create(rec); err != nil {
			t.Fatalf("failed to seed history: %v", err)
		}

		if err := runCommand(t, runner, "history"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !strings.Contains(buf.String(), "Blue Monday") || !strings.Contains(buf.String(), "✓") {
			t.Errorf("unexpected output %q", buf.String())
		}
	})

	t.Run("Failed Filter", func(t *testing.T) {
		runner, buf := newTestRunner(t, &tu.MockService{})

		history := runner.ensureHistory()
		ok := models.NewDownloadRecord("https://tidal.com/track/1", "good", "FLAC", "HiFi", 0, false)
		bad := models.NewDownloadRecord("https://tidal.com/track/2", "bad", "", "HiFi", 1, false)
		for _, rec := range []*models.DownloadRecord{ok, bad} {
			if err := history.Create(rec); err != nil {
				t.Fatalf("failed to seed history: %v", err)
			}
		}

		if err := runCommand(t, runner, "history", "--failed"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if strings.Contains(buf.String(), "good") {
			t.Errorf("expected only failures, got %q", buf.String())
		}
		if !strings.Contains(buf.String(), "bad") {
			t.Errorf("expected the failed record, got %q", buf.String())
		}
	})

	t.Run("JSON Output", func(t *testing.T) {
		runner, buf := newTestRunner(t, &tu.MockService{})

		history := runner.ensureHistory()
		rec := models.NewDownloadRecord("https://tidal.com/track/1", "Blue Monday", "FLAC", "HiFi", 0, true)
		if err := history.Create(rec); err != nil {
			t.Fatalf("failed to seed history: %v", err)
		}

		if err := runCommand(t, runner, "history", "--json"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		var records []map[string]any
		if err := json.Unmarshal(buf.Bytes(), &records); err != nil {
			t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
		}
		if len(records) != 1 || records[0]["title"] != "Blue Monday" {
			t.Errorf("unexpected records %v", records)
		}
		if records[0]["fallback"] != true {
			t.Errorf("expected the fallback flag in output, got %v", records[0])
		}
	})

	t.Run("No Database Configured Fails", func(t *testing.T) {
		runner, _ := newTestRunner(t, &tu.MockService{})
		runner.config.Database.Path = ""

		if err := runCommand(t, runner, "history"); err == nil {
			t.Error("expected an error without a database")
		}
	})
}

func TestSetupCommands(t *testing.T) {
	t.Run("Setup Config Writes The File", func(t *testing.T) {
		runner, buf := newTestRunner(t, &tu.MockService{})
		path := filepath.Join(t.TempDir(), "config.toml")

		if err := runCommand(t, runner, "setup", "config", "--path", path); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Errorf("config file missing: %v", err)
		}
		if !strings.Contains(buf.String(), path) {
			t.Errorf("unexpected output %q", buf.String())
		}

		if err := runCommand(t, runner, "setup", "config", "--path", path); err == nil {
			t.Error("expected an error when the file exists")
		}
	})

	t.Run("Setup Database Runs Migrations", func(t *testing.T) {
		runner, buf := newTestRunner(t, &tu.MockService{})
		runner.config.Database.Path = filepath.Join(t.TempDir(), "tidl.db")

		if err := runCommand(t, runner, "setup", "database"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !strings.Contains(buf.String(), "ready") {
			t.Errorf("unexpected output %q", buf.String())
		}
		if _, err := os.Stat(runner.config.Database.Path); err != nil {
			t.Errorf("database file missing: %v", err)
		}
	})
}

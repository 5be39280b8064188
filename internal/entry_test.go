package internal

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/dsms/internal/dsms"
	"github.com/starford/dsms/internal/manifest"
	"github.com/starford/dsms/internal/testutil"
)

func TestSelfConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.App.HTTP.Port = 9999

	c := selfConfig(cfg)
	if c.HostURL != "http://127.0.0.1:9999" || c.Token != "" {
		t.Errorf("disabled auth: %+v", c)
	}

	cfg.Auth = AuthConfig{Mode: AuthModeToken, Token: "static"}
	if c := selfConfig(cfg); c.Token != "static" {
		t.Errorf("token = %q, want static", c.Token)
	}

	cfg.Auth = AuthConfig{Mode: AuthModeToken, Username: "admin", Password: "pw"}
	if c := selfConfig(cfg); c.Username != "admin" || c.Password != "pw" || c.Token != "" {
		t.Errorf("credentials not used: %+v", c)
	}

	cfg.DSMS.Token = "own"
	if c := selfConfig(cfg); c.Token != "own" || c.Username != "" {
		t.Errorf("client section overridden: %+v", c)
	}
}

func TestWatchManifests(t *testing.T) {
	server := testutil.TestServer(t)
	cfg := dsms.DefaultConfig()
	cfg.HostURL = server.HostURL()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := dsms.Connect(context.Background(), cfg, dsms.WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(t.TempDir(), "manifests")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan string, 8)
	done := make(chan error, 1)
	go func() {
		done <- WatchManifests(ctx, c, dir, logger, func(kind string, rep manifest.Report) {
			events <- kind + ":" + filepath.Base(rep.Path)
		})
	}()

	// The directory is created by WatchManifests.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(dir); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("manifests dir not created")
		}
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	doc := "ktypes:\n  - id: sample\n    name: Sample\n"
	if err := os.WriteFile(filepath.Join(dir, "types.yaml"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-events:
		if ev != "applied:types.yaml" {
			t.Errorf("event = %q", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("manifest not applied")
	}
	if _, err := server.GetKType(context.Background(), "sample"); err != nil {
		t.Errorf("ktype not created: %v", err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("WatchManifests: %v", err)
	}
}

package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/keshew/launchgate/internal/gatestate"
)

func TestStateCommand_PrintsGateState(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "launchgate.db")
	t.Setenv("LAUNCHGATE_DB_PATH", dbPath)
	t.Setenv("LAUNCHGATE_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	// Seed some state.
	db, err := gatestate.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := db.SetConfigRequestsDisabled(ctx); err != nil {
		t.Fatal(err)
	}
	if err := db.SetGateConfig(ctx, gatestate.GateConfig{
		URL:       "https://promo.example/x",
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}); err != nil {
		t.Fatal(err)
	}
	db.Close()

	var out bytes.Buffer
	stateCmd.SetOut(&out)
	stateJSONOutput = false

	if err := runState(stateCmd, nil); err != nil {
		t.Fatalf("runState() error = %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "Config requests:  disabled") {
		t.Errorf("output missing breaker state:\n%s", got)
	}
	if !strings.Contains(got, "https://promo.example/x") {
		t.Errorf("output missing cached config URL:\n%s", got)
	}
	if !strings.Contains(got, "Conversion:       absent") {
		t.Errorf("output missing conversion state:\n%s", got)
	}
}

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/keshew/launchgate/internal/api"
	"github.com/keshew/launchgate/internal/connectivity"
	"github.com/keshew/launchgate/internal/gatestate"
	"github.com/keshew/launchgate/internal/notify"
	"github.com/keshew/launchgate/internal/remoteconfig"
	"github.com/keshew/launchgate/internal/routing"
)

// harness wires the full launch gate in-process: real sqlite store, real
// probe monitor against a local listener, real config client against a
// fake endpoint, and the shell API over httptest.
type harness struct {
	t *testing.T

	store  *gatestate.SQLiteStore
	shell  *httptest.Server
	config *httptest.Server

	probe    net.Listener
	probeAdr string
}

const (
	probeInterval = 20 * time.Millisecond
	fallbackDelay = 100 * time.Millisecond
)

// newHarness starts the whole pipeline with the given fake config
// endpoint behavior.
func newHarness(t *testing.T, configHandler http.HandlerFunc) *harness {
	t.Helper()

	h := &harness{t: t}

	// Local probe target standing in for the network.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	h.probe = listener
	h.probeAdr = listener.Addr().String()
	go acceptLoop(listener)

	h.config = httptest.NewServer(configHandler)
	t.Cleanup(h.config.Close)

	dbPath := filepath.Join(t.TempDir(), "launchgate.db")
	h.store, err = gatestate.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { h.store.Close() })

	monitor := connectivity.NewProbeMonitor(h.probeAdr, 50*time.Millisecond, probeInterval)
	client := remoteconfig.NewHTTPClient(h.store, h.config.URL, remoteconfig.Identity{
		BundleID:          "com.example.app",
		OSTag:             "iOS",
		StoreID:           "id000000000",
		Locale:            "en_US",
		FirebaseProjectID: "example-project",
	}, 2*time.Second)
	gate := notify.NewGate(h.store, 72*time.Hour)
	status := api.NewStatusRegistry()
	machine := routing.New(h.store, client, gate, status, monitor, fallbackDelay)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go monitor.Run(ctx)
	go machine.Run(ctx)

	handler := api.NewHandler(machine, h.store, status, "", "e2e")
	h.shell = httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(h.shell.Close)

	return h
}

func acceptLoop(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}
}

// goOffline closes the probe target so the next probe fails.
func (h *harness) goOffline() {
	h.probe.Close()
}

// post sends a JSON body to the shell API and asserts the status code.
func (h *harness) post(path string, body any, wantStatus int) {
	h.t.Helper()

	encoded, err := json.Marshal(body)
	if err != nil {
		h.t.Fatal(err)
	}

	resp, err := http.Post(h.shell.URL+path, "application/json", bytes.NewReader(encoded))
	if err != nil {
		h.t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		h.t.Fatalf("POST %s status = %d, want %d", path, resp.StatusCode, wantStatus)
	}
}

// decision fetches the current routing decision.
func (h *harness) decision() routing.Decision {
	h.t.Helper()

	resp, err := http.Get(h.shell.URL + "/api/v1/decision")
	if err != nil {
		h.t.Fatal(err)
	}
	defer resp.Body.Close()

	var d routing.Decision
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		h.t.Fatal(err)
	}
	return d
}

// waitDecision polls the decision endpoint until cond holds.
func (h *harness) waitDecision(desc string, cond func(routing.Decision) bool) routing.Decision {
	h.t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	var last routing.Decision
	for time.Now().Before(deadline) {
		last = h.decision()
		if cond(last) {
			return last
		}
		time.Sleep(10 * time.Millisecond)
	}
	h.t.Fatalf("timed out waiting for %s; last decision: %+v", desc, last)
	return last
}

// grantedResponse is a fake endpoint that grants the given overlay.
func grantedResponse(url string, expires int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"ok":true,"url":%q,"expires":%d}`, url, expires)
	}
}

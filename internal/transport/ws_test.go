package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loomkit/loom/internal/event"
	"github.com/loomkit/loom/internal/mirror"
	"github.com/loomkit/loom/internal/testutil/testlog"
)

func TestWSCounterRoundTrip(t *testing.T) {
	testlog.Start(t)

	loopA := event.NewLoop()
	mgrA := mirror.NewManager()
	sessA := mgrA.NewSession(loopA)
	regA := mirror.NewClassRegistry()
	regA.RegisterHome(counterClass)
	rtA := mirror.NewRuntime(sessA, regA)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := UpgradeWS(w, r, WSConfig{})
		if err != nil {
			t.Errorf("UpgradeWS: %v", err)
			return
		}
		_ = ws.Run(sessA, rtA)
	}))
	defer srv.Close()

	loopB := event.NewLoop()
	mgrB := mirror.NewManager()
	sessB := mgrB.BindSession(loopB, sessA.ID(), "r")
	regB := mirror.NewClassRegistry()
	regB.RegisterRemote(counterClass)
	rtB := mirror.NewRuntime(sessB, regB)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, err := DialWS(context.Background(), url, WSConfig{})
	if err != nil {
		t.Fatalf("DialWS: %v", err)
	}
	defer ws.Close()
	go func() { _ = ws.Run(sessB, rtB) }()

	auth, err := mirror.NewAuthoritative(sessA, counterClass, map[string]any{"count": 1})
	if err != nil {
		t.Fatalf("NewAuthoritative: %v", err)
	}

	// Both loops are pumped from here; the sockets only move bytes.
	pump := func(done func() bool) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			_ = loopA.Iter()
			_ = loopB.Iter()
			if done() {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatalf("condition not reached before deadline")
	}

	var m *mirror.Mirror
	pump(func() bool {
		d, ok := sessB.Component(auth.ID())
		if !ok {
			return false
		}
		m = d.(*mirror.Mirror)
		return m.Comp().GetInt("count") == 1
	})

	if err := m.Comp().Invoke("increment"); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	pump(func() bool {
		return auth.Comp().GetInt("count") == 2 && m.Comp().GetInt("count") == 2
	})
}

func TestDialWSFailsWithoutPeer(t *testing.T) {
	testlog.Start(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cfg := WSConfig{
		DialAttempts: 2,
		Backoff:      BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 1.0},
	}
	if _, err := DialWS(ctx, "ws://127.0.0.1:1/loom", cfg); err == nil {
		t.Fatalf("dial to dead endpoint succeeded")
	}
}

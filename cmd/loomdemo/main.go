// loomdemo runs a distributed counter: one side owns the state, the
// other mirrors it and drives it through forwarded actions. In pipe mode
// both sides live in this process; serve/dial split them across two
// processes connected over WebSocket.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/loomkit/loom/internal/event"
	"github.com/loomkit/loom/internal/logging"
	"github.com/loomkit/loom/internal/mirror"
	"github.com/loomkit/loom/internal/transport"
)

var counterClass = event.NewClass("loomdemo", "Counter").
	Prop(event.Property{Name: "count", Kind: event.PropInt, Settable: true}).
	Action("increment", func(c *event.Component, args ...any) error {
		return c.Mutate("count", c.GetInt("count")+1)
	}).
	Reaction("on_count", func(c *event.Component, evs []event.Event) {
		for _, ev := range evs {
			log.Info().Str("component", c.ID()).
				Any("from", ev.OldValue).Any("to", ev.NewValue).
				Msg("count changed")
		}
	}, "count").
	MustBuild()

func main() {
	logging.ConfigureRuntime()

	configPath := flag.String("config", "", "path to TOML config")
	mode := flag.String("mode", "", "pipe, serve or dial (overrides config)")
	addr := flag.String("addr", "", "listen/dial address (overrides config)")
	flag.Parse()

	cfg := defaultDemoConfig()
	if *configPath != "" {
		loaded, err := loadDemoConfig(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid config")
		}
		cfg = loaded
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if err := cfg.validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cfg.Mode {
	case "pipe":
		err = runPipe(cfg)
	case "serve":
		err = runServe(ctx, cfg)
	case "dial":
		err = runDial(ctx, cfg)
	}
	if err != nil {
		log.Fatal().Err(err).Str("mode", cfg.Mode).Msg("demo failed")
	}
}

// driveLoop integrates a loop with a goroutine host so iterations run as
// soon as work is queued.
func driveLoop(ctx context.Context, loop *event.Loop) {
	ch := make(chan func(), 256)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case f := <-ch:
				f()
			}
		}
	}()
	loop.Integrate(func(f func()) {
		select {
		case ch <- f:
		case <-ctx.Done():
		}
	})
}

type demoSide struct {
	loop *event.Loop
	sess *mirror.Session
	rt   *mirror.Runtime
}

func newSide(cfg demoConfig, home bool, suffix string) *demoSide {
	loop := event.NewLoop()
	mgr := mirror.NewManager()
	sess := mgr.BindSession(loop, cfg.SessionID, suffix)
	reg := mirror.NewClassRegistry()
	if home {
		reg.RegisterHome(counterClass)
	} else {
		reg.RegisterRemote(counterClass)
	}
	return &demoSide{loop: loop, sess: sess, rt: mirror.NewRuntime(sess, reg)}
}

// runPipe drives both sides from one goroutine through the in-process
// pipe, then reports the final state.
func runPipe(cfg demoConfig) error {
	owner := newSide(cfg, true, "")
	remote := newSide(cfg, false, "r")

	toRemote, toOwner := transport.Pipe(owner.rt, remote.rt)
	if err := owner.sess.AttachTransport(toRemote); err != nil {
		return err
	}
	if err := remote.sess.AttachTransport(toOwner); err != nil {
		return err
	}

	auth, err := mirror.NewAuthoritative(owner.sess, counterClass, nil)
	if err != nil {
		return err
	}
	settle := func() {
		for i := 0; i < 12; i++ {
			_ = owner.loop.Iter()
			_ = remote.loop.Iter()
		}
	}
	settle()

	d, ok := remote.sess.Component(auth.ID())
	if !ok {
		log.Fatal().Msg("mirror was not instantiated")
	}
	m := d.(*mirror.Mirror)

	for i := 0; i < cfg.Increments; i++ {
		if err := m.Comp().Invoke("increment"); err != nil {
			return err
		}
	}
	settle()

	log.Info().
		Int("owner", auth.Comp().GetInt("count")).
		Int("mirrored", m.Comp().GetInt("count")).
		Int("increments", cfg.Increments).
		Msg("pipe demo finished")
	return nil
}

// runServe owns the counter and serves mirrors over WebSocket.
func runServe(ctx context.Context, cfg demoConfig) error {
	side := newSide(cfg, true, "")
	driveLoop(ctx, side.loop)

	auth, err := mirror.NewAuthoritative(side.sess, counterClass, nil)
	if err != nil {
		return err
	}
	log.Info().Str("uid", auth.UID()).Str("addr", cfg.Addr).Msg("serving counter")

	mux := http.NewServeMux()
	mux.HandleFunc("/loom", func(w http.ResponseWriter, r *http.Request) {
		ws, err := transport.UpgradeWS(w, r, transport.WSConfig{WriteTimeout: cfg.WriteTimeout})
		if err != nil {
			log.Warn().Err(err).Msg("upgrade failed")
			return
		}
		defer ws.Close()
		log.Info().Str("remote", r.RemoteAddr).Msg("peer connected")
		_ = ws.Run(side.sess, side.rt)
		log.Info().Str("remote", r.RemoteAddr).Msg("peer disconnected")
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// runDial mirrors the served counter and increments it periodically.
func runDial(ctx context.Context, cfg demoConfig) error {
	side := newSide(cfg, false, "r")
	driveLoop(ctx, side.loop)

	ws, err := transport.DialWS(ctx, "ws://"+cfg.Addr+"/loom", transport.WSConfig{WriteTimeout: cfg.WriteTimeout})
	if err != nil {
		return err
	}
	defer ws.Close()
	go func() { _ = ws.Run(side.sess, side.rt) }()

	// The owner's INSTANTIATE arrives once the transport attaches.
	var m *mirror.Mirror
	for m == nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
		if d, ok := side.sess.Component("c1"); ok {
			m = d.(*mirror.Mirror)
		}
	}
	log.Info().Str("uid", m.UID()).Msg("mirror ready")

	done := 0
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for cfg.Increments == 0 || done < cfg.Increments {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := m.Comp().Invoke("increment"); err != nil {
			return err
		}
		done++
	}

	// Give the final echo a moment to land, then read on the loop.
	select {
	case <-ctx.Done():
	case <-time.After(500 * time.Millisecond):
	}
	result := make(chan int, 1)
	side.loop.CallLater(func() { result <- m.Comp().GetInt("count") })
	select {
	case <-ctx.Done():
	case n := <-result:
		log.Info().Int("mirrored", n).Int("sent", done).Msg("dial demo finished")
	}
	return nil
}

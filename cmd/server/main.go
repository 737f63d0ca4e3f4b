package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	persistlog "griddiffuse.dev/internal/persistence/log"
	"griddiffuse.dev/internal/sim/agent"
	"griddiffuse.dev/internal/sim/diffuse"
	"griddiffuse.dev/internal/sim/encoding"
	"griddiffuse.dev/internal/sim/tuning"
	"griddiffuse.dev/internal/sim/world"
	"griddiffuse.dev/internal/transport/observer"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

// run is main without the exit, so the round log is always closed after the
// world has stopped writing to it.
func run(args []string, stdout io.Writer) error {
	flags := flag.NewFlagSet("server", flag.ContinueOnError)
	var (
		addr        = flags.String("addr", "127.0.0.1:8080", "http listen address")
		worldID     = flags.String("world", "world_1", "world id")
		inputPath   = flags.String("input", "", "path to the initial character map")
		tuningPath  = flags.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		logDir      = flags.String("log", "", "round log directory (empty to disable)")
		rateHz      = flags.Int("rate", 0, "rounds per second (default: tuning round_rate_hz)")
		keepGoing   = flags.Bool("keep_going", false, "keep stepping after the population is stable")
		enablePprof = flags.Bool("pprof", false, "serve /debug/pprof on the same listener")
	)
	if err := flags.Parse(args); err != nil {
		return err
	}

	logger := log.New(stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	if *inputPath == "" {
		return errors.New("missing -input")
	}

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load tuning: %w", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}
	if *rateHz > 0 {
		tune.RoundRateHz = *rateHz
	}
	if *keepGoing {
		tune.StopWhenStable = false
	}
	if err := tune.Validate(); err != nil {
		return fmt.Errorf("tuning: %w", err)
	}
	prio, _ := tune.Priority()

	raw, err := os.ReadFile(*inputPath)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	g := encoding.Parse(string(raw), tune.Occupied(), agent.NewFactory())

	w, err := world.New(world.WorldConfig{
		ID:             *worldID,
		Priority:       prio,
		Engine:         tune.Engine(),
		RoundRateHz:    tune.RoundRateHz,
		StopWhenStable: tune.StopWhenStable,
		MaxRounds:      tune.MaxRounds,
	}, g)
	if err != nil {
		return fmt.Errorf("world: %w", err)
	}
	w.SetLogger(logger)

	if dir := strings.TrimSpace(*logDir); dir != "" {
		roundLog := persistlog.NewRoundLogger(dir, tune.LogSegmentRounds)
		defer func() {
			if err := roundLog.Close(); err != nil {
				logger.Printf("close round log: %v", err)
			}
		}()
		w.SetRoundLogger(roundLog)
	}

	ctx, cancel := signalContext()
	defer cancel()

	// Run flushes the round log when it returns.
	go func() {
		err := w.Run(ctx)
		if err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
		// Run has returned, so the grid is ours to read.
		cov, _ := diffuse.Coverage(w.Grid())
		logger.Printf("world finished: round=%d stable=%v population=%d coverage=%d", w.CurrentRound(), w.Status().Stable, w.Grid().Len(), cov)
	}()
	defer func() {
		cancel()
		<-w.Done()
	}()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newMux(w, logger, *enablePprof),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (population=%d priority=%s)", *addr, g.Len(), prio)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ListenAndServe: %w", err)
	}
	return nil
}

func newMux(w *world.World, logger *log.Logger, enablePprof bool) *http.ServeMux {
	worldID := w.Config().ID

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, worldID, w.Status())
	})
	mux.HandleFunc("/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		st := w.Status()
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{
			"world_id":   worldID,
			"round":      st.Round,
			"population": st.Population,
			"priority":   st.Priority.String(),
			"stable":     st.Stable,
			"digest":     st.Digest,
		})
	})
	observer.NewServer(w, logger).Register(mux)
	if enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

// writeMetrics emits a minimal Prometheus exposition.
func writeMetrics(rw http.ResponseWriter, worldID string, st world.Status) {
	fmt.Fprintf(rw, "# HELP griddiffuse_world_round Rounds completed.\n")
	fmt.Fprintf(rw, "# TYPE griddiffuse_world_round gauge\n")
	fmt.Fprintf(rw, "griddiffuse_world_round{world=%q} %d\n", worldID, st.Round)

	fmt.Fprintf(rw, "# HELP griddiffuse_world_population Agents on the grid.\n")
	fmt.Fprintf(rw, "# TYPE griddiffuse_world_population gauge\n")
	fmt.Fprintf(rw, "griddiffuse_world_population{world=%q} %d\n", worldID, st.Population)

	stable := 0
	if st.Stable {
		stable = 1
	}
	fmt.Fprintf(rw, "# HELP griddiffuse_world_stable 1 once a round moved nobody.\n")
	fmt.Fprintf(rw, "# TYPE griddiffuse_world_stable gauge\n")
	fmt.Fprintf(rw, "griddiffuse_world_stable{world=%q} %d\n", worldID, stable)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

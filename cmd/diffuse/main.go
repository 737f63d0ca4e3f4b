package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"strings"

	persistlog "griddiffuse.dev/internal/persistence/log"
	"griddiffuse.dev/internal/sim/agent"
	"griddiffuse.dev/internal/sim/diffuse"
	"griddiffuse.dev/internal/sim/encoding"
	"griddiffuse.dev/internal/sim/tuning"
	"griddiffuse.dev/internal/sim/world"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run is main without the exit, so deferred closes always happen. It returns
// the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("diffuse", flag.ContinueOnError)
	flags.SetOutput(stderr)
	var (
		inputPath   = flags.String("input", "", "path to the initial character map")
		tuningPath  = flags.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml (missing file: defaults)")
		rounds      = flags.Int("rounds", -1, "rounds for a bounded run (default: tuning rounds)")
		untilStable = flags.Bool("until_stable", false, "run until no agent moves and print that round")
		maxRounds   = flags.Int("max_rounds", -1, "cap for -until_stable (0 = none; default: tuning max_rounds)")
		workers     = flags.Int("workers", 0, "proposal workers (default: tuning workers)")
		logDir      = flags.String("log", "", "write a round log to this directory (optional)")
		printGrid   = flags.Bool("print", false, "print the final grid")
		verbose     = flags.Bool("v", false, "log progress to stderr")
	)
	if err := flags.Parse(args); err != nil {
		return 2
	}

	if *inputPath == "" {
		fmt.Fprintln(stderr, "missing -input")
		return 2
	}

	logger := log.New(stderr, "[diffuse] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := loadTuning(*tuningPath, logger)
	if err != nil {
		fmt.Fprintln(stderr, "load tuning:", err)
		return 1
	}
	if *rounds >= 0 {
		tune.Rounds = *rounds
	}
	if *maxRounds >= 0 {
		tune.MaxRounds = *maxRounds
	}
	if *workers > 0 {
		tune.Workers = *workers
	}
	if err := tune.Validate(); err != nil {
		fmt.Fprintln(stderr, "flags:", err)
		return 2
	}
	prio, _ := tune.Priority()

	raw, err := os.ReadFile(*inputPath)
	if err != nil {
		fmt.Fprintln(stderr, "read input:", err)
		return 1
	}
	g := encoding.Parse(string(raw), tune.Occupied(), agent.NewFactory())

	d := &diffuse.Driver{Engine: tune.Engine(), MaxRounds: tune.MaxRounds}
	if *verbose {
		d.Logger = logger
	}

	if strings.TrimSpace(*logDir) != "" {
		rl := persistlog.NewRoundLogger(*logDir, tune.LogSegmentRounds)
		defer func() {
			if err := rl.Close(); err != nil {
				fmt.Fprintln(stderr, "close round log:", err)
			}
		}()
		if err := logInitial(rl, g, prio); err != nil {
			fmt.Fprintln(stderr, "round log:", err)
			return 1
		}
		prev := encoding.Canonical(g)
		d.OnRound = func(r diffuse.RoundReport) error {
			cur := encoding.Canonical(r.Grid)
			e := roundEntry(r, cur == prev)
			prev = cur
			return rl.WriteRound(e)
		}
	}

	ctx := context.Background()
	var res diffuse.Result
	if *untilStable {
		res, err = d.RunUntilStable(ctx, g, prio)
	} else {
		res, err = d.RunFor(ctx, g, prio, tune.Rounds)
	}
	if err != nil {
		fmt.Fprintln(stderr, "run:", err)
		return 1
	}

	if *printGrid {
		fmt.Fprintln(stdout, encoding.Render(res.Grid, tune.Occupied(), tune.Vacant()))
	}
	if *untilStable {
		if !res.Stable {
			fmt.Fprintf(stdout, "stable_round=none rounds=%d\n", res.Rounds)
			return 0
		}
		fmt.Fprintf(stdout, "stable_round=%d\n", res.Rounds)
		return 0
	}
	cov, err := diffuse.Coverage(res.Grid)
	if errors.Is(err, diffuse.ErrEmptyGrid) {
		fmt.Fprintln(stdout, "coverage=none population=0")
		return 0
	}
	fmt.Fprintf(stdout, "coverage=%d\n", cov)
	return 0
}

func loadTuning(path string, logger *log.Logger) (tuning.Tuning, error) {
	tune, err := tuning.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Printf("tuning not found (%s); using defaults", path)
			return tuning.Defaults(), nil
		}
		return tune, err
	}
	return tune, nil
}

func logInitial(rl *persistlog.RoundLogger, g *diffuse.Grid, prio diffuse.Priority) error {
	return rl.WriteRound(world.RoundLogEntry{
		WorldID:    "cli",
		Round:      0,
		Priority:   prio.String(),
		Population: g.Len(),
		Digest:     encoding.Digest(g),
		Frame:      encoding.EncodeFrame(g),
	})
}

func roundEntry(r diffuse.RoundReport, stable bool) world.RoundLogEntry {
	return world.RoundLogEntry{
		WorldID:    "cli",
		Round:      uint64(r.Round),
		Priority:   r.Priority.String(),
		Proposed:   r.Stats.Proposed,
		Vetoed:     r.Stats.Vetoed,
		Moved:      r.Stats.Moved,
		Population: r.Grid.Len(),
		Stable:     stable,
		Digest:     encoding.Digest(r.Grid),
		Frame:      encoding.EncodeFrame(r.Grid),
	}
}

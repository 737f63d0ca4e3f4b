package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"griddiffuse.dev/internal/observerproto"
	"griddiffuse.dev/internal/sim/agent"
	"griddiffuse.dev/internal/sim/encoding"
)

type options struct {
	frames   bool
	count    int
	onStable bool
}

func main() {
	url, opt, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	logger := log.New(os.Stderr, "[watch] ", log.LstdFlags|log.Lmicroseconds)
	n, err := dialAndWatch(url, opt)
	if err != nil {
		logger.Printf("after %d rounds: %v", n, err)
		os.Exit(1)
	}
	logger.Printf("done rounds=%d", n)
}

func parseFlags(args []string) (string, options, error) {
	flags := flag.NewFlagSet("watch", flag.ContinueOnError)
	var (
		url      = flags.String("url", "ws://127.0.0.1:8080/v1/observer/ws", "observer ws url")
		frames   = flags.Bool("frames", false, "request frames, verify digests and print the grid")
		count    = flags.Int("count", 0, "exit after N rounds (0 = no limit)")
		onStable = flags.Bool("exit_on_stable", false, "exit once a stable round is seen")
	)
	if err := flags.Parse(args); err != nil {
		return "", options{}, err
	}
	return *url, options{frames: *frames, count: *count, onStable: *onStable}, nil
}

func dialAndWatch(url string, opt options) (int, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return 0, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	defer signal.Stop(stop)
	go func() {
		<-stop
		_ = conn.Close()
	}()

	return watch(conn, os.Stdout, opt)
}

// watch subscribes on conn and prints one line per ROUND message until the
// server closes, count rounds arrive, or (with onStable) a stable round.
func watch(conn *websocket.Conn, out io.Writer, opt options) (int, error) {
	sub := observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		IncludeFrame:    opt.frames,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return 0, fmt.Errorf("send SUBSCRIBE: %w", err)
	}

	n := 0
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, err
		}
		var rm observerproto.RoundMsg
		if err := json.Unmarshal(msg, &rm); err != nil || rm.Type != observerproto.TypeRound {
			continue
		}
		if err := printRound(out, &rm, opt.frames); err != nil {
			return n, err
		}
		n++
		if opt.count > 0 && n >= opt.count {
			return n, nil
		}
		if opt.onStable && rm.Stable {
			return n, nil
		}
	}
}

func printRound(out io.Writer, rm *observerproto.RoundMsg, frames bool) error {
	fmt.Fprintf(out, "round=%d priority=%s proposed=%d vetoed=%d moved=%d population=%d stable=%t\n",
		rm.Round, rm.Priority, rm.Proposed, rm.Vetoed, rm.Moved, rm.Population, rm.Stable)
	if !frames {
		return nil
	}
	if rm.Frame == nil {
		return fmt.Errorf("round %d: missing frame", rm.Round)
	}
	g, err := encoding.DecodeFrame(*rm.Frame, agent.NewFactory())
	if err != nil {
		return fmt.Errorf("round %d: %w", rm.Round, err)
	}
	if got := encoding.Digest(g); got != rm.Digest {
		return fmt.Errorf("round %d: digest mismatch got=%s want=%s", rm.Round, got, rm.Digest)
	}
	fmt.Fprintln(out, encoding.Render(g, encoding.DefaultOccupied, encoding.DefaultVacant))
	return nil
}

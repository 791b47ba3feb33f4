// buzzroom is a terminal client for buzzer rooms: host a room or join
// one, then race to buzz first.
//
//	buzzroom host -name Dana [-window 5s]
//	buzzroom join -room <id> [-name Dana]
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kmajors/buzzroom/clients/roomapi"
	"github.com/kmajors/buzzroom/internal/conn"
	"github.com/kmajors/buzzroom/internal/notify"
	"github.com/kmajors/buzzroom/internal/session"
	"github.com/kmajors/buzzroom/internal/store"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment")
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "host":
		err = runHost(os.Args[2:])
	case "join":
		err = runJoin(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("buzzroom exited with error")
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: buzzroom host -name <name> [-window <duration>]")
	fmt.Fprintln(os.Stderr, "       buzzroom join -room <id> [-name <name>]")
}

func runHost(args []string) error {
	fs := flag.NewFlagSet("host", flag.ExitOnError)
	name := fs.String("name", "", "display name (required)")
	window := fs.Duration("window", 0, "answer window, e.g. 5s (server default when unset)")
	configPath := fs.String("config", "buzzroom.yaml", "config file path")
	fs.Parse(args)

	if *name == "" {
		return fmt.Errorf("-name is required")
	}

	sess, ctx, err := buildSession(*configPath)
	if err != nil {
		return err
	}
	if err := sess.Host(ctx, *name, *window); err != nil {
		return fmt.Errorf("failed to host room: %w", err)
	}
	snap := sess.Snapshot()
	fmt.Printf("room created: %s (share this id)\n", snap.RoomID)
	return runLoop(ctx, sess)
}

func runJoin(args []string) error {
	fs := flag.NewFlagSet("join", flag.ExitOnError)
	roomID := fs.String("room", "", "room id (defaults to the last joined room)")
	name := fs.String("name", "", "display name (optional when rejoining)")
	configPath := fs.String("config", "buzzroom.yaml", "config file path")
	fs.Parse(args)

	sess, ctx, err := buildSession(*configPath)
	if err != nil {
		return err
	}

	if *roomID == "" {
		last, ok, err := lastRoom()
		if err != nil || !ok {
			return fmt.Errorf("-room is required (no previous room to rejoin)")
		}
		*roomID = last
		fmt.Printf("rejoining room %s\n", last)
	}

	if err := sess.Join(ctx, *roomID, *name); err != nil {
		if cooldown, limited := roomapi.IsRateLimited(err); limited {
			return fmt.Errorf("rate limited, retry in %s", cooldown.Round(time.Second))
		}
		return fmt.Errorf("failed to join room: %w", err)
	}
	return runLoop(ctx, sess)
}

func buildSession(configPath string) (*session.Session, context.Context, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	config.resolve()

	sessions, err := openSessionStore()
	if err != nil {
		return nil, nil, err
	}

	api := roomapi.NewClient(config.Server.BaseURL)
	// Read-loop deliveries block when full rather than drop, so the
	// buffer only smooths bursts; the session loop drains it steadily.
	events := make(chan conn.Event, 64)
	transport := conn.NewManager(config.Server.WsURL, conn.DefaultConfig(), events)

	sess := session.New(session.Deps{
		API:       api,
		Transport: transport,
		Events:    events,
		Store:     sessions,
		Sink:      consoleSink(),
	}, session.DefaultConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	_ = stop // released on process exit
	return sess, ctx, nil
}

// lastRoom is the room the client was part of when it last exited, if
// the session store still has it.
func lastRoom() (string, bool, error) {
	sessions, err := openSessionStore()
	if err != nil {
		return "", false, err
	}
	return sessions.CurrentRoom()
}

func openSessionStore() (store.SessionStore, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		log.Warn().Err(err).Msg("no user config dir, sessions will not persist")
		return store.NewMemoryStore(), nil
	}
	return store.NewFileStore(filepath.Join(configDir, "buzzroom", "sessions.json")), nil
}

// consoleSink renders notifications for a terminal. The tone maps to
// a bell on the events that would play a sound.
func consoleSink() notify.Sink {
	return notify.SinkFunc(func(event notify.Event, tone notify.Tone, detail string) {
		line := string(event)
		if detail != "" {
			line += ": " + detail
		}
		if tone == notify.ToneSuccess || tone == notify.ToneAlert {
			line += "\a"
		}
		fmt.Println(line)
	})
}

func runLoop(ctx context.Context, sess *session.Session) error {
	go readInput(ctx, sess)

	fmt.Println("commands: b=buzz  s=start round  c=continue round  k <name>=kick  a <name>=make admin  q=leave")
	err := sess.Run(ctx)
	if err != nil && ctx.Err() == nil {
		return err
	}
	fmt.Println("left room")
	return nil
}

func readInput(ctx context.Context, sess *session.Session) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "b", "":
			sess.Buzz()
		case "s":
			sess.StartRound()
		case "c":
			sess.ContinueRound()
		case "k":
			sess.Kick(strings.TrimSpace(arg))
		case "a":
			sess.SetAdmin(strings.TrimSpace(arg))
		case "q":
			sess.Leave()
			return
		default:
			fmt.Printf("unknown command %q\n", cmd)
		}
	}
}

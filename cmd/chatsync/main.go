package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"roomchat/internal/conn"
	"roomchat/internal/present"
	"roomchat/internal/session"
)

const usage = `usage: chatsync [-v] <command> [args]

commands:
  rooms [query]                      list rooms, most recently active first
  messages <roomId>                  print the timeline of a room
  send <roomId> <text>               send a message
  create <listingId> <counterpartyId> open a room about a listing
  watch                              print updates until interrupted
`

func main() {
	verbose := flag.Bool("v", false, "log debug output")
	timeout := flag.Duration("timeout", 10*time.Second, "time to wait for the server")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logCfg := zap.NewDevelopmentConfig()
	if !*verbose {
		logCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	logger, err := logCfg.Build()
	if err != nil {
		log.Fatalf("logCfg.Build: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		sugar.Fatalf("Cannot load .env file: %v", err)
	}

	cfg := session.EnvConfig{}
	if err := env.Parse(&cfg); err != nil {
		sugar.Fatalf("Cannot parse env config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	openCtx, openCancel := context.WithTimeout(ctx, *timeout)
	s, err := session.Open(openCtx, sugar, cfg.TokenProvider(), cfg.Options()...)
	if err == nil {
		err = s.Ready(openCtx)
	}
	openCancel()
	if err != nil {
		sugar.Fatalf("Cannot open session: %v", err)
	}
	defer s.Close()

	if err := run(ctx, s, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "chatsync:", err)
		s.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, s *session.Session, args []string) error {
	switch cmd, args := args[0], args[1:]; cmd {
	case "rooms":
		printRooms(s, strings.Join(args, " "))
		return nil
	case "messages":
		if len(args) != 1 {
			return errors.New("messages takes a room id")
		}
		return printTimeline(s, args[0])
	case "send":
		if len(args) < 2 {
			return errors.New("send takes a room id and a text")
		}
		m, err := s.Conn.SendMessage(ctx, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Printf("queued %s\n", m.ID)
		return nil
	case "create":
		if len(args) != 2 {
			return errors.New("create takes a listing id and a counterparty id")
		}
		return s.Conn.CreateRoom(ctx, args[0], args[1])
	case "watch":
		watch(ctx, s)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printRooms(s *session.Session, query string) {
	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	for _, r := range s.RoomList(query) {
		unread := ""
		if r.UnreadCount > 0 {
			unread = fmt.Sprintf("(%d)", r.UnreadCount)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Title, unread, present.DayLabel(r.Timestamp, now), r.LastMessage)
	}
}

func printTimeline(s *session.Session, roomID string) error {
	groups, err := s.Timeline(roomID, time.Local)
	if err != nil {
		return err
	}
	if err := s.Store.MarkRead(roomID); err != nil {
		return err
	}

	now := time.Now()
	for _, g := range groups {
		fmt.Printf("-- %s --\n", present.DayLabel(g.Day, now))
		for _, it := range g.Items {
			m := it.Message
			if it.Consecutive {
				fmt.Printf("        %s\n", m.Content)
				continue
			}
			sender := m.SenderID
			if sender == s.UserID() {
				sender = "you"
			}
			fmt.Printf("%s %s: %s\n", m.CreatedAt.In(time.Local).Format("15:04"), sender, m.Content)
		}
	}
	return nil
}

func watch(ctx context.Context, s *session.Session) {
	updates, cancelUpdates := s.Store.Subscribe()
	defer cancelUpdates()
	states, cancelStates := s.Conn.StateChanges()
	defer cancelStates()

	for {
		select {
		case <-ctx.Done():
			return
		case st := <-states:
			fmt.Printf("connection %s\n", st)
			if st == conn.Disconnected {
				return
			}
		case snap, ok := <-updates:
			if !ok {
				return
			}
			var unread int
			for _, r := range snap.Rooms {
				unread += r.UnreadCount
			}
			fmt.Printf("version %d: %d rooms, %d unread\n", snap.Version, len(snap.Rooms), unread)
		}
	}
}

// Package main is a terminal client for online board game rooms. It lists
// and hosts rooms, joins them over a WebRTC peer session and records AI
// game results.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"game-session-hub/internal/config"
	"game-session-hub/internal/game"
	"game-session-hub/internal/model"
	"game-session-hub/internal/peer"
	"game-session-hub/internal/peer/rtc"
	"game-session-hub/internal/pkg/kv"
	"game-session-hub/internal/room"
	"game-session-hub/internal/stats"
	"game-session-hub/internal/store"
	"game-session-hub/internal/worker"
)

const usage = `usage: play <command> [flags]

commands:
  list    list open rooms of a game
  host    create a room and wait for an opponent
  join    join a room by id
  result  record a game against the AI
  stats   show your AI statistics
`

type app struct {
	cfg   *config.Config
	games *game.Registry
	rooms *room.Manager
	stats *stats.Aggregator
	close func()
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "list":
		err = runList(ctx, args)
	case "host":
		err = runHost(ctx, args)
	case "join":
		err = runJoin(ctx, args)
	case "result":
		err = runResult(ctx, args)
	case "stats":
		err = runStats(ctx, args)
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newFlags returns a flag set with the options every command shares.
func newFlags(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	configDir := fs.String("config", "config", "directory containing config.yaml")
	return fs, configDir
}

func open(ctx context.Context, configDir string) (*app, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, err
	}
	config.SetupLogging(cfg.Log)

	adapter, closeStore, err := store.Open(ctx, &cfg.Store, false)
	if err != nil {
		return nil, err
	}
	cache, err := kv.Open(ctx, cfg.Cache)
	if err != nil {
		closeStore()
		return nil, err
	}
	return &app{
		cfg:   cfg,
		games: game.NewDefaultRegistry(),
		rooms: room.NewManager(adapter, cfg.Rooms.Location()),
		stats: stats.NewAggregator(adapter, stats.NewLocalCache(cache)),
		close: func() {
			_ = cache.Close()
			closeStore()
		},
	}, nil
}

func runList(ctx context.Context, args []string) error {
	fs, configDir := newFlags("list")
	gameName := fs.StringP("game", "g", string(model.GameOmok), "game type")
	_ = fs.Parse(args)

	a, err := open(ctx, *configDir)
	if err != nil {
		return err
	}
	defer a.close()

	d, err := a.games.Lookup(*gameName)
	if err != nil {
		return err
	}
	rooms := a.rooms.ListRooms(ctx, d.Type)
	if len(rooms) == 0 {
		fmt.Printf("No open %s rooms\n", d.Name)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tHOST\tTITLE\tAGE")
	for _, r := range rooms {
		title := ""
		if r.RoomTitle != nil {
			title = *r.RoomTitle
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.HostName, title, time.Since(r.CreatedAt).Round(time.Second))
	}
	return w.Flush()
}

func runHost(ctx context.Context, args []string) error {
	fs, configDir := newFlags("host")
	gameName := fs.StringP("game", "g", string(model.GameOmok), "game type")
	name := fs.StringP("name", "n", os.Getenv("USER"), "your display name")
	title := fs.StringP("title", "t", "", "room title")
	private := fs.Bool("private", false, "hide the room from the lobby")
	_ = fs.Parse(args)

	a, err := open(ctx, *configDir)
	if err != nil {
		return err
	}
	defer a.close()

	d, err := a.games.Lookup(*gameName)
	if err != nil {
		return err
	}
	if !a.rooms.Configured() {
		return fmt.Errorf("online play is unavailable: store not configured")
	}

	session := peer.NewSession(rtc.New(a.cfg.Signal.URL, a.cfg.Signal.ICEServers))
	defer session.Disconnect()

	endpointID, err := session.CreateEndpoint(ctx)
	if err != nil {
		return err
	}
	r := a.rooms.CreateRoom(ctx, model.CreateRoomInput{
		HostName:  *name,
		HostID:    endpointID,
		GameType:  d.Type,
		IsPrivate: *private,
		Title:     *title,
	})
	if r == nil {
		return fmt.Errorf("failed to create room")
	}
	// Best effort: a room that is not closed here is reaped once its
	// heartbeat stops.
	defer a.rooms.CloseRoom(context.Background(), r.ID)

	sched, err := worker.New()
	if err != nil {
		return err
	}
	sched.Start()
	defer func() { _ = sched.Shutdown() }()
	stopHeartbeat, err := sched.StartHeartbeat(a.rooms, r.ID, a.cfg.Rooms.HeartbeatInterval)
	if err != nil {
		return err
	}
	defer stopHeartbeat()

	fmt.Printf("Hosting %s room %s, waiting for an opponent...\n", d.Name, r.ID)
	return play(ctx, session, &match{rooms: a.rooms, room: r, host: true, name: *name})
}

func runJoin(ctx context.Context, args []string) error {
	fs, configDir := newFlags("join")
	roomID := fs.StringP("room", "r", "", "room id")
	name := fs.StringP("name", "n", os.Getenv("USER"), "your display name")
	_ = fs.Parse(args)
	if *roomID == "" {
		return fmt.Errorf("--room is required")
	}

	a, err := open(ctx, *configDir)
	if err != nil {
		return err
	}
	defer a.close()

	r := a.rooms.GetRoom(ctx, *roomID)
	if r == nil || r.Status != model.StatusWaiting {
		return fmt.Errorf("room %s is not open", *roomID)
	}
	if r.HostID == "" {
		return fmt.Errorf("room %s has no reachable host yet", *roomID)
	}
	if !a.rooms.TryJoinRoom(ctx, r.ID) {
		return fmt.Errorf("room %s was taken by another player", r.ID)
	}

	session := peer.NewSession(rtc.New(a.cfg.Signal.URL, a.cfg.Signal.ICEServers))
	defer session.Disconnect()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := session.ConnectToEndpoint(connectCtx, r.HostID); err != nil {
		a.rooms.CloseRoom(context.Background(), r.ID)
		return err
	}
	log.Debug().Str("remote_id", session.RemoteID()).Msg("Connected to host")
	return play(ctx, session, &match{rooms: a.rooms, room: r, name: *name})
}

func runResult(ctx context.Context, args []string) error {
	fs, configDir := newFlags("result")
	player := fs.StringP("player", "p", os.Getenv("USER"), "player id")
	gameName := fs.StringP("game", "g", string(model.GameOmok), "game type")
	difficulty := fs.StringP("difficulty", "d", string(model.DifficultyNormal), "easy, normal or hard")
	result := fs.StringP("result", "r", "", "win, loss or draw")
	_ = fs.Parse(args)

	a, err := open(ctx, *configDir)
	if err != nil {
		return err
	}
	defer a.close()

	d, err := a.games.Lookup(*gameName)
	if err != nil {
		return err
	}
	diff, err := model.ParseDifficulty(*difficulty)
	if err != nil {
		return err
	}
	res, err := model.ParseGameResult(*result)
	if err != nil {
		return err
	}
	if !a.stats.RecordResult(ctx, *player, d.Type, diff, res) {
		return fmt.Errorf("result not recorded")
	}
	fmt.Printf("Recorded %s %s (%s) for %s\n", d.Name, res, diff, *player)
	return nil
}

func runStats(ctx context.Context, args []string) error {
	fs, configDir := newFlags("stats")
	player := fs.StringP("player", "p", os.Getenv("USER"), "player id")
	_ = fs.Parse(args)

	a, err := open(ctx, *configDir)
	if err != nil {
		return err
	}
	defer a.close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GAME\tEASY\tNORMAL\tHARD\tTOTAL\tWINS")
	for _, s := range a.stats.GetAllPlayerStats(ctx, *player, a.games.AITypes()) {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n", s.GameType,
			record(s.Easy), record(s.Normal), record(s.Hard), s.TotalGames, s.TotalWins)
	}
	return w.Flush()
}

func record(s model.DifficultyStats) string {
	return fmt.Sprintf("%d-%d-%d", s.Wins, s.Losses, s.Draws)
}

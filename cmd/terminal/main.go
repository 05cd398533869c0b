// floor-terminal is a headless staff terminal. It joins one restaurant's floor
// channel, keeps the floor view in sync with the server and rings the terminal
// bell while new orders, ready orders or waiter calls are waiting.
//
// Commands are read from stdin, one per line:
//
//	show                      print the floor
//	seen <order>              acknowledge a new-order alert
//	order <order> <status>    move an order
//	table <table> <status>    set a table's status
//	free <table>              end a table's session
//	ack <call> | resolve <call>
//	mute | unmute
//	sync                      re-fetch everything now
//	quit
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"floor-sync/config"
	"floor-sync/internal/alarm"
	"floor-sync/internal/clock"
	"floor-sync/internal/models"
	"floor-sync/internal/terminal"
	"floor-sync/internal/util"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	floor := cfg.Floor

	var mute bool
	flagSet := pflag.NewFlagSet("floor-terminal", pflag.ContinueOnError)
	flagSet.StringVar(&floor.ServerURL, "server", floor.ServerURL, "floor server base URL")
	flagSet.Int64Var(&floor.RestaurantID, "restaurant", floor.RestaurantID, "restaurant to join")
	flagSet.Int64Var(&floor.StaffID, "staff", floor.StaffID, "staff member operating the terminal (0 shows every call)")
	flagSet.StringVar(&floor.PreferencesPath, "prefs", floor.PreferencesPath, "terminal preference file")
	flagSet.DurationVar(&floor.PollInterval, "poll", floor.PollInterval, "re-sync interval")
	flagSet.BoolVar(&mute, "mute", false, "start with the alarm muted")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if floor.RestaurantID <= 0 {
		return errors.New("--restaurant is required")
	}

	if err := util.InitLogger("floor-terminal", cfg.Server.Env); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer util.SyncLogger()
	logger := util.GetLogger()

	clk := clock.Real()
	stream, err := terminal.NewStream(floor.ServerURL, floor.RestaurantID, floor.ReconnectAttempts, floor.ReconnectDelay, clk, logger)
	if err != nil {
		return err
	}

	alm := alarm.New(clk, floor.AlarmInterval, alarm.NewBellPlayer(os.Stdout), alarm.NewPreferenceFile(floor.PreferencesPath), logger)
	if flagSet.Changed("mute") {
		if err := alm.SetMuted(mute); err != nil {
			logger.Warn("Failed to save mute preference", zap.Error(err))
		}
	}

	opts := terminal.Options{
		RestaurantID: floor.RestaurantID,
		PollInterval: floor.PollInterval,
		Clock:        clk,
		Logger:       logger,
	}
	if floor.StaffID > 0 {
		opts.StaffID = &floor.StaffID
	}

	term := terminal.New(terminal.NewAPIClient(floor.ServerURL, floor.StaffID), stream, alm, opts)
	term.Start()
	defer term.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	joinCtx, cancel := context.WithTimeout(ctx, time.Minute)
	err = term.WaitJoined(joinCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to join restaurant %d: %w", floor.RestaurantID, err)
	}

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := execute(ctx, term, os.Stdout, strings.Fields(line))
			if err != nil {
				fmt.Fprintf(os.Stdout, "! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func execute(ctx context.Context, term *terminal.Terminal, out io.Writer, args []string) (bool, error) {
	if len(args) == 0 {
		return false, nil
	}

	id := func() (int64, error) {
		if len(args) < 2 {
			return 0, fmt.Errorf("%s needs an id", args[0])
		}
		return strconv.ParseInt(args[1], 10, 64)
	}
	status := func() (string, error) {
		if len(args) < 3 {
			return "", fmt.Errorf("%s needs a status", args[0])
		}
		return args[2], nil
	}

	switch args[0] {
	case "quit", "exit":
		return true, nil
	case "show":
		printSnapshot(out, term.Snapshot())
	case "sync":
		term.Resync()
	case "mute", "unmute":
		return false, term.SetMuted(args[0] == "mute")
	case "seen":
		orderID, err := id()
		if err != nil {
			return false, err
		}
		term.AcknowledgeOrderAlert(orderID)
	case "order":
		orderID, err := id()
		if err != nil {
			return false, err
		}
		s, err := status()
		if err != nil {
			return false, err
		}
		_, err = term.UpdateOrderStatus(ctx, orderID, models.OrderStatus(s))
		return false, err
	case "table":
		tableID, err := id()
		if err != nil {
			return false, err
		}
		s, err := status()
		if err != nil {
			return false, err
		}
		_, err = term.UpdateTableStatus(ctx, tableID, models.TableStatus(s), strings.Join(args[3:], " "))
		return false, err
	case "free":
		tableID, err := id()
		if err != nil {
			return false, err
		}
		_, err = term.FreeTable(ctx, tableID)
		return false, err
	case "ack", "resolve":
		callID, err := id()
		if err != nil {
			return false, err
		}
		if args[0] == "ack" {
			_, err = term.AcknowledgeCall(ctx, callID)
		} else {
			_, err = term.ResolveCall(ctx, callID)
		}
		return false, err
	default:
		return false, fmt.Errorf("unknown command %q", args[0])
	}
	return false, nil
}

func printSnapshot(out io.Writer, s terminal.Snapshot) {
	state := "live"
	if !s.Connected {
		state = "offline"
	}
	fmt.Fprintf(out, "restaurant %d [%s] pending=%d synced=%s\n",
		s.RestaurantID, state, s.PendingCount, s.LastSync.Format(time.Kitchen))

	for _, t := range s.Tables {
		fmt.Fprintf(out, "  table %-3d %-9s (id %d)\n", t.Number, s.DisplayedTables[t.ID], t.ID)
	}
	for _, o := range s.Orders {
		table := "-"
		if o.TableID != nil {
			table = strconv.FormatInt(*o.TableID, 10)
		}
		fmt.Fprintf(out, "  order %-5d %-9s table=%s total=%d\n", o.ID, o.Status, table, o.Total)
	}
	for _, c := range s.Calls {
		fmt.Fprintf(out, "  call  %-5d %-12s table %d %s\n", c.ID, c.Status, c.TableNumber, c.Type)
	}
	if len(s.OrderAlerts) > 0 {
		fmt.Fprintf(out, "  new orders: %v\n", s.OrderAlerts)
	}
	if len(s.Ringing) > 0 {
		muted := ""
		if s.Muted {
			muted = " (muted)"
		}
		fmt.Fprintf(out, "  ringing: %v%s\n", s.Ringing, muted)
	}
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/lilychat/internal/api"
	"github.com/rickgao/lilychat/internal/chat"
	"github.com/rickgao/lilychat/internal/metrics"
)

var errQuit = errors.New("quit")

var chatCmd = &cobra.Command{
	Use:   "chat <user>",
	Short: "Open a conversation with a user, by ID or username",
	Args:  cobra.ExactArgs(1),
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	if a.cfg.User.Username == "" || a.cfg.User.Password == "" {
		return api.ErrMissingCredentials
	}

	ctx, stop := signalContext()
	defer stop()

	reg := a.registry()
	manager := a.newManager(reg)
	ctrl := chat.NewController(chat.DefaultConfig(), a.client, manager, a.logger)
	defer ctrl.Close()

	if _, err := ctrl.Login(ctx, a.cfg.User.Username, a.cfg.User.Password); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer func() {
		logoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ctrl.Logout(logoutCtx)
	}()

	out := cmd.OutOrStdout()
	view := &conversationView{out: out}
	if err := view.open(ctx, ctrl, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(out, "type a message and press enter; /help for commands")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.watchLogLevel(gctx) })

	if reg != nil {
		srv := metrics.NewServer(
			a.cfg.Metrics.Port,
			metrics.NewHandler(a.cfg.Metrics.Path, reg, manager.State),
			a.logger,
		)
		g.Go(func() error { return srv.Run(gctx) })
	}

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev := <-ctrl.Events():
				view.event(ev)
			}
		}
	})

	lines := readLines(os.Stdin)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return errQuit
				}
				if err := view.input(gctx, ctrl, line, a.cfg.Connection.HandshakeTimeout); err != nil {
					return err
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

// readLines feeds stdin lines into a channel that closes on EOF. The
// goroutine outlives the command if stdin never closes.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}

// conversationView renders one conversation to the terminal. Events and
// input arrive on different goroutines.
type conversationView struct {
	mu       sync.Mutex
	out      io.Writer
	peerName string
}

func (v *conversationView) open(ctx context.Context, ctrl *chat.Controller, who string) error {
	peer, err := resolvePeer(ctx, ctrl, who)
	if err != nil {
		return err
	}

	history, err := ctrl.Select(ctx, peer.ID)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.peerName = peer.Username
	if v.peerName == "" {
		v.peerName = strconv.FormatInt(peer.ID, 10)
	}

	fmt.Fprintf(v.out, "-- conversation with %s --\n", v.peerName)
	for _, e := range history {
		v.writeEntry(e)
	}
	return nil
}

func (v *conversationView) input(ctx context.Context, ctrl *chat.Controller, line string, timeout time.Duration) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if strings.HasPrefix(line, "/") {
		name, arg, _ := strings.Cut(line[1:], " ")
		switch name {
		case "quit", "q":
			return errQuit
		case "peer":
			if err := v.open(ctx, ctrl, strings.TrimSpace(arg)); err != nil {
				fmt.Fprintln(v.out, "!", err)
			}
		case "help":
			fmt.Fprintln(v.out, "/peer <user>  switch conversation (also reconnects)")
			fmt.Fprintln(v.out, "/quit         leave")
		default:
			fmt.Fprintf(v.out, "! unknown command /%s\n", name)
		}
		return nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := ctrl.Send(sendCtx, line); err != nil {
		fmt.Fprintln(v.out, "!", err)
	}
	return nil
}

func (v *conversationView) event(ev chat.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch ev.Kind {
	case chat.EventMessage:
		v.writeEntry(ev.Entry)
	case chat.EventError:
		fmt.Fprintln(v.out, "!", ev.Err)
	}
}

func (v *conversationView) writeEntry(e chat.Entry) {
	who := v.peerName
	if e.Direction == chat.Sent {
		who = "you"
	}
	ts := e.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	fmt.Fprintf(v.out, "[%s] %s: %s\n", ts.Local().Format("15:04"), who, e.Text)
}

// resolvePeer accepts a numeric user ID or a username.
func resolvePeer(ctx context.Context, ctrl *chat.Controller, who string) (api.User, error) {
	if who == "" {
		return api.User{}, errors.New("no user given")
	}
	if id, err := strconv.ParseInt(who, 10, 64); err == nil {
		return api.User{ID: id}, nil
	}

	users, err := ctrl.SearchUsers(ctx, who)
	if err != nil {
		return api.User{}, fmt.Errorf("search users: %w", err)
	}
	for _, u := range users {
		if strings.EqualFold(u.Username, who) {
			return u, nil
		}
	}
	switch len(users) {
	case 0:
		return api.User{}, fmt.Errorf("no user matches %q", who)
	case 1:
		return users[0], nil
	}

	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
	}
	return api.User{}, fmt.Errorf("%q is ambiguous: %s", who, strings.Join(names, ", "))
}

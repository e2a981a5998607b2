package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/multiworld/internal/relay"
)

// consoleCommand defines one operator console command.
type consoleCommand struct {
	// Name is the canonical command name.
	Name string
	// Aliases are alternate names for this command.
	Aliases []string
	// Usage is the short usage text shown by help.
	Usage string
	// Run executes the command with its arguments.
	Run func(c *Console, args []string) error
}

var consoleCommands []consoleCommand

func init() {
	consoleCommands = []consoleCommand{
		{
			Name:  "help",
			Usage: "help - show available commands",
			Run:   (*Console).runHelp,
		},
		{
			Name:    "list-sessions",
			Aliases: []string{"ls"},
			Usage:   "list-sessions - show live sessions and their bound players",
			Run:     (*Console).runListSessions,
		},
		{
			Name:    "list-ready",
			Aliases: []string{"lr"},
			Usage:   "list-ready - show ready rooms and their members",
			Run:     (*Console).runListReady,
		},
		{
			Name:  "give",
			Usage: "give <item> <session> <player> - grant an item to a player slot",
			Run:   (*Console).runGive,
		},
		{
			Name:    "quit",
			Aliases: []string{"exit"},
			Usage:   "quit - shut the server down",
			Run:     (*Console).runQuit,
		},
	}
}

// Console is the interactive operator surface, reading commands line by line.
// It implements server.Service.
type Console struct {
	// OnQuit is invoked by the quit command to trigger shutdown.
	OnQuit func()

	srv    *relay.Server
	in     io.Reader
	out    io.Writer
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewConsole creates a console bound to the given reader and writer.
//
// Precondition: srv, in, out, and logger must be non-nil.
func NewConsole(srv *relay.Server, in io.Reader, out io.Writer, logger *zap.Logger) *Console {
	return &Console{srv: srv, in: in, out: out, logger: logger}
}

// Start reads and executes commands until the input is exhausted or the
// console is stopped.
func (c *Console) Start() error {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return nil
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, ok := lookupCommand(fields[0])
		if !ok {
			fmt.Fprintf(c.out, "unknown command %q, try help\n", fields[0])
			continue
		}
		if err := cmd.Run(c, fields[1:]); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

// Stop marks the console closed. A read blocked on the input returns on the
// next line or on input EOF.
func (c *Console) Stop() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func lookupCommand(name string) (consoleCommand, bool) {
	for _, cmd := range consoleCommands {
		if cmd.Name == name {
			return cmd, true
		}
		for _, alias := range cmd.Aliases {
			if alias == name {
				return cmd, true
			}
		}
	}
	return consoleCommand{}, false
}

func (c *Console) runHelp([]string) error {
	for _, cmd := range consoleCommands {
		fmt.Fprintln(c.out, cmd.Usage)
	}
	return nil
}

func (c *Console) runListSessions([]string) error {
	sessions := c.srv.ListSessions()
	if len(sessions) == 0 {
		fmt.Fprintln(c.out, "no live sessions")
		return nil
	}
	for _, s := range sessions {
		kind := "multiworld"
		if s.ItemSync {
			kind = "itemsync"
		}
		players := s.Players
		if players == "" {
			players = "(nobody bound)"
		}
		fmt.Fprintf(c.out, "%s [%s] %s\n", s.ID, kind, players)
	}
	return nil
}

func (c *Console) runListReady([]string) error {
	rooms := c.srv.ListReadyRooms()
	if len(rooms) == 0 {
		fmt.Fprintln(c.out, "no ready rooms")
		return nil
	}
	for _, r := range rooms {
		name := r.Name
		if name == "" {
			name = "(default)"
		}
		fmt.Fprintf(c.out, "%s: %s\n", name, strings.Join(r.Members, ", "))
	}
	return nil
}

func (c *Console) runGive(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: give <item> <session> <player>")
	}
	player, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("player must be a slot number: %w", err)
	}
	if err := c.srv.GiveItem(args[0], args[1], player); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "queued %s for player %d\n", args[0], player)
	return nil
}

func (c *Console) runQuit([]string) error {
	c.logger.Info("operator requested shutdown")
	if c.OnQuit != nil {
		c.OnQuit()
	}
	return nil
}

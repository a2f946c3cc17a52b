// Package terminal is the line-oriented register console. Each input line is
// one command; the console turns it into dispatches on the session store or
// calls into checkout, reader and favorites, then prints the affected view.
package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"posterm/internal/catalog"
	"posterm/internal/checkout"
	"posterm/internal/favorites"
	"posterm/internal/picker"
	"posterm/internal/reader"
	"posterm/internal/receipt"
	"posterm/internal/session"
)

// ErrQuit ends Run without error.
var ErrQuit = errors.New("quit")

var (
	errUsage     = errors.New("usage")
	errNoPicker  = errors.New("no product is being picked; use pick <product-id>")
	errNoProduct = errors.New("unknown product")
	errNoLine    = errors.New("no such cart line")
)

// Deps are the collaborators the console drives. Archiver may be nil.
type Deps struct {
	Store     *session.Store
	Flow      *checkout.Flow
	Card      *checkout.CardElement
	Favorites *favorites.Favorites
	Catalog   catalog.Source
	Reader    reader.Session
	Archiver  receipt.Archiver
	Log       *zap.Logger
}

type command struct {
	usage string
	help  string
	run   func(c *Console, ctx context.Context, args []string) error
}

// Console holds per-terminal UI state that is not part of the session:
// the library filter and the open picker.
type Console struct {
	Deps
	out    io.Writer
	now    func() time.Time
	filter catalog.Filter
	picker *picker.Picker
	cmds   map[string]command
}

func New(d Deps, out io.Writer) *Console {
	c := &Console{Deps: d, out: out, now: time.Now}
	c.cmds = commands()
	return c
}

// Run reads commands from in until EOF, quit or ctx is done. Command errors
// are printed and do not stop the loop.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	c.prompt()
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := c.Exec(ctx, sc.Text())
		if errors.Is(err, ErrQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(c.out, "! %v\n", err)
		}
		c.prompt()
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}

// Exec runs one command line.
func (c *Console) Exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]
	cmd, ok := c.cmds[name]
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", name)
	}
	c.Log.Debug("console command", zap.String("cmd", name), zap.Int("args", len(args)))
	err := cmd.run(c, ctx, args)
	if errors.Is(err, errUsage) {
		return fmt.Errorf("usage: %s", cmd.usage)
	}
	return err
}

func (c *Console) prompt() {
	s := c.Store.State()
	label := string(s.View)
	if s.View == session.ViewCatalog {
		label += "/" + string(s.ActiveTab)
	}
	fmt.Fprintf(c.out, "[%s %d items %s]> ", label, s.ItemCount(), receipt.FormatCents(s.SubtotalCents()))
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

// Command trumictl works on the inventory database directly: it imports
// sheets, records lines, prints the summary table and exports the ledgers.
// It reads the same environment as the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/charmbracelet/glamour"
	"github.com/google/subcommands"

	"trumi/inventory/internal/app"
	"trumi/inventory/internal/config"
	"trumi/inventory/internal/domain"
	"trumi/inventory/internal/export"
	"trumi/inventory/internal/service"
)

// session is what every subcommand works against.
type session struct {
	svc   *service.Service
	money export.Formatter
	close func()
}

// openSession is swapped out by tests.
var openSession = func(ctx context.Context) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	app.SetupLogger(cfg, os.Stderr)
	money, err := export.NewFormatter(cfg.Currency)
	if err != nil {
		return nil, err
	}
	backends, err := app.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &session{
		svc:   service.New(backends.Repo, backends.Summary, cfg.SummaryCacheTTL()),
		money: money,
		close: backends.Close,
	}, nil
}

var stdout io.Writer = os.Stdout

// operator acts as an admin; shell access to the database already implies it.
func operator(ctx context.Context) context.Context {
	name := os.Getenv("USER")
	if name == "" {
		name = "trumictl"
	}
	return service.WithActor(ctx, domain.Actor{Username: name, Role: domain.RoleAdmin})
}

// withSession opens the backends, runs fn and maps its error to an exit code.
func withSession(ctx context.Context, fn func(ctx context.Context, s *session) error) subcommands.ExitStatus {
	s, err := openSession(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	if s.close != nil {
		defer s.close()
	}
	if err := fn(operator(ctx), s); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func printMarkdown(w io.Writer, md string, plain bool) error {
	if plain {
		_, err := io.WriteString(w, md)
		return err
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(120))
	if err != nil {
		return err
	}
	out, err := r.Render(md)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

func register(c *subcommands.Commander) {
	c.Register(c.HelpCommand(), "")
	c.Register(c.FlagsCommand(), "")
	c.Register(c.CommandsCommand(), "")

	c.Register(&importCmd{}, "sheets")
	c.Register(&templateCmd{}, "sheets")

	c.Register(&recordCmd{kind: domain.KindPurchase}, "ledger")
	c.Register(&recordCmd{kind: domain.KindSale}, "ledger")
	c.Register(&transactionsCmd{}, "ledger")

	c.Register(&summaryCmd{}, "reports")
}

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	register(commander)

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

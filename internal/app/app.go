// Package app wires configuration, database, repositories and the revision
// service into the revisions maintenance command.
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/revisions/internal/config"
	"github.com/dmitrijs2005/revisions/internal/filex"
	"github.com/dmitrijs2005/revisions/internal/logging"
	"github.com/dmitrijs2005/revisions/internal/models"
	"github.com/dmitrijs2005/revisions/internal/records"
	"github.com/dmitrijs2005/revisions/internal/repositories/repomanager"
	"github.com/dmitrijs2005/revisions/internal/revision"
	"github.com/dmitrijs2005/revisions/internal/services"
)

// ErrUsage is returned for a missing or malformed subcommand.
var ErrUsage = errors.New(`usage: revisions [flags] <command>

commands:
  migrate                   apply pending migrations
  list <type> <id>          list revisions of a record, newest first
  show <revision-id>        print one revision as JSON
  purge <type> <id>         delete every revision of a record
  prune <type> <id> <keep>  keep only the newest <keep> revisions of a record`)

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	service     *services.RevisionService
	out         io.Writer
}

// NewApp validates cfg and opens the database. Nothing is sent to the
// database until a command runs.
func NewApp(cfg *config.Config, logger logging.Logger, out io.Writer) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// The command only reads and deletes revisions, so no record types
	// need to be defined.
	rm, err := repomanager.New(cfg.DatabaseDriver, records.NewSchema())
	if err != nil {
		return nil, err
	}

	if cfg.DatabaseDriver == repomanager.DriverSQLite {
		if path := filex.SQLitePath(cfg.DatabaseDSN); path != "" {
			if _, err := filex.EnsureParentDir(path); err != nil {
				return nil, fmt.Errorf("db init error: %w", err)
			}
		}
	}

	db, err := sql.Open(rm.SQLDriverName(), rm.DSN(cfg.DatabaseDSN))
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return &App{
		config:      cfg,
		logger:      logger,
		db:          db,
		repomanager: rm,
		service:     services.NewRevisionService(db, rm, revision.NewRegistry(), logger, nil),
		out:         out,
	}, nil
}

func (app *App) Close() error {
	return app.db.Close()
}

// Run executes the subcommand in args (positional arguments only).
func (app *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return ErrUsage
	}
	cmd, rest := args[0], args[1:]

	if cmd == "migrate" || app.config.MigrateOnStart {
		if err := app.repomanager.RunMigrations(ctx, app.db); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		app.logger.Info(ctx, "migrations applied", "driver", app.config.DatabaseDriver)
	}

	switch cmd {
	case "migrate":
		return nil
	case "list":
		return app.list(ctx, rest)
	case "show":
		return app.show(ctx, rest)
	case "purge":
		return app.purge(ctx, rest)
	case "prune":
		return app.prune(ctx, rest)
	default:
		return fmt.Errorf("unknown command %q\n%w", cmd, ErrUsage)
	}
}

func (app *App) list(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return ErrUsage
	}
	owner, err := parseOwner(args[0], args[1])
	if err != nil {
		return err
	}

	revs, err := app.service.Revisions(ctx, owner, models.OrderNewest)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(app.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED AT\tUSER\tFIELDS\tRELATIONS")
	for _, r := range revs {
		user := "-"
		if r.UserID != nil {
			user = strconv.FormatInt(*r.UserID, 10)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\n",
			r.ID, r.CreatedAt.Format(time.RFC3339), user, len(r.Snapshot.Fields), len(r.Snapshot.Relations))
	}
	return w.Flush()
}

type revisionView struct {
	ID        int64              `json:"id"`
	OwnerType string             `json:"owner_type"`
	OwnerID   int64              `json:"owner_id"`
	UserID    *int64             `json:"user_id"`
	CreatedAt time.Time          `json:"created_at"`
	Snapshot  *revision.Document `json:"snapshot"`
}

func (app *App) show(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("revision id %q: %w", args[0], ErrUsage)
	}

	r, err := app.service.Revision(ctx, id)
	if err != nil {
		return fmt.Errorf("revision %d: %w", id, err)
	}

	enc := json.NewEncoder(app.out)
	enc.SetIndent("", "  ")
	return enc.Encode(revisionView{
		ID:        r.ID,
		OwnerType: r.OwnerType,
		OwnerID:   r.OwnerID,
		UserID:    r.UserID,
		CreatedAt: r.CreatedAt,
		Snapshot:  r.Snapshot,
	})
}

func (app *App) purge(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return ErrUsage
	}
	owner, err := parseOwner(args[0], args[1])
	if err != nil {
		return err
	}

	n, err := app.service.DeleteAllRevisions(ctx, owner)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.out, "deleted %d revisions of %s\n", n, owner)
	return nil
}

func (app *App) prune(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return ErrUsage
	}
	owner, err := parseOwner(args[0], args[1])
	if err != nil {
		return err
	}
	keep, err := strconv.Atoi(args[2])
	if err != nil || keep < 0 {
		return fmt.Errorf("keep %q: %w", args[2], ErrUsage)
	}

	n, err := app.service.Prune(ctx, owner, keep)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.out, "pruned %d revisions of %s\n", n, owner)
	return nil
}

func parseOwner(recordType, id string) (records.Ref, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || recordType == "" {
		return records.Ref{}, fmt.Errorf("record %s %q: %w", recordType, id, ErrUsage)
	}
	return records.Ref{ID: n, Type: recordType}, nil
}

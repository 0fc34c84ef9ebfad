package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"locshare.org/internal/accounts"
	"locshare.org/internal/config"
	"locshare.org/internal/location"
	"locshare.org/internal/migrate"
	"locshare.org/internal/obs"
	"locshare.org/internal/sharing"
	"locshare.org/internal/store/pg"
)

type options struct {
	dsn      string
	seedsDir string
	timeout  time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	// Only the DSN is needed here, so the API's validation errors are ignored.
	cfg, _ := config.Load(".env")
	opts.dsn = cfg.PGDSN

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the locshare PostgreSQL schema",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.dsn, "dsn", opts.dsn, "PostgreSQL DSN (defaults to LOCSHARE_PG_DSN)")
	root.PersistentFlags().StringVar(&opts.seedsDir, "seeds", "ops/seeds", "directory of SQL seed files")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall command timeout")

	root.AddCommand(
		newUpCmd(opts),
		newDownCmd(opts),
		newStatusCmd(opts),
		newSeedCmd(opts),
		newDemoCmd(opts),
	)
	return root
}

// withManager opens the database and hands a Manager to fn.
func withManager(cmd *cobra.Command, opts *options, fn func(ctx context.Context, db *sql.DB, m *migrate.Manager) error) error {
	if opts.dsn == "" {
		return errors.New("missing DSN: provide via --dsn or LOCSHARE_PG_DSN")
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	db, err := sql.Open("pgx", opts.dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	return fn(ctx, db, migrate.NewManager(db, opts.seedsDir))
}

func newUpCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, opts, func(ctx context.Context, _ *sql.DB, m *migrate.Manager) error {
				applied, err := m.Up(ctx)
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				}
				for _, v := range applied {
					fmt.Fprintf(cmd.OutOrStdout(), "applied %05d\n", v)
				}
				return nil
			})
		},
	}
}

func newDownCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, opts, func(ctx context.Context, _ *sql.DB, m *migrate.Manager) error {
				v, err := m.Down(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %05d\n", v)
				return nil
			})
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List migrations and seeds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, opts, func(ctx context.Context, _ *sql.DB, m *migrate.Manager) error {
				states, err := m.Status(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, st := range states {
					applied := "pending"
					if st.Applied {
						applied = "applied " + st.AppliedAt.UTC().Format(time.RFC3339)
					}
					fmt.Fprintf(out, "%05d  %-32s %s\n", st.Version, st.Name, applied)
				}
				seeds, err := m.Seeds(ctx)
				if err != nil {
					return err
				}
				for _, s := range seeds {
					fmt.Fprintf(out, "seed   %s\n", s)
				}
				return nil
			})
		},
	}
}

func newSeedCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Execute SQL seed files that have not run yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, opts, func(ctx context.Context, _ *sql.DB, m *migrate.Manager) error {
				return m.Seed(ctx)
			})
		},
	}
}

// newDemoCmd registers a small set of demo accounts through the domain
// services so that credentials are hashed the same way as real signups.
func newDemoCmd(opts *options) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Create demo accounts, shares and locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, opts, func(ctx context.Context, db *sql.DB, _ *migrate.Manager) error {
				return seedDemo(ctx, cmd, pg.New(db), password)
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "demo-password", "password for every demo account")
	return cmd
}

type demoUser struct {
	name, email string
	lat, lon    float64
}

var demoUsers = []demoUser{
	{"Ada", "ada@demo.locshare", 51.5074, -0.1278},
	{"Grace", "grace@demo.locshare", 40.7128, -74.0060},
	{"Linus", "linus@demo.locshare", 60.1699, 24.9384},
}

func seedDemo(ctx context.Context, cmd *cobra.Command, st *pg.Store, password string) error {
	dir := accounts.NewDirectory(st)
	graph := sharing.NewGraph(st, dir)
	ledger := location.NewLedger(st, nil)
	out := cmd.OutOrStdout()

	ids := make([]string, 0, len(demoUsers))
	for _, u := range demoUsers {
		id, err := dir.Register(ctx, u.name, u.email, password)
		if errors.Is(err, accounts.ErrDuplicateEmail) {
			var ok bool
			id, ok, err = dir.ResolveByEmail(ctx, u.email)
			if err == nil && !ok {
				err = accounts.ErrNotFound
			}
		}
		if err != nil {
			return fmt.Errorf("register %s: %w", u.email, err)
		}
		ids = append(ids, id)
		fmt.Fprintf(out, "account %s %s\n", id, u.email)
	}

	// Everyone shares with the first demo user.
	for _, u := range demoUsers[1:] {
		owner, _, err := dir.ResolveByEmail(ctx, u.email)
		if err != nil {
			return err
		}
		if _, err := graph.Share(ctx, owner, demoUsers[0].email); err != nil {
			return fmt.Errorf("share %s: %w", u.email, err)
		}
	}

	now := time.Now().UnixMilli()
	for i, u := range demoUsers {
		_, err := ledger.Record(ctx, ids[i], location.Sample{
			Latitude:   u.lat,
			Longitude:  u.lon,
			CapturedAt: now,
			UserName:   u.name,
		})
		if err != nil {
			return fmt.Errorf("record %s: %w", u.email, err)
		}
	}
	obs.Logger().Info("demo_seeded", "accounts", len(ids))
	return nil
}

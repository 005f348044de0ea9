// Package cli implements the operator subcommands of the medzillo binary.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/medzillo/medzillo/internal/app"
	"github.com/medzillo/medzillo/internal/auth"
	"github.com/medzillo/medzillo/internal/inventory"
	"github.com/medzillo/medzillo/internal/shared"
)

// ErrUsage is returned for unknown commands or bad flags.
var ErrUsage = errors.New("usage: medzillo [serve | migrate | reconcile [-repair] | token -user N -clinic N -role R | jobs trigger NAME | jobs stats]")

// Run executes one subcommand and writes its JSON result to out.
func Run(ctx context.Context, cfg *app.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return ErrUsage
	}
	switch args[0] {
	case "migrate":
		return migrate(ctx, cfg, out)
	case "reconcile":
		return reconcile(ctx, cfg, args[1:], out)
	case "token":
		return issueToken(cfg, args[1:], out)
	case "jobs":
		return runJobs(ctx, cfg, args[1:], out)
	default:
		return ErrUsage
	}
}

func migrate(ctx context.Context, cfg *app.Config, out io.Writer) error {
	migrating := *cfg
	migrating.AutoMigrate = true
	store, err := app.OpenStore(ctx, &migrating)
	if err != nil {
		return err
	}
	store.Close()
	return writeJSON(out, map[string]string{"status": "migrated", "driver": store.Driver})
}

func reconcile(ctx context.Context, cfg *app.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	repair := fs.Bool("repair", false, "rewrite drifting totals")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ledger := inventory.NewLedger(store.Inventory, store.Audit, nil, inventory.Config{Retry: cfg.RetryPolicy()}, nil)
	drifting, err := ledger.ReconcileAll(ctx, *repair)
	if err != nil {
		return err
	}
	if drifting == nil {
		drifting = []inventory.ReconcileResult{}
	}
	return writeJSON(out, drifting)
}

func issueToken(cfg *app.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	user := fs.Int64("user", 0, "user id")
	clinic := fs.Int64("clinic", 0, "clinic id")
	role := fs.String("role", shared.RoleStaff, "admin, pharmacist or staff")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	switch *role {
	case shared.RoleAdmin, shared.RolePharmacist, shared.RoleStaff:
	default:
		return fmt.Errorf("%w: unknown role %q", ErrUsage, *role)
	}
	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTTokenTTL)
	if err != nil {
		return err
	}
	token, err := verifier.Issue(shared.Actor{UserID: *user, ClinicID: *clinic, Role: *role})
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]string{"token": token})
}

func runJobs(ctx context.Context, cfg *app.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return ErrUsage
	}
	c := NewJobsCLI(cfg.RedisOptions().AsynqOpts())
	defer c.Close()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return ErrUsage
		}
		info, err := c.Trigger(ctx, args[1], int(cfg.StockExpiryWindow.Hours()/24))
		if err != nil {
			return err
		}
		return writeJSON(out, map[string]string{"id": info.ID, "type": info.Type, "queue": info.Queue})
	case "stats":
		stats, err := c.InspectQueues(ctx)
		if err != nil {
			return err
		}
		return writeJSON(out, stats)
	default:
		return ErrUsage
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

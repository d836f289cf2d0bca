package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/mailvault/internal/server/models"
)

const defaultFailedLimit = 50

var ErrUsage = errors.New("usage: admin [flags] failed [limit] | requeue <uid> | usage <email> | revoke <email> | migrate | secret <key> <value>")

// Executor carries out operator commands.
type Executor interface {
	Failed(ctx context.Context, limit int) ([]*models.Job, error)
	Requeue(ctx context.Context, uid uint32) error
	Usage(ctx context.Context, email string) (models.UsageSummary, error)
	Revoke(ctx context.Context, email string) (int64, error)
	Migrate(ctx context.Context) error
	SetSecret(key, value string) error
}

// Run executes the command named by args[0] and writes its report to out.
func Run(ctx context.Context, exec Executor, args []string, out io.Writer) error {
	if len(args) == 0 {
		return ErrUsage
	}

	cmd, args := args[0], args[1:]

	switch cmd {
	case "failed":
		limit := defaultFailedLimit
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("limit %q: %w", args[0], ErrUsage)
			}
			limit = n
		}
		return failed(ctx, exec, limit, out)

	case "requeue":
		if len(args) != 1 {
			return ErrUsage
		}
		uid, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("uid %q: %w", args[0], ErrUsage)
		}
		if err := exec.Requeue(ctx, uint32(uid)); err != nil {
			return fmt.Errorf("requeue %d: %w", uid, err)
		}
		fmt.Fprintf(out, "requeued %d\n", uid)
		return nil

	case "usage":
		if len(args) != 1 {
			return ErrUsage
		}
		s, err := exec.Usage(ctx, args[0])
		if err != nil {
			return fmt.Errorf("usage %s: %w", args[0], err)
		}
		printUsage(out, args[0], s)
		return nil

	case "revoke":
		if len(args) != 1 {
			return ErrUsage
		}
		n, err := exec.Revoke(ctx, args[0])
		if err != nil {
			return fmt.Errorf("revoke %s: %w", args[0], err)
		}
		fmt.Fprintf(out, "revoked %d grant(s) for %s\n", n, args[0])
		return nil

	case "migrate":
		if err := exec.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		fmt.Fprintln(out, "migrations applied")
		return nil

	case "secret":
		if len(args) != 2 {
			return ErrUsage
		}
		if err := exec.SetSecret(args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(out, "stored %s\n", args[0])
		return nil
	}

	return fmt.Errorf("unknown command %q: %w", cmd, ErrUsage)
}

func failed(ctx context.Context, exec Executor, limit int, out io.Writer) error {
	jobs, err := exec.Failed(ctx, limit)
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Fprintln(out, "no failed jobs")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "UID\tATTEMPTS\tUPDATED\tERROR")
	for _, j := range jobs {
		fmt.Fprintf(w, "%d\t%d/%d\t%s\t%s\n", j.UID, j.Attempts, j.MaxAttempts, j.UpdatedAt.UTC().Format(time.RFC3339), j.LastError)
	}
	return w.Flush()
}

func printUsage(out io.Writer, email string, s models.UsageSummary) {
	fmt.Fprintf(out, "%s %s..%s\n", email, s.PeriodStart.Format(time.DateOnly), s.PeriodEnd.Format(time.DateOnly))
	fmt.Fprintf(out, "  items:     %d (%d free, %d remaining)\n", s.Items, s.FreeItems, s.Remaining())
	fmt.Fprintf(out, "  bytes:     %d\n", s.Bytes)
	fmt.Fprintf(out, "  cost:      %d.%02d\n", s.CostCents/100, s.CostCents%100)
	fmt.Fprintf(out, "  billed:    %t\n", s.Billed)
}

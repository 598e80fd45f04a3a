package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/surfacer/internal/priority"
	"github.com/linnemanlabs/surfacer/internal/source"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cycleCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one prioritization cycle for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			rep, err := e.svc.RunCycle(cliContext(cmd), user)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "user to cycle")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func surfaceCmd() *cobra.Command {
	var (
		user     string
		topN     int
		runCycle bool
	)

	cmd := &cobra.Command{
		Use:   "surface",
		Short: "Show a user's most important and most urgent items",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if topN < 1 {
				return fmt.Errorf("--top-n must be at least 1")
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := cliContext(cmd)
			if runCycle {
				if _, err := e.svc.RunCycle(ctx, user); err != nil {
					return err
				}
			}
			view, err := e.svc.Surface(ctx, user, topN)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "user to inspect")
	cmd.Flags().IntVar(&topN, "top-n", 10, "number of items to show")
	cmd.Flags().BoolVar(&runCycle, "cycle", false, "run a cycle before building the view")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func quadrantCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "quadrant <Q1_DO_NOW|Q2_SCHEDULE|Q3_DELEGATE|Q4_ELIMINATE>",
		Short: "List a user's active items in one quadrant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, ok := priority.ParseQuadrant(args[0])
			if !ok {
				return fmt.Errorf("unknown quadrant %q", args[0])
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			items, err := e.svc.Quadrant(cliContext(cmd), user, q)
			if err != nil {
				return err
			}
			return writeItems(cmd.OutOrStdout(), items)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "user to inspect")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// itemCmd builds a command that applies one lifecycle operation to an item.
func itemCmd(use, short string, op func(e *env) func(ctx context.Context, id string) (*priority.Item, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <item-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			it, err := op(e)(cliContext(cmd), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), it)
		},
	}
}

func reviveCmd() *cobra.Command {
	return itemCmd("revive", "Move a submerged or eliminated item back to pending",
		func(e *env) func(ctx context.Context, id string) (*priority.Item, error) { return e.svc.Revive })
}

func respondCmd() *cobra.Command {
	return itemCmd("respond", "Record a response to a surfaced item",
		func(e *env) func(ctx context.Context, id string) (*priority.Item, error) { return e.svc.Respond })
}

func dismissCmd() *cobra.Command {
	return itemCmd("dismiss", "Eliminate an active item by hand",
		func(e *env) func(ctx context.Context, id string) (*priority.Item, error) { return e.svc.Dismiss })
}

func classifyCmd() *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "classify <records.json>",
		Short: "Score and classify raw records without storing them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				now = t
			}

			tuning, err := loadTuning()
			if err != nil {
				return fmt.Errorf("scoring config: %w", err)
			}
			records, err := source.LoadFile(args[0])
			if err != nil {
				return err
			}

			items, errs := classify(records, tuning, now)
			for _, err := range errs {
				fmt.Fprintln(cmd.ErrOrStderr(), "skipped:", err)
			}
			return writeItems(cmd.OutOrStdout(), items)
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "evaluate as of this RFC 3339 time instead of now")
	return cmd
}

// classify normalizes and scores records, most important first.
func classify(records []priority.Raw, tuning priority.Config, now time.Time) ([]*priority.Item, []error) {
	var (
		items []*priority.Item
		errs  []error
	)
	for _, r := range records {
		it, err := priority.Normalize(r, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		priority.Rescore(it, &tuning.Scoring, now)
		items = append(items, it)
	}
	slices.SortFunc(items, priority.ByImportance)
	return items, errs
}

func writeItems(w io.Writer, items []*priority.Item) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "QUADRANT\tTOTAL\tURG\tIMP\tSTATUS\tSOURCE\tTITLE")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%.2f\t%.0f\t%.0f\t%s\t%s/%s\t%s\n",
			it.Quadrant, it.Scores.Total, it.Scores.Urgency, it.Scores.Importance,
			it.Status, it.SourceType, it.SourceID, it.Title)
	}
	return tw.Flush()
}

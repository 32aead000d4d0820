package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lyutobor/OneuiBot-sub000/internal/app"
	"github.com/lyutobor/OneuiBot-sub000/internal/application/engine"
	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
)

const closeTimeout = 30 * time.Second

func newEvaluateCmd() *cobra.Command {
	var (
		userID int64
		chatID int64
		sets   []string
		notify bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run one evaluation pass synchronously and print the report",
		Example: `  achievectl evaluate --user 42 --set phone_purchased=true
  achievectl evaluate --user 42 --chat -1001 --set balance=1500000 --notify`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return errors.New("--user must be a positive id")
			}
			if chatID == 0 {
				chatID = userID
			}
			event, err := parseContext(sets)
			if err != nil {
				return err
			}

			return withApp(cmd, notify, func(a *app.App) error {
				rep := a.Engine.Run(cmd.Context(), userID, chatID, event)
				printReport(cmd.OutOrStdout(), rep)
				if rep.LoadError != nil {
					return rep.LoadError
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "User id")
	cmd.Flags().Int64Var(&chatID, "chat", 0, "Chat id for the announcement (defaults to the user's private chat)")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Event context entry key=value (repeatable)")
	cmd.Flags().BoolVar(&notify, "notify", false, "Announce unlocks through Telegram")
	return cmd
}

func newUnlockedCmd() *cobra.Command {
	var userID int64

	cmd := &cobra.Command{
		Use:   "unlocked",
		Short: "Show a user's unlocked achievements and progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return errors.New("--user must be a positive id")
			}
			return withApp(cmd, false, func(a *app.App) error {
				snap, err := a.Ledger.ListUnlockedAndProgress(cmd.Context(), userID)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "KEY\tSTATE\tDETAIL\tNAME")
				a.Catalog.ForEach(func(_ int, d achievement.Definition) bool {
					if rec, ok := snap.Unlocked[d.Key]; ok {
						fmt.Fprintf(w, "%s\tunlocked\t%s\t%s\n", d.Key, rec.UnlockedAt.Local().Format("2006-01-02 15:04"), d.Display.Name)
					} else if entry, ok := snap.Progress[d.Key]; ok {
						fmt.Fprintf(w, "%s\tprogress\t%s\t%s\n", d.Key, describeProgress(entry.Progress, d.Target), d.Display.Name)
					}
					return true
				})
				return w.Flush()
			})
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "User id")
	return cmd
}

func newAuditCmd() *cobra.Command {
	var (
		userID int64
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the newest audit entries of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return errors.New("--user must be a positive id")
			}
			return withApp(cmd, false, func(a *app.App) error {
				entries, err := a.Audit.ListAudit(cmd.Context(), userID, limit)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "UNLOCKED AT\tKEY\tCHAT\tDELIVERED\tERROR")
				for _, e := range entries {
					fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\n",
						e.UnlockedAt.Local().Format("2006-01-02 15:04:05"), e.Key, e.ChatID, e.Delivered, e.Error)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "User id")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries")
	return cmd
}

func withApp(cmd *cobra.Command, notify bool, fn func(*app.App) error) (err error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := app.New(cmd.Context(), cfg, app.Options{Role: "cli", Notify: notify, Quiet: true})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		err = errors.Join(err, a.Close(ctx))
	}()
	return fn(a)
}

// parseContext turns key=value pairs into an event context. Values become
// bools, numbers, comma-separated string lists or plain strings.
func parseContext(pairs []string) (achievement.EvaluationContext, error) {
	event := achievement.EvaluationContext{}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("--set %q: want key=value", pair)
		}
		event[key] = parseValue(strings.TrimSpace(raw))
	}
	return event, nil
}

func parseValue(raw string) any {
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if strings.Contains(raw, ",") {
		var items []string
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		return items
	}
	return raw
}

func describeProgress(p achievement.Progress, t achievement.Target) string {
	switch {
	case len(p.Keys) > 0 && len(t.Keys) > 0:
		return fmt.Sprintf("%d/%d keys", len(p.Keys), len(t.Keys))
	case len(p.Keys) > 0 && t.HasValue:
		return fmt.Sprintf("%d/%s keys", len(p.Keys), strconv.FormatFloat(t.Value, 'f', -1, 64))
	case t.HasValue:
		return fmt.Sprintf("%d/%s", p.Count, strconv.FormatFloat(t.Value, 'f', -1, 64))
	default:
		return strconv.FormatInt(p.Count, 10)
	}
}

func printReport(out io.Writer, rep *engine.Report) {
	fmt.Fprintf(out, "pass %s  user %d  chat %d  %s in %s\n",
		rep.PassID, rep.UserID, rep.ChatID, rep.State, rep.Duration.Round(time.Millisecond))
	if rep.LoadError != nil {
		fmt.Fprintf(out, "ledger load failed: %v\n", rep.LoadError)
		return
	}
	fmt.Fprintf(out, "evaluated %d, skipped %d, metric fetches %d\n", rep.Evaluated, rep.Skipped, rep.MetricFetches)

	printKeys(out, "unlocked", rep.Unlocked)
	printKeys(out, "already unlocked", rep.Duplicates)
	printKeys(out, "progress", rep.ProgressUpdated)
	printKeys(out, "conflicts", rep.Conflicts)

	if len(rep.Failed) > 0 {
		keys := make([]string, 0, len(rep.Failed))
		for k := range rep.Failed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(out, "failed:")
		for _, k := range keys {
			fmt.Fprintf(out, "  %s: %v\n", k, rep.Failed[k])
		}
	}
}

func printKeys(out io.Writer, label string, keys []string) {
	if len(keys) == 0 {
		return
	}
	fmt.Fprintf(out, "%s: %s\n", label, strings.Join(keys, ", "))
}

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lyutobor/OneuiBot-sub000/internal/application/engine"
	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
	"github.com/lyutobor/OneuiBot-sub000/internal/infrastructure/catalog"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the achievement catalog",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Parse the catalog and report entries the engine would skip",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadCatalog(cmd)
			if err != nil {
				return err
			}
			issues := c.Lint(engine.DefaultRegistry().Types())
			out := cmd.OutOrStdout()
			for _, issue := range issues {
				fmt.Fprintf(out, "%s: %s\n", issue.Key, issue.Message)
			}
			if len(issues) > 0 {
				return fmt.Errorf("%d of %d definitions have problems", len(issues), c.Len())
			}
			fmt.Fprintf(out, "ok: %d definitions\n", c.Len())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List catalog entries in evaluation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadCatalog(cmd)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tKEY\tTYPE\tSOURCE\tTARGET\tNAME")
			c.ForEach(func(i int, d achievement.Definition) bool {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", i+1, d.Key, d.Type, source(d), target(d.Target), d.Display.Name)
				return true
			})
			return w.Flush()
		},
	})

	return cmd
}

// loadCatalog does not need the rest of the configuration.
func loadCatalog(cmd *cobra.Command) (*achievement.Catalog, error) {
	path, _ := cmd.Flags().GetString("catalog")
	if path == "" {
		path = os.Getenv("ACHIEVEMENTS_CATALOG")
	}
	return catalog.LoadPathOrDefault(path)
}

func source(d achievement.Definition) string {
	switch {
	case d.Metric != "" && d.ContextKey != "":
		return string(d.Metric) + "|" + d.ContextKey
	case d.Metric != "":
		return string(d.Metric)
	case d.ContextKey != "":
		return "ctx:" + d.ContextKey
	default:
		return "-"
	}
}

func target(t achievement.Target) string {
	switch {
	case len(t.Keys) > 0:
		return "{" + strings.Join(t.Keys, ",") + "}"
	case t.HasValue:
		return strconv.FormatFloat(t.Value, 'f', -1, 64)
	case t.Flag:
		return "true"
	default:
		return "-"
	}
}

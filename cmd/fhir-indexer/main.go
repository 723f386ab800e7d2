package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehr/fhirindex/internal/domain/terminology"
	"github.com/ehr/fhirindex/internal/platform/db"
	"github.com/ehr/fhirindex/pkg/fhirmodels"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "fhir-indexer",
		Short:        "FHIR search parameter indexer",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reindexCmd())
	rootCmd.AddCommand(purgeCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(indexCmd())
	rootCmd.AddCommand(expandCmd())
	rootCmd.AddCommand(lookupCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the admin HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations and the resource table DDL",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = a.cfg.MigrationsDir
			}
			migrator := db.NewMigrator(a.pool, dir)

			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)

			ddl, err := a.svc.SchemaDDL()
			if err != nil {
				return err
			}
			if err := migrator.ApplyDDL(ctx, ddl); err != nil {
				return fmt.Errorf("resource tables: %w", err)
			}
			fmt.Printf("Applied %d resource table statement(s).\n", len(ddl))
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = a.cfg.MigrationsDir
			}
			statuses, err := db.NewMigrator(a.pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	// migrate ddl
	cmd.AddCommand(&cobra.Command{
		Use:   "ddl",
		Short: "Print the resource table DDL without applying it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ddl, err := offlineDDL(os.Getenv("SEARCH_PARAMS_FILE"), os.Getenv("PROFILES_FILE"))
			if err != nil {
				return err
			}
			for _, stmt := range ddl {
				fmt.Fprintf(cmd.OutOrStdout(), "%s;\n", stmt)
			}
			return nil
		},
	})

	return cmd
}

func reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex [resource-type...]",
		Short: "Rebuild the lookup tables from stored resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.svc.Reindex(ctx, args...)
			if result != nil {
				for _, rt := range sortedKeys(result.Counts) {
					fmt.Printf("%-30s %d\n", rt, result.Counts[rt])
				}
				fmt.Printf("run %s finished in %s\n", result.RunID, result.Duration.Round(time.Millisecond))
			}
			return err
		},
	}
}

func purgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge <resource-type>",
		Short: "Permanently delete resources last updated before a cutoff",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("before")
			before, err := parseBefore(raw, time.Now())
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.svc.PurgeBefore(ctx, args[0], before); err != nil {
				return err
			}
			fmt.Printf("Purged %s last updated before %s.\n", args[0], before.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().String("before", "", "Cutoff as an RFC3339 timestamp or an age such as 720h")
	_ = cmd.MarkFlagRequired("before")
	return cmd
}

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <resource-type>",
		Short: "Show where each search parameter of a resource type is stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			infos, err := a.svc.Classifications(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%-30s %-10s %-8s %-20s %s\n", "CODE", "TYPE", "STRATEGY", "TABLE", "COLUMN")
			for _, p := range infos {
				fmt.Printf("%-30s %-10s %-8s %-20s %s\n", p.Code, p.Type, p.Strategy, p.Table, p.Column)
			}
			return nil
		},
	}
}

func indexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index <file>",
		Short: "Index a resource or every entry of a Bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			resources, err := readResources(f)
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, res := range resources {
				if err := a.svc.IndexResource(ctx, res, false); err != nil {
					return fmt.Errorf("index %s/%s: %w", res.ResourceType(), res.ID(), err)
				}
				fmt.Printf("indexed %s/%s\n", res.ResourceType(), res.ID())
			}
			return nil
		},
	}
}

func expandCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Print a page of a stored ValueSet expansion",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req terminology.ExpandRequest
			req.URL, _ = cmd.Flags().GetString("url")
			req.Filter, _ = cmd.Flags().GetString("filter")
			req.Count, _ = cmd.Flags().GetInt("count")
			req.Offset, _ = cmd.Flags().GetInt("offset")

			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			exp, err := terminology.NewExpander(a.pool).Expand(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), exp)
		},
	}
	cmd.Flags().String("url", "", "Canonical url of the ValueSet or CodeSystem")
	cmd.Flags().String("filter", "", "Case-insensitive code or display filter")
	cmd.Flags().Int("count", terminology.DefaultExpandCount, "Page size")
	cmd.Flags().Int("offset", 0, "Page offset")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func lookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <system> <code>",
		Short: "Print a stored coding and its properties",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := terminology.NewExpander(a.pool).Lookup(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

// parseBefore accepts an RFC3339 timestamp, a bare date, or an age that is
// subtracted from now.
func parseBefore(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("--before is required")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	age, err := time.ParseDuration(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --before %q: want RFC3339 time, date or duration", raw)
	}
	if age <= 0 {
		return time.Time{}, fmt.Errorf("invalid --before %q: duration must be positive", raw)
	}
	return now.Add(-age), nil
}

// readResources decodes one resource, or the entry resources of a Bundle.
func readResources(r io.Reader) ([]fhirmodels.Resource, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	res, err := fhirmodels.ParseResource(data)
	if err != nil {
		return nil, err
	}
	if res.ResourceType() != "Bundle" {
		return []fhirmodels.Resource{res}, nil
	}

	var out []fhirmodels.Resource
	for i, e := range res.Array("entry") {
		inner := fhirmodels.AsObject(fhirmodels.AsObject(e)["resource"])
		if inner == nil {
			continue
		}
		entry := fhirmodels.Resource(inner)
		if entry.ResourceType() == "" {
			return nil, fmt.Errorf("bundle entry %d has no resourceType", i)
		}
		out = append(out, entry)
	}
	return out, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

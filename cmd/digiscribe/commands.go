package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/digiscribe/internal/config"
	"github.com/ehr/digiscribe/internal/domain/coding"
	"github.com/ehr/digiscribe/internal/domain/taxonomy"
	"github.com/ehr/digiscribe/internal/platform/db"
	"github.com/ehr/digiscribe/migrations"
)

// loadCLIConfig reads the configuration for one-shot commands. Auth and TLS
// settings are irrelevant here, so only the taxonomy and engine settings are
// checked.
func loadCLIConfig(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if cmd.Flags().Lookup("source") != nil {
		if src, _ := cmd.Flags().GetString("source"); src != "" {
			cfg.TaxonomySource = src
		}
	}
	if cmd.Flags().Lookup("table") != nil {
		if table, _ := cmd.Flags().GetString("table"); table != "" {
			cfg.TaxonomyTable = table
		}
	}
	if cfg.UsesDatabase() {
		if err := taxonomy.ValidateTable(cfg.TaxonomyTable); err != nil {
			return nil, zerolog.Nop(), err
		}
	}
	// Command output goes to stdout; logs go to stderr and stay quiet unless
	// LOG_LEVEL asks for detail.
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.InfoLevel || level == zerolog.NoLevel {
		level = zerolog.WarnLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	return cfg, logger, nil
}

// withTaxonomy loads the configured taxonomy, opening a pool when the source
// lives in Postgres, and hands the tree to fn.
func withTaxonomy(ctx context.Context, cfg *config.Config, fn func(tree *taxonomy.Tree) error) error {
	var pool *pgxpool.Pool
	if cfg.UsesDatabase() {
		p, err := openPool(ctx, cfg)
		if err != nil {
			return err
		}
		if p != nil {
			pool = p
			defer pool.Close()
		}
	}

	src, err := taxonomySource(cfg, pool)
	if err != nil {
		return err
	}
	tree, err := taxonomy.Load(ctx, src)
	if err != nil {
		return err
	}
	return fn(tree)
}

func codeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "code [note text]",
		Short: "Print the ICD-10 codes for a clinical note (reads stdin when no text is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadCLIConfig(cmd)
			if err != nil {
				return err
			}

			text := strings.Join(args, " ")
			if len(args) == 0 {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read note: %w", err)
				}
				text = string(data)
			}

			opts := coding.Options{}
			opts.MaxPhraseLength, _ = cmd.Flags().GetInt("max-phrase-length")
			opts.MinConfidenceThreshold, _ = cmd.Flags().GetFloat64("threshold")
			opts.MaxResults, _ = cmd.Flags().GetInt("max-results")
			asJSON, _ := cmd.Flags().GetBool("json")

			ctx := context.Background()
			return withTaxonomy(ctx, cfg, func(tree *taxonomy.Tree) error {
				engine, err := coding.NewEngine(tree, cfg.EngineOptions(), logger, coding.WithDescriptions(cfg.IndexDescriptions))
				if err != nil {
					return err
				}
				return runCode(cmd.OutOrStdout(), engine, text, opts, asJSON)
			})
		},
	}
	cmd.Flags().String("source", "", "Taxonomy source (overrides TAXONOMY_SOURCE)")
	cmd.Flags().Int("max-phrase-length", 0, "Longest keyword phrase matched as one unit")
	cmd.Flags().Float64("threshold", 0, "Minimum confidence of a reported code")
	cmd.Flags().Int("max-results", 0, "Maximum number of codes (0 = unlimited)")
	cmd.Flags().Bool("json", false, "Print scored results as JSON")
	return cmd
}

// runCode writes the codes for text: a " , " separated line, or the full
// results as JSON.
func runCode(out io.Writer, engine *coding.Engine, text string, opts coding.Options, asJSON bool) error {
	results, err := engine.GetCodes(text, opts)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(coding.Response{
			Codes:           codeStrings(results),
			Results:         results,
			TaxonomyVersion: engine.Version(),
		})
	}
	_, err = fmt.Fprintln(out, coding.FormatCodes(codeStrings(results)))
	return err
}

func codeStrings(results []coding.CodeResult) []string {
	codes := make([]string, len(results))
	for i, r := range results {
		codes[i] = r.Code
	}
	return codes
}

func taxonomyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taxonomy",
		Short: "Inspect and import ICD-10 taxonomies",
	}

	// taxonomy validate
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load a taxonomy and report whether it is well formed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadCLIConfig(cmd)
			if err != nil {
				return err
			}
			err = withTaxonomy(context.Background(), cfg, func(tree *taxonomy.Tree) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Taxonomy %s is valid.\n", tree.Source())
				printStats(cmd.OutOrStdout(), tree)
				return nil
			})
			if taxonomy.IsLoadError(err) {
				return fmt.Errorf("taxonomy is invalid: %w", err)
			}
			return err
		},
	}
	validateCmd.Flags().String("source", "", "Taxonomy source (overrides TAXONOMY_SOURCE)")
	validateCmd.Flags().String("table", "", "Postgres table for database sources")
	cmd.AddCommand(validateCmd)

	// taxonomy stats
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print node, terminal and keyword counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadCLIConfig(cmd)
			if err != nil {
				return err
			}
			return withTaxonomy(context.Background(), cfg, func(tree *taxonomy.Tree) error {
				printStats(cmd.OutOrStdout(), tree)
				return nil
			})
		},
	}
	statsCmd.Flags().String("source", "", "Taxonomy source (overrides TAXONOMY_SOURCE)")
	statsCmd.Flags().String("table", "", "Postgres table for database sources")
	cmd.AddCommand(statsCmd)

	// taxonomy import
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Validate a taxonomy file and replace the Postgres table with it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadCLIConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.UsesDatabase() {
				return fmt.Errorf("--source must be a file or %q, got %q", taxonomy.SourceBuiltin, cfg.TaxonomySource)
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for taxonomy import")
			}
			if err := taxonomy.ValidateTable(cfg.TaxonomyTable); err != nil {
				return err
			}
			src, err := taxonomy.OpenFile(cfg.TaxonomySource)
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			repo, err := taxonomy.NewRepoPG(pool, cfg.TaxonomyTable)
			if err != nil {
				return err
			}
			tree, n, err := taxonomy.Import(ctx, src, repo)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d row(s) from %s into %s (version %s).\n",
				n, src.Name(), cfg.TaxonomyTable, tree.Version())
			return nil
		},
	}
	importCmd.Flags().String("source", "", "Taxonomy file to import (csv, yaml, json, xml or builtin)")
	importCmd.Flags().String("table", "", "Target Postgres table (overrides TAXONOMY_TABLE)")
	_ = importCmd.MarkFlagRequired("source")
	cmd.AddCommand(importCmd)

	return cmd
}

func printStats(out io.Writer, tree *taxonomy.Tree) {
	s := tree.Stats()
	fmt.Fprintf(out, "%-12s %s\n", "SOURCE", tree.Source())
	fmt.Fprintf(out, "%-12s %s\n", "VERSION", s.Version)
	fmt.Fprintf(out, "%-12s %d\n", "NODES", s.Nodes)
	fmt.Fprintf(out, "%-12s %d\n", "TERMINALS", s.Terminals)
	fmt.Fprintf(out, "%-12s %d\n", "KEYWORDS", s.Keywords)
	fmt.Fprintf(out, "%-12s %d\n", "MAX DEPTH", s.MaxDepth)
}

// migrationsFS returns dir as a file system, or the embedded migrations when
// dir is empty.
func migrationsFS(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrations")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationsFS(dir))
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "public", "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Migrations directory (default: embedded migrations)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrations")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationsFS(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("schema", "public", "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Migrations directory (default: embedded migrations)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(out io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

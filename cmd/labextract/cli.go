package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/labextract/labextract/internal/config"
	"github.com/labextract/labextract/internal/domain/labreport"
	"github.com/labextract/labextract/internal/platform/db"
	"github.com/labextract/labextract/internal/platform/fhir"
	"github.com/labextract/labextract/internal/platform/labparse"
	"github.com/labextract/labextract/internal/platform/textsource"
	"github.com/labextract/labextract/migrations"
)

// offlineService builds a service without a store for the local commands.
func offlineService() (*labreport.Service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	engine, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}
	svc := labreport.NewService(nil, engine, zerolog.Nop())
	svc.SetHL7(cfg.ORUOptions(), nil)
	return svc, nil
}

func readDocument(path string) (*textsource.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &textsource.Document{
		Name:        filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Data:        data,
	}, nil
}

func parseFile(ctx context.Context, svc *labreport.Service, path, lab string) (labparse.ReportResult, error) {
	doc, err := readDocument(path)
	if err != nil {
		return labparse.ReportResult{}, err
	}
	return svc.Parse(ctx, labreport.ParseInput{Document: doc, Laboratory: lab})
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// writeResult prints result in format: json, rows, fhir or hl7.
func writeResult(w io.Writer, svc *labreport.Service, result labparse.ReportResult, format string) error {
	switch format {
	case "", "json":
		return writeJSON(w, result)
	case "rows":
		return writeJSON(w, labparse.ImportRows(result))
	case "fhir":
		bundle, err := fhir.ReportBundle(uuid.New(), result)
		if err != nil {
			return err
		}
		return writeJSON(w, bundle)
	case "hl7":
		msg := svc.RenderHL7(uuid.New(), result)
		for i, b := range msg {
			if b == '\r' {
				msg[i] = '\n'
			}
		}
		_, err := w.Write(msg)
		return err
	default:
		return fmt.Errorf("unknown format %q (want json, rows, fhir or hl7)", format)
	}
}

func parseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse FILE",
		Short: "Extract a PDF, HTML or text report to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lab, _ := cmd.Flags().GetString("lab")
			format, _ := cmd.Flags().GetString("format")

			svc, err := offlineService()
			if err != nil {
				return err
			}
			result, err := parseFile(cmd.Context(), svc, args[0], lab)
			if err != nil {
				return err
			}
			for _, w := range result.Warnings {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
			}
			return writeResult(cmd.OutOrStdout(), svc, result, format)
		},
	}
	cmd.Flags().String("lab", "", "Laboratory key (detected when empty)")
	cmd.Flags().String("format", "json", "Output format: json, rows, fhir or hl7")
	return cmd
}

func labsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "labs",
		Short: "List the supported laboratories",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := offlineService()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tNAME\tFORMAT\tDESCRIPTION")
			for _, lab := range svc.Laboratories() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", lab.Key, lab.Name, lab.Format, lab.Description)
			}
			return tw.Flush()
		},
	}
}

func compareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare PREVIOUS CURRENT",
		Short: "Compare the analytes of two reports",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lab, _ := cmd.Flags().GetString("lab")

			svc, err := offlineService()
			if err != nil {
				return err
			}
			prev, err := parseFile(cmd.Context(), svc, args[0], lab)
			if err != nil {
				return err
			}
			cur, err := parseFile(cmd.Context(), svc, args[1], lab)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), labparse.Compare(prev.Records, cur.Records))
		},
	}
	cmd.Flags().String("lab", "", "Laboratory key for both reports (detected when empty)")
	return cmd
}

// migrationSource returns the embedded migrations unless dir is set.
func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run PostgreSQL migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationSource(dir))
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
	upCmd.Flags().String("dir", "", "Migrations directory (embedded migrations when empty)")
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
				return fmt.Errorf("DATABASE_URL is required")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationSource(dir))
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
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
			return nil
		},
	}
	statusCmd.Flags().String("schema", "public", "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Migrations directory (embedded migrations when empty)")
	cmd.AddCommand(statusCmd)

	return cmd
}

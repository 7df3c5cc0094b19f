package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/salus/internal/config"
)

func newMigrateCmd() *cobra.Command {
	var (
		configPath string
		dir        string
	)

	cmd := &cobra.Command{
		Use:   "migrate [up|down]",
		Short: "Aplica las migraciones SQL (sólo driver postgres)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "up"
			if len(args) == 1 {
				action = strings.ToLower(args[0])
			}
			return runMigrate(cmd.Context(), configPath, dir, action)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path al YAML de configuración")
	cmd.Flags().StringVar(&dir, "dir", "migrations/postgres", "directorio con *_up.sql y *_down.sql")
	return cmd
}

func runMigrate(ctx context.Context, configPath, dir, action string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("cargar config: %w", err)
	}
	if cfg.Storage.DSN == "" {
		return fmt.Errorf("migrate: storage.dsn vacío (¿driver memory?)")
	}

	pool, err := pgxpool.New(ctx, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("pgxpool: %w", err)
	}
	defer pool.Close()

	var suffix string
	switch action {
	case "up":
		suffix = "_up.sql"
	case "down":
		suffix = "_down.sql"
	default:
		return fmt.Errorf("migrate: acción desconocida %q", action)
	}

	files, err := listSQL(dir, suffix)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("sin migraciones que aplicar")
		return nil
	}

	sort.Strings(files)
	if action == "down" {
		// down corre en orden inverso
		for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
			files[i], files[j] = files[j], files[i]
		}
	}

	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("leer %s: %w", f, err)
		}
		if _, err := pool.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("ejecutar %s: %w", f, err)
		}
		fmt.Println("aplicada:", filepath.Base(f))
	}
	return nil
}

func listSQL(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("leer %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}

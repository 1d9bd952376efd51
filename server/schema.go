package main

import (
	"fmt"

	"github.com/meikuraledutech/flowchain/config"
	"github.com/meikuraledutech/flowchain/postgres"
	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Manage the PostgreSQL schema",
}

var schemaCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the artifact, link and layout tables if missing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, done, err := openSchemaStore(cmd)
		if err != nil {
			return err
		}
		defer done()
		if err := store.CreateSchema(cmd.Context()); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema created")
		return nil
	},
}

var schemaDropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Drop every flowchain table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, done, err := openSchemaStore(cmd)
		if err != nil {
			return err
		}
		defer done()
		if err := store.DropSchema(cmd.Context()); err != nil {
			return fmt.Errorf("drop schema: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema dropped")
		return nil
	},
}

func init() {
	schemaCmd.AddCommand(schemaCreateCmd)
	schemaCmd.AddCommand(schemaDropCmd)
}

func openSchemaStore(cmd *cobra.Command) (*postgres.PGStore, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.Driver != "postgres" {
		return nil, nil, fmt.Errorf("schema commands need database.driver postgres, got %q", cfg.Database.Driver)
	}
	pool, err := postgres.Connect(cmd.Context(), cfg.Database.URL, 1)
	if err != nil {
		return nil, nil, err
	}
	return postgres.New(pool), pool.Close, nil
}

// Command migrate-gen generates SQL migration files for the configsync tables.
//
// Usage:
//
//	go run github.com/getpup/configsync/cmd/migrate-gen -output migrations -filename init.sql
//
// Or with go generate:
//
//	//go:generate go run github.com/getpup/configsync/cmd/migrate-gen -output migrations
//
// Generate migrations for different database adapters:
//
//	go run github.com/getpup/configsync/cmd/migrate-gen -adapter postgres -output migrations
//	go run github.com/getpup/configsync/cmd/migrate-gen -adapter mysql -output migrations
//	go run github.com/getpup/configsync/cmd/migrate-gen -adapter sqlite -output migrations
//
// Customize table names:
//
//	go run github.com/getpup/configsync/cmd/migrate-gen -actions-table app_actions -counters-table app_counters
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/getpup/configsync/pkg/migrations"
)

func main() {
	defaults := migrations.DefaultTables()
	var (
		adapter           = flag.String("adapter", "postgres", "Database adapter: postgres, mysql, or sqlite")
		outputFolder      = flag.String("output", "migrations", "Output folder for migration file")
		outputFilename    = flag.String("filename", "", "Output filename (default: timestamp-based)")
		actionsTable      = flag.String("actions-table", defaults.Actions, "Name of the actions table")
		alternativesTable = flag.String("alternatives-table", defaults.Alternatives, "Name of the alternatives table")
		profilesTable     = flag.String("profiles-table", defaults.Profiles, "Name of the profiles table")
		countersTable     = flag.String("counters-table", defaults.Counters, "Name of the counters table")
	)

	flag.Parse()

	dialect, err := migrations.ParseDialect(*adapter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	config := migrations.DefaultConfig()
	config.OutputFolder = *outputFolder
	config.Tables = migrations.Tables{
		Actions:      *actionsTable,
		Alternatives: *alternativesTable,
		Profiles:     *profilesTable,
		Counters:     *countersTable,
	}

	if *outputFilename != "" {
		config.OutputFilename = *outputFilename
	}

	if err := migrations.Generate(dialect, &config); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s migration: %s/%s\n", dialect, config.OutputFolder, config.OutputFilename)
}

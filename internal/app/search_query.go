package app

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"horse.fit/marketpulse/internal/catalog"
	"horse.fit/marketpulse/internal/cli"
	"horse.fit/marketpulse/internal/config"
)

func runSearchQuery(args []string) int {
	fs := flag.NewFlagSet("search-query", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	catalogPath := fs.String("catalog", "", "Instrument catalog YAML; defaults to CATALOG_PATH or the built-in catalog")
	list := fs.Bool("list", false, "List instruments instead of printing the query")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	loadEnv(envLoader)
	cfg, err := config.LoadOffline()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	path := cfg.CatalogPath
	if *catalogPath != "" {
		path = *catalogPath
	}

	cat, err := catalog.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load catalog: %v\n", err)
		return 1
	}
	if err := writeSearchQuery(os.Stdout, cat, *list); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write output: %v\n", err)
		return 1
	}
	return 0
}

func writeSearchQuery(w io.Writer, cat *catalog.Catalog, list bool) error {
	if !list {
		_, err := fmt.Fprintln(w, cat.SearchQuery())
		return err
	}

	instruments := cat.Instruments()
	rows := make([][]string, 0, len(instruments))
	for _, inst := range instruments {
		rows = append(rows, []string{inst.Symbol, inst.Region, fmt.Sprintf("%d", len(inst.Aliases))})
	}
	return writeTable(w, []string{"symbol", "region", "aliases"}, rows)
}

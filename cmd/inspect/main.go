package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/documind/targetopt/internal/archive"
	"github.com/documind/targetopt/internal/config"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to targetopt.db")
	limit := flag.Int("limit", 20, "show N most recent best practices")
	profile := flag.String("profile", "", "filter to one target profile")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/targetopt.db [--limit N] [--profile name] [--json]")
		os.Exit(2)
	}

	db, err := archive.OpenDB(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	store, err := archive.NewStore(db, nil, config.Default())
	if err != nil {
		fmt.Fprintf(os.Stderr, "init store: %v\n", err)
		os.Exit(1)
	}

	records, err := store.List(*profile, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stderr, "no best practices found")
		return
	}

	if *jsonOut {
		if err := printJSON(records); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	printTable(records)
}

// #endregion main

// #region output

func printTable(records []archive.Record) {
	fmt.Printf("%-10s  %5s  %-12s  %-40s  %s\n",
		"ID", "Score", "Profile", "Rewritten (head)", "Created")
	fmt.Printf("%-10s+-%5s+-%-12s+-%-40s+-%s\n",
		"----------", "-----", "------------", strings.Repeat("-", 40), "--------------------")

	for _, r := range records {
		fmt.Printf("%-10s  %5d  %-12s  %-40s  %s\n",
			shortID(r.ID), r.Score, r.TargetProfile,
			head(r.RewrittenText, 40),
			r.CreatedAt.Format("2006-01-02T15:04:05Z"))
	}
	fmt.Printf("\n%d record(s)\n", len(records))
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func head(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output

// stats prints the earliest painted pixel and a per-user ranking from the
// persisted board.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/Nikaidou-Shinku/yur-paintboard/internal/store"
)

func main() {
	dbPath := flag.String("db", "./data.db", "path to the SQLite database")
	flag.Parse()

	if err := run(*dbPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(dbPath string) error {
	ctx := context.Background()

	db, err := store.Open(ctx, dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.LoadBoard(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("The board is empty.")
		return nil
	}

	earliest := rows[0]
	counts := make(map[int64]int)
	for _, r := range rows {
		if r.Time.Before(earliest.Time) {
			earliest = r
		}
		counts[r.UID]++
	}

	fmt.Printf("The earliest pixel: (%d,%d) %s uid=%d at %s\n",
		earliest.X, earliest.Y, earliest.Color, earliest.UID, earliest.Time)

	type entry struct {
		uid int64
		n   int
	}
	ranking := make([]entry, 0, len(counts))
	for uid, n := range counts {
		ranking = append(ranking, entry{uid, n})
	}
	sort.Slice(ranking, func(i, j int) bool { return ranking[i].n > ranking[j].n })

	fmt.Println("Ranking:")
	for _, e := range ranking {
		fmt.Printf("UID: %d, Number of pixels: %d\n", e.uid, e.n)
	}

	return nil
}

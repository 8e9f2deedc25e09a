// setup seeds the board table with a uniform color so a fresh database
// starts with every cell present.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Nikaidou-Shinku/yur-paintboard/internal/pixel"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/store"
)

func main() {
	var (
		dbPath = flag.String("db", "./data.db", "path to the SQLite database")
		color  = flag.String("color", "#FFFFFF", "initial color for every cell")
		width  = flag.Int("width", 1000, "canvas width")
		height = flag.Int("height", 600, "canvas height")
		chunk  = flag.Int("chunk", 600, "cells per insert")
	)
	flag.Parse()

	if err := run(*dbPath, *color, *width, *height, *chunk); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(dbPath, color string, width, height, chunk int) error {
	c, err := pixel.HexToColor(color)
	if err != nil {
		return err
	}
	hex := c.Hex()

	ctx := context.Background()

	db, err := store.Open(ctx, dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Init(ctx); err != nil {
		return err
	}

	now := time.Now()

	batch := make([]store.BoardRow, 0, chunk)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := db.UpsertCells(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			batch = append(batch, store.BoardRow{X: x, Y: y, Color: hex, UID: -1, Time: now})
			if len(batch) == chunk {
				if err := flush(); err != nil {
					return fmt.Errorf("column %d: %w", x, err)
				}
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	fmt.Printf("seeded %d cells with %s\n", width*height, hex)
	return nil
}

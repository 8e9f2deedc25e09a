// saveimg exports the persisted board as a PNG image.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/Nikaidou-Shinku/yur-paintboard/internal/pixel"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/store"
)

func main() {
	var (
		dbPath = flag.String("db", "./data.db", "path to the SQLite database")
		output = flag.String("output", "result.png", "output image file")
		width  = flag.Int("width", 1000, "canvas width")
		height = flag.Int("height", 600, "canvas height")
	)
	flag.Parse()

	if err := run(*dbPath, *output, *width, *height); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(dbPath, output string, width, height int) error {
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

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for _, r := range rows {
		if r.X < 0 || r.X >= width || r.Y < 0 || r.Y >= height {
			continue
		}
		c, err := pixel.HexToColor(r.Color)
		if err != nil {
			return fmt.Errorf("cell (%d,%d): %w", r.X, r.Y, err)
		}
		img.Set(r.X, r.Y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 255})
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return err
	}

	fmt.Printf("wrote %s (%d cells)\n", output, len(rows))
	return nil
}

// Package snapshot serializes the full canvas into the compressed form
// sent in Snapshot frames.
package snapshot

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/Nikaidou-Shinku/yur-paintboard/internal/canvas"
)

// Encoder compresses canvas snapshots at a fixed zstd level.
type Encoder struct {
	enc *zstd.Encoder
}

// NewEncoder creates an encoder. Level follows zstd's native scale
// (reference 19 for on-demand snapshots).
func NewEncoder(level int) (*Encoder, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	return &Encoder{enc: enc}, nil
}

// Raw serializes the canvas as W*H*3 bytes, three bytes (R, G, B) per cell
// in lexicographic (x, y) order. Each cell is read atomically; the walk may
// interleave with concurrent paints.
func Raw(c *canvas.Canvas) []byte {
	buf := make([]byte, 0, c.Width()*c.Height()*3)

	c.Range(func(_, _ uint16, cell canvas.Cell) bool {
		buf = append(buf, cell.Color.R, cell.Color.G, cell.Color.B)
		return true
	})

	return buf
}

// Encode returns the zstd-compressed snapshot body.
func (e *Encoder) Encode(c *canvas.Canvas) []byte {
	return e.enc.EncodeAll(Raw(c), nil)
}

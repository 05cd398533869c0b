package alarm

import (
	"context"
	"fmt"
	"io"
)

// BellPlayer rings the terminal bell on w
type BellPlayer struct {
	w io.Writer
}

// NewBellPlayer creates a player writing to w
func NewBellPlayer(w io.Writer) *BellPlayer {
	return &BellPlayer{w: w}
}

func (b *BellPlayer) Play(_ context.Context, category Category) error {
	_, err := fmt.Fprintf(b.w, "\a[%s]\n", category)
	return err
}

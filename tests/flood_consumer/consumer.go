package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"

	"github.com/gx1727/mi7soft/mi7"
)

func main() {
	name := flag.String("name", "mi7_flood", "queue name")
	capacity := flag.Int("cap", 1024, "slot count")
	slotSize := flag.Int("slot", 256, "slot size")
	flag.Parse()

	q, err := mi7.Create(*name, *capacity, *slotSize, mi7.OptReplace())
	if err != nil {
		panic(err)
	}
	defer q.CloseAndUnlink()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	data := make([]byte, 100)
	fmt.Printf("start consumer with name=%s, geometry=%s\n", *name, q.Geometry())
	received := 0
	for {
		m, err := q.Receive(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, os.ErrClosed) {
			break
		}
		if err != nil {
			panic(err)
		}
		if !slices.Equal(data, m.Data) {
			panic(fmt.Sprintf("data mismatch: %v", m.Data))
		}
		received++
	}
	fmt.Printf("consumer closed after %d messages\n", received)
}

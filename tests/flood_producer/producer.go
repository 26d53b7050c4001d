package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gx1727/mi7soft/mi7"
)

func report(n, waitCount int, waitTime, elapsed time.Duration) {
	fmt.Printf("wait count=%d %.3f%% time=%.3f s\n",
		waitCount, float64(waitCount)*100.0/float64(n), waitTime.Seconds())
	fmt.Printf("Elapsed time: %.3f s/%d op, %.2f op/s, %d ns/op\n",
		elapsed.Seconds(), n,
		float64(n)/elapsed.Seconds(),
		elapsed.Nanoseconds()/int64(n))
}

func main() {
	name := flag.String("name", "mi7_flood", "queue name")
	count := flag.Int("count", 1000000, "number of messages")
	flag.Parse()

	q, err := mi7.Connect(*name)
	if err != nil {
		panic(err)
	}
	defer q.Close()

	msg := &mi7.Message{Data: make([]byte, 100)}

	n := *count
	fmt.Printf("start producer with name=%s, count=%d\n", *name, n)
	before := time.Now()
	waitCount, waitTime := 0, time.Duration(0)
	for i := 0; i < n; i++ {
		err := q.Send(msg)
		if errors.Is(err, mi7.ErrQueueFull) {
			waitCount++
			start := time.Now()
			err = q.SendContext(context.Background(), msg)
			waitTime += time.Since(start)
		}
		if errors.Is(err, os.ErrClosed) {
			break
		}
		if err != nil {
			panic(err)
		}

		if i > 0 && i%500000 == 0 {
			report(i, waitCount, waitTime, time.Since(before))
		}
	}
	report(n, waitCount, waitTime, time.Since(before))
}

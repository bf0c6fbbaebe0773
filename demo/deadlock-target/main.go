// Command deadlock-target is a sample hangfuzz target: two workers settle
// matches between players by locking both players' scores, but they take
// the locks in opposite order. Most runs finish and print the total; a few
// interleave badly and hang forever.
//
//	go build -o job ./demo/deadlock-target && hangfuzz run --iterations 200 -- ./job
package main

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

const players = 4

type score struct {
	mu     sync.Mutex
	points int
}

func main() {
	table := make([]*score, players)
	for i := range table {
		table[i] = &score{points: 1000}
	}

	// A pending timer keeps the runtime's "all goroutines are asleep"
	// detector quiet, so a lock cycle hangs like it would in a real service
	// instead of crashing.
	go func() {
		for {
			time.Sleep(time.Hour)
		}
	}()

	var wg sync.WaitGroup
	settle := func(winner, loser int) {
		defer wg.Done()
		time.Sleep(time.Duration(rand.Intn(200)) * time.Microsecond)

		table[winner].mu.Lock()
		// widen the window between the two acquisitions
		time.Sleep(time.Duration(rand.Intn(50)) * time.Microsecond)
		table[loser].mu.Lock()

		table[winner].points += 10
		table[loser].points -= 10

		table[loser].mu.Unlock()
		table[winner].mu.Unlock()
	}

	wg.Add(2)
	go settle(0, 1)
	go settle(1, 0)
	wg.Wait()

	total := 0
	for _, s := range table {
		total += s.points
	}
	fmt.Printf("OK %d\n", total)
}

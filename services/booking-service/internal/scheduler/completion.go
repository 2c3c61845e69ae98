package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Completer is satisfied by *service.BookingSvc.
type Completer interface {
	CompleteElapsed(ctx context.Context, limit int) (int, error)
}

const batchSize = 200

// StartCompletionSweeper moves PAID bookings whose session has ended to
// COMPLETED on the given cron schedule. Stop the returned cron to halt it.
func StartCompletionSweeper(svc Completer, schedule string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(schedule, func() { Sweep(context.Background(), svc) }); err != nil {
		return nil, err
	}
	log.Printf("[sweeper] started schedule=%q", schedule)
	c.Start()
	return c, nil
}

// Sweep drains elapsed bookings in batches until a batch comes back short.
func Sweep(ctx context.Context, svc Completer) int {
	ctx, cancel := context.WithTimeout(ctx, 4*time.Minute)
	defer cancel()
	total := 0
	for {
		n, err := svc.CompleteElapsed(ctx, batchSize)
		total += n
		if err != nil {
			log.Printf("[sweeper] error after %d completions: %v", total, err)
			return total
		}
		if n < batchSize {
			break
		}
	}
	if total > 0 {
		log.Printf("[sweeper] completed=%d", total)
	}
	return total
}

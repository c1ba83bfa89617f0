package engine

import (
	"context"
	"sync"
	"time"

	"riskengine/internal/cache"
	"riskengine/internal/logger"
)

// Queue is the pull-based event source. Pop blocks until a payload is
// available or the context is done; a nil payload means the poll timed
// out and the caller should poll again. At-least-once delivery is
// assumed.
type Queue interface {
	Pop(ctx context.Context) ([]byte, error)
	Close() error
}

// Pipeline fans incoming events out to independent workers, each running
// the orchestrator end to end. No ordering is guaranteed between events;
// same-key velocity consistency is eventual by design.
type Pipeline struct {
	queue        Queue
	orch         *Orchestrator
	cache        *cache.Cache
	workers      int
	eventTimeout time.Duration
}

// NewPipeline creates a pipeline.
func NewPipeline(queue Queue, orch *Orchestrator, c *cache.Cache, workers int, eventTimeout time.Duration) *Pipeline {
	if workers <= 0 {
		workers = 8
	}
	if eventTimeout <= 0 {
		eventTimeout = 30 * time.Second
	}
	return &Pipeline{
		queue:        queue,
		orch:         orch,
		cache:        c,
		workers:      workers,
		eventTimeout: eventTimeout,
	}
}

// Run consumes events until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	logger.Infof("Evaluation pipeline started (workers=%d)", p.workers)

	msgCh := make(chan []byte, p.workers*4)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.readLoop(ctx, msgCh)
		close(msgCh)
	}()

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.workerLoop(ctx, msgCh)
		}()
	}

	if p.cache != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.sweepLoop(ctx)
		}()
	}

	wg.Wait()
	return ctx.Err()
}

// Close releases queue resources.
func (p *Pipeline) Close() error {
	if p.queue != nil {
		return p.queue.Close()
	}
	return nil
}

func (p *Pipeline) readLoop(ctx context.Context, out chan<- []byte) {
	for {
		payload, err := p.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Failed to pop event: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if payload == nil {
			continue
		}
		select {
		case out <- payload:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) workerLoop(ctx context.Context, in <-chan []byte) {
	for payload := range in {
		// The per-event deadline must stay below the queue's visibility
		// timeout so retries never cause a duplicate redelivery.
		evCtx, cancel := context.WithTimeout(ctx, p.eventTimeout)
		if _, err := p.orch.Process(evCtx, payload); err != nil {
			logger.Errorf("Event processing failed: %v", err)
		}
		cancel()
	}
}

func (p *Pipeline) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cache.Sweep()
		}
	}
}

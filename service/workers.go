package service

import (
	"context"
	"errors"
	"sync"

	"github.com/creativespaces/mirrify/logger"
	"github.com/creativespaces/mirrify/models"
)

var (
	ErrQueueFull   = errors.New("normalization queue is full")
	ErrPoolStopped = errors.New("normalization pool is stopped")
)

// Normalizer turns an uploaded asset into its normalized form. It never fails;
// a degraded result is tagged passthrough.
type Normalizer interface {
	Normalize(ctx context.Context, asset models.ImageAsset, req models.NormalizationRequest) models.NormalizationResult
}

// NormalizeJob is one queued normalization. Start is called when a worker picks
// the job up and may return false to skip it (e.g. the slot was removed). Done
// receives the result.
type NormalizeJob struct {
	Key     string
	Asset   models.ImageAsset
	Request models.NormalizationRequest
	Start   func() bool
	Done    func(models.NormalizationResult)
}

// NormalizePool runs normalization jobs on a fixed number of workers fed by a
// bounded queue.
type NormalizePool struct {
	jobs       chan NormalizeJob
	normalizer Normalizer
	wg         sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
	pending map[string]bool
}

// NewNormalizePool starts numWorkers workers reading from a queue of queueSize.
func NewNormalizePool(normalizer Normalizer, queueSize, numWorkers int) *NormalizePool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}

	p := &NormalizePool{
		jobs:       make(chan NormalizeJob, queueSize),
		normalizer: normalizer,
		pending:    make(map[string]bool),
	}

	p.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go p.worker(i)
	}
	logger.Info().Int("workers", numWorkers).Int("queue_size", queueSize).Msg("workers: normalization pool started")

	return p
}

func (p *NormalizePool) worker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.process(id, job)
		p.mu.Lock()
		delete(p.pending, job.Key)
		p.mu.Unlock()
	}
	logger.Debug().Int("worker", id).Msg("workers: queue closed, worker stopping")
}

func (p *NormalizePool) process(id int, job NormalizeJob) {
	if job.Start != nil && !job.Start() {
		logger.Debug().Int("worker", id).Str("key", job.Key).Msg("workers: job no longer wanted, skipping")
		return
	}
	logger.Debug().Int("worker", id).Str("key", job.Key).Msg("workers: processing job")

	res := p.normalizer.Normalize(context.Background(), job.Asset, job.Request)
	if job.Done != nil {
		job.Done(res)
	}
}

// Submit queues job without blocking. It fails with ErrQueueFull when the
// queue has no room and ErrPoolStopped after Stop.
func (p *NormalizePool) Submit(job NormalizeJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolStopped
	}
	if job.Key != "" && p.pending[job.Key] {
		return nil
	}

	select {
	case p.jobs <- job:
		if job.Key != "" {
			p.pending[job.Key] = true
		}
		return nil
	default:
		logger.Warn().Str("key", job.Key).Int("queue_size", cap(p.jobs)).Msg("workers: queue full, job rejected")
		return ErrQueueFull
	}
}

// Pending returns the number of queued or running jobs.
func (p *NormalizePool) Pending() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.pending)
}

// Stop rejects new jobs, lets the workers drain the queue and waits for them.
func (p *NormalizePool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	logger.Info().Msg("workers: stopping normalization pool")
	p.wg.Wait()
	logger.Info().Msg("workers: all normalization workers stopped")
}

package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"perfeval-dashboard/internal/metrics"
	"perfeval-dashboard/internal/models"
)

const (
	defaultMaxAttempts = 3
	shutdownMessage    = "export cancelled by shutdown"
)

// Downloader fetches one report and returns where it was stored.
type Downloader interface {
	Download(ctx context.Context, job *models.ExportJob) (path string, pages int, err error)
}

// Pool drains the export queue and reports every finished job through onDone.
type Pool struct {
	queue       Queue
	downloader  Downloader
	recorder    *metrics.Recorder
	onDone      func(models.ExportOutcome)
	workerCount int
	backoffBase time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	retryMu sync.Mutex
	retries map[*models.ExportJob]*time.Timer
}

func NewPool(queue Queue, downloader Downloader, recorder *metrics.Recorder, onDone func(models.ExportOutcome), workerCount int) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if onDone == nil {
		onDone = func(models.ExportOutcome) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		queue:       queue,
		downloader:  downloader,
		recorder:    recorder,
		onDone:      onDone,
		workerCount: workerCount,
		backoffBase: time.Second,
		ctx:         ctx,
		cancel:      cancel,
		stopChan:    make(chan struct{}),
		retries:     make(map[*models.ExportJob]*time.Timer),
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	log.Printf("[Export Worker] Started %d worker goroutines", p.workerCount)
}

// Stop signals the workers and waits for the current downloads to end.
// Jobs still waiting out a retry backoff are reported as failed.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		p.cancel()

		p.retryMu.Lock()
		pending := p.retries
		p.retries = make(map[*models.ExportJob]*time.Timer)
		p.retryMu.Unlock()

		for job, timer := range pending {
			if timer.Stop() {
				log.Printf("[Export Worker] Report %s dropped from retry by shutdown", job.ID)
				p.fail(job, shutdownMessage)
				p.wg.Done()
			}
		}
		p.wg.Wait()
	})
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopChan:
			log.Printf("[Export Worker] Worker %d shutting down", id)
			return
		default:
		}

		job, err := p.queue.Pop(p.ctx)
		if err != nil {
			if p.ctx.Err() != nil {
				continue
			}
			log.Printf("[Export Worker] Worker %d: dequeue failed: %v", id, err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		log.Printf("[Export Worker] Worker %d: downloading report %s (attempt %d)", id, job.ID, job.RetryCount+1)
		path, pages, err := p.downloader.Download(p.ctx, job)
		if err != nil {
			p.handleFailure(job, err)
			continue
		}
		p.handleSuccess(job, path, pages)
	}
}

func (p *Pool) handleSuccess(job *models.ExportJob, path string, pages int) {
	now := time.Now()
	log.Printf("[Export Worker] Report %s saved to %s (%d pages)", job.ID, path, pages)
	p.recorder.IncExport("completed")
	p.onDone(models.ExportOutcome{
		JobID:       job.ID,
		Status:      "completed",
		Path:        path,
		Pages:       pages,
		Attempts:    job.RetryCount + 1,
		CompletedAt: &now,
	})
}

func (p *Pool) handleFailure(job *models.ExportJob, err error) {
	job.RetryCount++
	errMsg := err.Error()

	maxAttempts := job.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	if job.RetryCount < maxAttempts && p.ctx.Err() == nil {
		log.Printf("[Export Worker] Report %s failed (attempt %d): %s, retrying", job.ID, job.RetryCount, errMsg)
		backoff := time.Duration(1<<uint(job.RetryCount-1)) * p.backoffBase
		retry := *job
		p.wg.Add(1)
		p.retryMu.Lock()
		p.retries[&retry] = time.AfterFunc(backoff, func() { p.requeue(&retry) })
		p.retryMu.Unlock()
		return
	}

	log.Printf("[Export Worker] Report %s failed permanently: %s", job.ID, errMsg)
	p.fail(job, errMsg)
}

func (p *Pool) requeue(job *models.ExportJob) {
	defer p.wg.Done()

	p.retryMu.Lock()
	delete(p.retries, job)
	p.retryMu.Unlock()

	if p.ctx.Err() != nil {
		p.fail(job, shutdownMessage)
		return
	}
	if err := p.queue.Push(p.ctx, job); err != nil {
		log.Printf("[Export Worker] Failed to requeue report %s: %v", job.ID, err)
		p.fail(job, err.Error())
	}
}

// pendingRetries reports how many jobs are waiting out a backoff.
func (p *Pool) pendingRetries() int {
	p.retryMu.Lock()
	defer p.retryMu.Unlock()
	return len(p.retries)
}

func (p *Pool) fail(job *models.ExportJob, errMsg string) {
	now := time.Now()
	p.recorder.IncExport("failed")
	p.onDone(models.ExportOutcome{
		JobID:        job.ID,
		Status:       "failed",
		Attempts:     job.RetryCount,
		ErrorMessage: &errMsg,
		CompletedAt:  &now,
	})
}

package services

import (
	"context"
	"log"
	"sync"

	"collab-engine/internal/models"
)

/*
ARCHIVER WORKER POOL

Session mutations are synchronous and in-memory; the durable archive is a
side effect that must never block the next operation on the session. So the
engine hands stamped changes and comments to this pool through a bounded
queue and moves on.

The queue is best effort: when it fills, the job is dropped with a log line
rather than applying backpressure to the editing path. The archive is a
mirror, not the source of truth.
*/

// HistoryRepository is what the archiver needs from the persistence layer.
// The implementation lives in internal/repository; the interface lives here,
// with its consumer.
type HistoryRepository interface {
	SaveChange(ctx context.Context, sessionID string, change models.Change) error
	SaveComment(ctx context.Context, comment models.Comment) error
	SaveReply(ctx context.Context, parent models.Comment, reply models.Reply) error
}

// archiveJob carries exactly one of change, comment, or reply.
type archiveJob struct {
	sessionID string
	change    *models.Change
	comment   *models.Comment
	parent    *models.Comment
	reply     *models.Reply
}

// Archiver drains archive jobs into the history repository with a fixed
// worker pool.
type Archiver struct {
	repo    HistoryRepository
	jobs    chan archiveJob
	workers int
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewArchiver creates the pool without starting it.
func NewArchiver(repo HistoryRepository, workers, queueSize int) *Archiver {
	ctx, cancel := context.WithCancel(context.Background())
	return &Archiver{
		repo:    repo,
		jobs:    make(chan archiveJob, queueSize),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start spawns the worker goroutines.
func (a *Archiver) Start() {
	log.Printf("🔧 Starting archive worker pool with %d workers", a.workers)

	for i := 0; i < a.workers; i++ {
		a.wg.Add(1)
		go a.worker(i)
	}

	log.Println("✓ Archive worker pool started")
}

func (a *Archiver) worker(id int) {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case job, ok := <-a.jobs:
			if !ok {
				return
			}
			if err := a.process(job); err != nil {
				log.Printf("  Archive worker %d error: %v", id, err)
			}
		}
	}
}

func (a *Archiver) process(job archiveJob) error {
	switch {
	case job.change != nil:
		return a.repo.SaveChange(a.ctx, job.sessionID, *job.change)
	case job.comment != nil:
		return a.repo.SaveComment(a.ctx, *job.comment)
	case job.reply != nil:
		return a.repo.SaveReply(a.ctx, *job.parent, *job.reply)
	}
	return nil
}

// submit enqueues without blocking; a full queue drops the job.
func (a *Archiver) submit(job archiveJob) {
	select {
	case a.jobs <- job:
	default:
		log.Printf("⚠️  Archive queue full, dropping job for session %s", job.sessionID)
	}
}

// ArchiveChange implements engine.Archiver.
func (a *Archiver) ArchiveChange(sessionID string, change models.Change) {
	a.submit(archiveJob{sessionID: sessionID, change: &change})
}

// ArchiveComment implements engine.Archiver.
func (a *Archiver) ArchiveComment(comment models.Comment) {
	a.submit(archiveJob{sessionID: comment.SessionID, comment: &comment})
}

// ArchiveReply implements engine.Archiver.
func (a *Archiver) ArchiveReply(parent models.Comment, reply models.Reply) {
	a.submit(archiveJob{sessionID: parent.SessionID, parent: &parent, reply: &reply})
}

// QueueLength reports jobs waiting in the queue.
func (a *Archiver) QueueLength() int {
	return len(a.jobs)
}

// Shutdown cancels the workers and waits for them to finish their current
// jobs. Anything still queued is dropped; the archive is best effort.
func (a *Archiver) Shutdown() {
	log.Println("🛑 Shutting down archive worker pool...")

	a.cancel()
	a.wg.Wait()

	log.Println("✓ Archive worker pool shutdown complete")
}

package queue

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Job is one unit of work for a conversation.
type Job func(ctx context.Context)

// QueuedJob is a job waiting in a ConversationQueue.
type QueuedJob struct {
	EnqueuedAt time.Time
	Run        Job
}

// ConversationQueue holds the pending jobs of a single conversation.
// It ensures FIFO ordering and at most one job in flight.
type ConversationQueue struct {
	jobs            *list.List
	conversationKey string
	processing      bool
	mu              sync.Mutex
}

// NewConversationQueue creates a new queue for a conversation.
func NewConversationQueue(conversationKey string) *ConversationQueue {
	return &ConversationQueue{
		conversationKey: conversationKey,
		jobs:            list.New(),
	}
}

// Enqueue adds a job to the back of the queue.
func (cq *ConversationQueue) Enqueue(job Job) {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	cq.jobs.PushBack(QueuedJob{Run: job, EnqueuedAt: time.Now()})
}

// Dequeue removes and returns the next job. It returns false if the queue is
// empty or a job is already being processed.
func (cq *ConversationQueue) Dequeue() (QueuedJob, bool) {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if cq.processing {
		return QueuedJob{}, false
	}

	front := cq.jobs.Front()
	if front == nil {
		return QueuedJob{}, false
	}

	job, ok := front.Value.(QueuedJob)
	if !ok {
		return QueuedJob{}, false
	}
	cq.jobs.Remove(front)
	cq.processing = true

	return job, true
}

// Complete marks the in-flight job as done.
func (cq *ConversationQueue) Complete() {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	cq.processing = false
}

// Size returns the number of jobs waiting in the queue.
func (cq *ConversationQueue) Size() int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	return cq.jobs.Len()
}

// IsProcessing returns true if a job is currently running.
func (cq *ConversationQueue) IsProcessing() bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	return cq.processing
}

// IsEmpty returns true if nothing is waiting and nothing is running.
func (cq *ConversationQueue) IsEmpty() bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	return cq.jobs.Len() == 0 && !cq.processing
}

package queue

import (
	"context"
	"testing"
)

func TestConversationQueue_EnqueueDequeue(t *testing.T) {
	cq := NewConversationQueue("conv-1")

	var ran []string
	cq.Enqueue(func(context.Context) { ran = append(ran, "first") })
	cq.Enqueue(func(context.Context) { ran = append(ran, "second") })

	if cq.Size() != 2 {
		t.Errorf("Expected size 2, got %d", cq.Size())
	}

	job, ok := cq.Dequeue()
	if !ok {
		t.Fatal("Expected a job")
	}
	job.Run(context.Background())

	// Should not dequeue while processing
	if _, ok := cq.Dequeue(); ok {
		t.Error("Should not dequeue while processing")
	}
	if !cq.IsProcessing() {
		t.Error("Expected queue to be processing")
	}

	cq.Complete()
	job, ok = cq.Dequeue()
	if !ok {
		t.Fatal("Expected second job")
	}
	job.Run(context.Background())
	cq.Complete()

	if len(ran) != 2 || ran[0] != "first" || ran[1] != "second" {
		t.Errorf("Expected FIFO order, got %v", ran)
	}
	if !cq.IsEmpty() {
		t.Error("Expected queue to be empty")
	}
}

func TestConversationQueue_DequeueEmpty(t *testing.T) {
	cq := NewConversationQueue("conv-1")

	if _, ok := cq.Dequeue(); ok {
		t.Error("Expected no job from empty queue")
	}
	if cq.IsProcessing() {
		t.Error("Empty dequeue must not mark the queue as processing")
	}
}

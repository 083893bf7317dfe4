package conversation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/concierge/internal/conversation"
)

func TestCleanupService_Start(t *testing.T) {
	store := conversation.NewMemoryStore(conversation.WithIdleTTL(100 * time.Millisecond))
	service := conversation.NewCleanupServiceWithInterval(store, 50*time.Millisecond)

	ctx := context.Background()

	if err := service.Start(ctx); err != nil {
		t.Fatalf("Failed to start cleanup service: %v", err)
	}
	if !service.IsRunning() {
		t.Error("Service should be running after Start")
	}

	// Starting again should not error
	if err := service.Start(ctx); err != nil {
		t.Fatalf("Starting already running service should not error: %v", err)
	}

	service.Stop()
	if service.IsRunning() {
		t.Error("Service should not be running after Stop")
	}
}

func TestCleanupService_PeriodicCleanup(t *testing.T) {
	store := conversation.NewMemoryStore(conversation.WithIdleTTL(100 * time.Millisecond))
	service := conversation.NewCleanupServiceWithInterval(store, 50*time.Millisecond)

	ctx := context.Background()
	for _, key := range []string{"user1", "user2", "user3"} {
		if _, err := store.AppendAndTrim(ctx, key, userTurn("hello")); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	if err := service.Start(ctx); err != nil {
		t.Fatalf("Failed to start cleanup service: %v", err)
	}
	defer service.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.Stats().Conversations == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("Expected 0 conversations after cleanup, got %d", store.Stats().Conversations)
}

func TestCleanupService_StopIsIdempotent(t *testing.T) {
	store := conversation.NewMemoryStore(conversation.WithIdleTTL(time.Hour))
	service := conversation.NewCleanupServiceWithInterval(store, 10*time.Millisecond)

	if err := service.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start cleanup service: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	service.Stop()
	if service.IsRunning() {
		t.Error("Service should not be running after Stop")
	}

	// Second stop must not panic
	service.Stop()
}

func TestCleanupService_ContextCancellation(t *testing.T) {
	store := conversation.NewMemoryStore(conversation.WithIdleTTL(time.Hour))
	service := conversation.NewCleanupServiceWithInterval(store, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	if err := service.Start(ctx); err != nil {
		t.Fatalf("Failed to start cleanup service: %v", err)
	}

	cancel()

	deadline := time.Now().Add(time.Second)
	for service.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if service.IsRunning() {
		t.Error("Service should stop when context is canceled")
	}

	service.Stop()
}

func TestCleanupService_ConcurrentStartStop(t *testing.T) {
	store := conversation.NewMemoryStore(conversation.WithIdleTTL(50 * time.Millisecond))
	service := conversation.NewCleanupServiceWithInterval(store, 10*time.Millisecond)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for range 5 {
				if id%2 == 0 {
					_ = service.Start(ctx)
				} else {
					service.Stop()
				}
				time.Sleep(2 * time.Millisecond)
			}
		}(i)
	}
	wg.Wait()

	service.Stop()
	if service.IsRunning() {
		t.Error("Service should not be running after final Stop")
	}
}

package eventbus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestInMemoryEventBus_PublishSubscribe(t *testing.T) {
	bus := NewInMemoryEventBus()
	defer bus.Close()

	var receivedCount int64
	var mu sync.Mutex
	receivedEvents := []Event{}

	handler := func(event Event) error {
		mu.Lock()
		receivedEvents = append(receivedEvents, event)
		mu.Unlock()
		atomic.AddInt64(&receivedCount, 1)
		return nil
	}

	_, err := bus.Subscribe(handler)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	event := NewEvent(DomainDownload, TypeDownloadStarted, "model-a", nil)
	err = bus.Publish(event)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if atomic.LoadInt64(&receivedCount) != 1 {
		t.Errorf("Expected 1 event received, got %d", receivedCount)
	}

	mu.Lock()
	if len(receivedEvents) != 1 {
		t.Errorf("Expected 1 event in slice, got %d", len(receivedEvents))
	}
	mu.Unlock()
}

func TestInMemoryEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewInMemoryEventBus()
	defer bus.Close()

	var counter int64

	handler := func(event Event) error {
		atomic.AddInt64(&counter, 1)
		return nil
	}

	for i := 0; i < 5; i++ {
		_, err := bus.Subscribe(handler)
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}

	err := bus.Publish(NewEvent(DomainAnalysis, TypeAnalysisStarted, "memo-1", nil))
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if atomic.LoadInt64(&counter) != 5 {
		t.Errorf("Expected 5 events received, got %d", counter)
	}
}

func TestInMemoryEventBus_FilterByType(t *testing.T) {
	bus := NewInMemoryEventBus()
	defer bus.Close()

	var receivedCount int64

	handler := func(event Event) error {
		atomic.AddInt64(&receivedCount, 1)
		return nil
	}

	_, err := bus.Subscribe(handler, FilterByType(TypeDownloadProgress))
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	bus.Publish(NewEvent(DomainDownload, TypeDownloadProgress, "m", nil))
	bus.Publish(NewEvent(DomainDownload, TypeDownloadStarted, "m", nil))
	bus.Publish(NewEvent(DomainDownload, TypeDownloadProgress, "m", nil))
	bus.Publish(NewEvent(DomainDownload, TypeDownloadCompleted, "m", nil))

	time.Sleep(100 * time.Millisecond)

	if atomic.LoadInt64(&receivedCount) != 2 {
		t.Errorf("Expected 2 events received, got %d", receivedCount)
	}
}

func TestInMemoryEventBus_FilterByDomain(t *testing.T) {
	bus := NewInMemoryEventBus()
	defer bus.Close()

	var receivedCount int64

	handler := func(event Event) error {
		atomic.AddInt64(&receivedCount, 1)
		return nil
	}

	_, err := bus.Subscribe(handler, FilterByDomain(DomainModel))
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	bus.Publish(NewEvent(DomainModel, TypeModelLoaded, "m", nil))
	bus.Publish(NewEvent(DomainAnalysis, TypeAnalysisStarted, "memo", nil))
	bus.Publish(NewEvent(DomainModel, TypeModelReleased, "m", nil))
	bus.Publish(NewEvent(DomainDownload, TypeDownloadStarted, "m", nil))

	time.Sleep(100 * time.Millisecond)

	if atomic.LoadInt64(&receivedCount) != 2 {
		t.Errorf("Expected 2 events received, got %d", receivedCount)
	}
}

func TestInMemoryEventBus_CombinedFilters(t *testing.T) {
	bus := NewInMemoryEventBus()
	defer bus.Close()

	var receivedEvents []Event
	var mu sync.Mutex

	handler := func(event Event) error {
		mu.Lock()
		receivedEvents = append(receivedEvents, event)
		mu.Unlock()
		return nil
	}

	_, err := bus.Subscribe(handler, FilterByDomain(DomainDownload), FilterByType(TypeDownloadFailed))
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	bus.Publish(NewEvent(DomainDownload, TypeDownloadFailed, "m", nil))
	bus.Publish(NewEvent(DomainDownload, TypeDownloadStarted, "m", nil))
	bus.Publish(NewEvent(DomainAnalysis, TypeAnalysisFailed, "memo", nil))
	bus.Publish(NewEvent(DomainDownload, TypeDownloadFailed, "m", nil))

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	if len(receivedEvents) != 2 {
		t.Errorf("Expected 2 events received, got %d", len(receivedEvents))
	}
	for _, e := range receivedEvents {
		if e.Domain() != DomainDownload || e.Type() != TypeDownloadFailed {
			t.Errorf("Event doesn't match filter: domain=%s, type=%s", e.Domain(), e.Type())
		}
	}
	mu.Unlock()
}

func TestInMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewInMemoryEventBus()
	defer bus.Close()

	var counter int64

	handler := func(event Event) error {
		atomic.AddInt64(&counter, 1)
		return nil
	}

	subID, err := bus.Subscribe(handler)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	bus.Publish(NewEvent(DomainAnalysis, TypeAnalysisStarted, "memo", nil))
	time.Sleep(50 * time.Millisecond)

	if atomic.LoadInt64(&counter) != 1 {
		t.Errorf("Expected 1 event received before unsubscribe, got %d", counter)
	}

	err = bus.Unsubscribe(subID)
	if err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	bus.Publish(NewEvent(DomainAnalysis, TypeAnalysisStarted, "memo", nil))
	time.Sleep(50 * time.Millisecond)

	if atomic.LoadInt64(&counter) != 1 {
		t.Errorf("Expected 1 event received after unsubscribe, got %d", counter)
	}
}

func TestInMemoryEventBus_UnsubscribeNotFound(t *testing.T) {
	bus := NewInMemoryEventBus()
	defer bus.Close()

	err := bus.Unsubscribe("non-existent-id")
	if err == nil {
		t.Error("Expected error for non-existent subscription")
	}
}

func TestInMemoryEventBus_PublishNilEvent(t *testing.T) {
	bus := NewInMemoryEventBus()
	defer bus.Close()

	err := bus.Publish(nil)
	if err == nil {
		t.Error("Expected error for nil event")
	}
}

func TestInMemoryEventBus_SubscribeNilHandler(t *testing.T) {
	bus := NewInMemoryEventBus()
	defer bus.Close()

	_, err := bus.Subscribe(nil)
	if err == nil {
		t.Error("Expected error for nil handler")
	}
}

func TestInMemoryEventBus_Close(t *testing.T) {
	bus := NewInMemoryEventBus()

	var counter int64
	handler := func(event Event) error {
		atomic.AddInt64(&counter, 1)
		return nil
	}

	_, err := bus.Subscribe(handler)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	bus.Publish(NewEvent(DomainModel, TypeModelLoaded, "m", nil))
	time.Sleep(50 * time.Millisecond)

	err = bus.Close()
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	err = bus.Publish(NewEvent(DomainModel, TypeModelLoaded, "m", nil))
	if err == nil {
		t.Error("Expected error when publishing to closed bus")
	}

	_, err = bus.Subscribe(handler)
	if err == nil {
		t.Error("Expected error when subscribing to closed bus")
	}
}

func TestInMemoryEventBus_CloseIdempotent(t *testing.T) {
	bus := NewInMemoryEventBus()

	err := bus.Close()
	if err != nil {
		t.Fatalf("First close failed: %v", err)
	}

	err = bus.Close()
	if err != nil {
		t.Fatalf("Second close failed: %v", err)
	}
}

func TestInMemoryEventBus_Options(t *testing.T) {
	bus := NewInMemoryEventBus(
		WithBufferSize(500),
		WithWorkerCount(2),
	)
	defer bus.Close()

	if cap(bus.eventChan) != 500 {
		t.Errorf("Expected buffer size 500, got %d", cap(bus.eventChan))
	}

	if bus.workerCount != 2 {
		t.Errorf("Expected worker count 2, got %d", bus.workerCount)
	}
}

func TestInMemoryEventBus_Concurrency(t *testing.T) {
	bus := NewInMemoryEventBus(
		WithBufferSize(10000),
		WithWorkerCount(8),
	)
	defer bus.Close()

	var eventCount int64
	handler := func(event Event) error {
		atomic.AddInt64(&eventCount, 1)
		return nil
	}

	_, err := bus.Subscribe(handler)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	var wg sync.WaitGroup
	numPublishers := 10
	eventsPerPublisher := 100

	for i := 0; i < numPublishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerPublisher; j++ {
				bus.Publish(NewEvent(DomainDownload, TypeDownloadProgress, "m", nil))
			}
		}()
	}

	wg.Wait()
	time.Sleep(500 * time.Millisecond)

	expected := int64(numPublishers * eventsPerPublisher)
	if atomic.LoadInt64(&eventCount) != expected {
		t.Errorf("Expected %d events, got %d", expected, eventCount)
	}
}

func TestInMemoryEventBus_CustomFilter(t *testing.T) {
	bus := NewInMemoryEventBus()
	defer bus.Close()

	var receivedCount int64

	handler := func(event Event) error {
		atomic.AddInt64(&receivedCount, 1)
		return nil
	}

	onlySubjectM := func(event Event) bool {
		de, ok := event.(*DomainEvent)
		return ok && de.Subject == "m"
	}

	_, err := bus.Subscribe(handler, onlySubjectM)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	bus.Publish(NewEvent(DomainDownload, TypeDownloadStarted, "m", nil))
	bus.Publish(NewEvent(DomainDownload, TypeDownloadStarted, "other", nil))

	time.Sleep(100 * time.Millisecond)

	if atomic.LoadInt64(&receivedCount) != 1 {
		t.Errorf("Expected 1 event received, got %d", receivedCount)
	}
}

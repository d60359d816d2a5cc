package server

import (
	"context"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/vctt94/snakearena/pkg/arena"
)

// MatchEventType represents the type of match event
type MatchEventType string

const (
	MatchEventStarted    MatchEventType = "match_started"
	MatchEventEliminated MatchEventType = "participant_eliminated"
	MatchEventEnded      MatchEventType = "match_ended"
	MatchEventCancelled  MatchEventType = "match_cancelled"
)

// MatchEvent represents an immutable snapshot of a match event
type MatchEvent struct {
	Type      MatchEventType
	MatchID   int64
	Tick      int
	Standing  *arena.Standing // eliminated participant
	Result    *RoomResult     // ended matches
	Timestamp time.Time
}

// EventPublisher accepts match events without blocking the caller.
type EventPublisher interface {
	PublishEvent(event *MatchEvent)
}

// persistTimeout bounds the write made for one event.
const persistTimeout = 5 * time.Second

// EventProcessor manages the processing of match events off the room loops
type EventProcessor struct {
	store    MatchStore
	log      slog.Logger
	queue    chan *MatchEvent
	workers  []*eventWorker
	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex

	// processed tracks published events not yet handled.
	processed sync.WaitGroup
}

// eventWorker processes events from the queue
type eventWorker struct {
	id        int
	processor *EventProcessor
	stopChan  chan struct{}
	wg        *sync.WaitGroup
}

// NewEventProcessor creates a new event processor
func NewEventProcessor(store MatchStore, log slog.Logger, queueSize, workerCount int) *EventProcessor {
	if log == nil {
		log = slog.Disabled
	}
	processor := &EventProcessor{
		store:    store,
		log:      log,
		queue:    make(chan *MatchEvent, queueSize),
		stopChan: make(chan struct{}),
	}

	processor.workers = make([]*eventWorker, workerCount)
	for i := 0; i < workerCount; i++ {
		processor.workers[i] = &eventWorker{
			id:        i,
			processor: processor,
			stopChan:  make(chan struct{}),
			wg:        &processor.wg,
		}
	}

	return processor
}

// Start begins processing events
func (ep *EventProcessor) Start() {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if ep.started {
		return
	}

	ep.started = true
	ep.log.Infof("Starting event processor with %d workers", len(ep.workers))

	for _, worker := range ep.workers {
		ep.wg.Add(1)
		go worker.run()
	}
}

// Stop gracefully stops the event processor
func (ep *EventProcessor) Stop() {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if !ep.started {
		return
	}

	ep.log.Infof("Stopping event processor...")

	close(ep.stopChan)
	for _, worker := range ep.workers {
		close(worker.stopChan)
	}

	ep.wg.Wait()

	ep.started = false
	ep.log.Infof("Event processor stopped")
}

// PublishEvent publishes an event for processing
func (ep *EventProcessor) PublishEvent(event *MatchEvent) {
	ep.mu.Lock()
	started := ep.started
	ep.mu.Unlock()

	if !started {
		ep.log.Warnf("Event processor not started, dropping event: %v", event.Type)
		return
	}

	ep.processed.Add(1)
	select {
	case ep.queue <- event:
		ep.log.Debugf("Published event: %s for match %d", event.Type, event.MatchID)
	default:
		ep.processed.Done()
		ep.log.Errorf("Event queue full, dropping event: %s for match %d", event.Type, event.MatchID)
	}
}

// Drain waits until every published event has been handled.
func (ep *EventProcessor) Drain() {
	ep.processed.Wait()
}

// run executes the worker loop
func (w *eventWorker) run() {
	defer w.wg.Done()
	w.processor.log.Debugf("Event worker %d started", w.id)

	for {
		select {
		case <-w.stopChan:
			w.processor.log.Debugf("Event worker %d stopping", w.id)
			return

		case <-w.processor.stopChan:
			w.processor.log.Debugf("Event worker %d stopping (processor shutdown)", w.id)
			return

		case event := <-w.processor.queue:
			if event != nil {
				w.processEvent(event)
				w.processor.processed.Done()
			}
		}
	}
}

// processEvent processes a single event
func (w *eventWorker) processEvent(event *MatchEvent) {
	log := w.processor.log
	log.Debugf("Worker %d processing event: %s for match %d", w.id, event.Type, event.MatchID)

	switch event.Type {
	case MatchEventEliminated:
		w.processPersistence(event)
	case MatchEventStarted:
		log.Infof("Match %d is running", event.MatchID)
	case MatchEventEnded:
		if r := event.Result; r != nil {
			switch {
			case r.Aborted:
				log.Warnf("Match %d aborted, settled as a tie", event.MatchID)
			case r.Outcome.Winner != nil:
				log.Infof("Match %d won by %s", event.MatchID, r.Outcome.Winner)
			default:
				log.Infof("Match %d ended in a tie", event.MatchID)
			}
		}
	case MatchEventCancelled:
		log.Infof("Match %d cancelled", event.MatchID)
	}
}

// processPersistence stores interim stats for an eliminated participant.
func (w *eventWorker) processPersistence(event *MatchEvent) {
	if event.Standing == nil || w.processor.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	s := *event.Standing
	if err := w.processor.store.RecordParticipation(ctx, event.MatchID, resultFor(s)); err != nil {
		w.processor.log.Errorf("Match %d: failed to record elimination of %s: %v",
			event.MatchID, s.ID, err)
		return
	}
	w.processor.log.Debugf("Match %d: %s eliminated at tick %d with score %d",
		event.MatchID, s.ID, event.Tick, s.Score)
}

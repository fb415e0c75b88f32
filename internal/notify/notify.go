// Package notify provides the Notification Sink (spec §2 item 5): a
// fire-and-forget consumer of transaction events that never blocks or
// fails the caller that emitted them.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/klingon-exchange/walletd/pkg/logging"
)

// EventType identifies a notification event kind.
type EventType string

const (
	EventDeposit          EventType = "deposit"
	EventWithdrawal       EventType = "withdrawal"
	EventTransferSent     EventType = "transfer_sent"
	EventTransferReceived EventType = "transfer_received"
	EventTransferAccepted EventType = "transfer_accepted"
	EventTransferRejected EventType = "transfer_rejected"
	EventTransferExpired  EventType = "transfer_expired"
	EventCashOutRequested EventType = "cash_out_requested"
	EventCashOutVerified  EventType = "cash_out_verified"
)

// templateNames maps each EventType to the name of the message template a
// delivery consumer should render it with.
var templateNames = map[EventType]string{
	EventDeposit:          "deposit_completed",
	EventWithdrawal:       "withdrawal_completed",
	EventTransferSent:     "transfer_sent",
	EventTransferReceived: "transfer_received",
	EventTransferAccepted: "transfer_accepted",
	EventTransferRejected: "transfer_rejected",
	EventTransferExpired:  "transfer_expired",
	EventCashOutRequested: "cash_out_requested",
	EventCashOutVerified:  "cash_out_verified",
}

// TemplateFor returns the message template name for t, for callers
// building an Event without hand-writing the lookup.
func TemplateFor(t EventType) string {
	return templateNames[t]
}

// Event is a structured transaction notification, queued for best-effort
// delivery after the atomic unit that produced it has committed (spec §9:
// "the engine must publish the event post-commit... never inside it").
// TemplateName, RecipientUserID, and RecipientContact carry what a
// templating/delivery consumer (out of core scope) needs to address and
// render the notification, rather than a bare event type string (spec.md
// §9 SUPPLEMENTED FEATURES item #2).
type Event struct {
	Type             EventType
	TemplateName     string
	RecipientUserID  string
	RecipientContact string
	Reference        string
	TransactionID    string
	Amount           string
	Detail           string
	At               time.Time
}

// Sink accepts Events from engine commands and hands them to subscribers
// without ever blocking the caller. Delivery failures are logged, never
// surfaced.
type Sink struct {
	events chan Event
	log    *logging.Logger

	mu          sync.RWMutex
	subscribers []func(Event)

	stop chan struct{}
	done chan struct{}
}

// New builds a Sink with the given buffered queue depth.
func New(queueDepth int) *Sink {
	return &Sink{
		events: make(chan Event, queueDepth),
		log:    logging.GetDefault().Component("notify"),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Subscribe registers fn to be called for every event the Sink consumes.
// Intended for the notification-delivery collaborator (email/SMS templating)
// and the WebSocket push layer; fn must not block.
func (s *Sink) Subscribe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Publish enqueues evt for delivery. Never blocks the caller: if the queue
// is full, the event is dropped and logged rather than backing up the
// command path.
func (s *Sink) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	select {
	case s.events <- evt:
	default:
		s.log.Warn("notification queue full, dropping event", "type", evt.Type, "reference", evt.Reference)
	}
}

// Run consumes queued events until ctx is cancelled or Stop is called.
func (s *Sink) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case evt := <-s.events:
			s.deliver(evt)
		}
	}
}

// Stop signals Run to exit and waits for it to return. Events still queued
// at that point are not delivered.
func (s *Sink) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sink) deliver(evt Event) {
	s.mu.RLock()
	subs := make([]func(Event), len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.RUnlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("notification subscriber panicked", "type", evt.Type, "recover", r)
				}
			}()
			fn(evt)
		}()
	}
}

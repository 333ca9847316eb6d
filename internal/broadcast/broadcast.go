package broadcast

import (
	"encoding/json"
	"log"
	"sync"

	"attendsync/internal/backend"
	"attendsync/internal/events"
)

// Message is one encoded class-list update addressed to a user.
type Message struct {
	Event  string
	UserID string
	Data   []byte
}

// payload is the JSON pushed to clients.
type payload struct {
	Type    string                 `json:"t"`
	ClassID string                 `json:"classID,omitempty"`
	Classes []backend.ClassSession `json:"classes,omitempty"`
}

type Broadcaster struct {
	Mu      sync.Mutex
	Clients map[chan Message]bool
}

// NewBroadcaster forwards every bus event to all subscribers until the bus
// channel is closed.
func NewBroadcaster(bus *events.Bus) *Broadcaster {
	b := &Broadcaster{
		Clients: make(map[chan Message]bool),
	}
	go func() {
		for ev := range bus.ClassLists {
			msg, err := Encode(ev)
			if err != nil {
				log.Printf("[Cache] Encoding %s for %s: %v\n", ev.Kind, ev.UserID, err)
				continue
			}
			b.Broadcast(msg)
		}
	}()
	return b
}

func Encode(ev events.ClassListEvent) (Message, error) {
	data, err := json.Marshal(payload{Type: string(ev.Kind), ClassID: ev.ClassID, Classes: ev.Classes})
	if err != nil {
		return Message{}, err
	}
	return Message{Event: string(ev.Kind), UserID: ev.UserID, Data: data}, nil
}

func (b *Broadcaster) Subscribe() chan Message {
	ch := make(chan Message, 10)
	b.Mu.Lock()
	b.Clients[ch] = true
	b.Mu.Unlock()
	return ch
}

func (b *Broadcaster) Unsubscribe(ch chan Message) {
	b.Mu.Lock()
	delete(b.Clients, ch)
	b.Mu.Unlock()
	close(ch)
}

func (b *Broadcaster) Broadcast(msg Message) {
	b.Mu.Lock()
	defer b.Mu.Unlock()
	for ch := range b.Clients {
		select {
		case ch <- msg:
		default:
			// skip clients with full data channels
		}
	}
}

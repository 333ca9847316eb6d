package events

import (
	"log"

	"attendsync/internal/backend"
)

type Kind string

const (
	// Flipped carries the locally guessed list published before the
	// authoritative store answers.
	Flipped     Kind = "flipped"
	Restored    Kind = "restored"
	Invalidated Kind = "invalidated"
	Refreshed   Kind = "refreshed"
)

// ClassListEvent is a change to one user's cached class list. Classes is nil
// for Invalidated.
type ClassListEvent struct {
	Kind    Kind
	UserID  string
	ClassID string
	Classes []backend.ClassSession
}

type Bus struct {
	ClassLists chan ClassListEvent
}

func NewBus() *Bus {
	return &Bus{
		ClassLists: make(chan ClassListEvent, 64),
	}
}

// Publish hands ev to the bus without blocking. A full bus drops the event.
func (b *Bus) Publish(ev ClassListEvent) bool {
	select {
	case b.ClassLists <- ev:
		return true
	default:
		log.Printf("[Cache] Event bus full, dropping %s for %s\n", ev.Kind, ev.UserID)
		return false
	}
}

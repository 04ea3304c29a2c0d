package session

import (
	"sync"
	"time"
)

// Session serialises turns within one conversation.
type Session struct {
	mu         sync.Mutex
	processing sync.Mutex
	busy       bool
	startedAt  time.Time
	turns      int
}

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

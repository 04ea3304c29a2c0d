package session

import "time"

// TryAcquire attempts to acquire the processing lock.
// Returns true if acquired, false if a turn is already running.
func (s *Session) TryAcquire() bool {
	if !s.processing.TryLock() {
		return false
	}

	s.mu.Lock()
	s.busy = true
	s.startedAt = time.Now()
	s.turns++
	s.mu.Unlock()

	return true
}

// Release releases the processing lock.
func (s *Session) Release() {
	s.mu.Lock()
	s.busy = false
	s.startedAt = time.Time{}
	s.mu.Unlock()

	s.processing.Unlock()
}

// Busy reports whether a turn is running and since when.
func (s *Session) Busy() (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy, s.startedAt
}

// Turns is the number of turns started in this session.
func (s *Session) Turns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

func (s *Store) Get(conversationID string) *Session {
	s.mu.RLock()

	sess, ok := s.sessions[conversationID]
	s.mu.RUnlock()

	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok = s.sessions[conversationID]; ok {
		return sess
	}

	sess = &Session{}
	s.sessions[conversationID] = sess

	return sess
}

// Delete forgets an idle session. It returns false, leaving the session in
// place, while a turn is running.
func (s *Store) Delete(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[conversationID]
	if !ok {
		return true
	}
	if busy, _ := sess.Busy(); busy {
		return false
	}

	delete(s.sessions, conversationID)
	return true
}

// Active counts sessions with a turn in progress.
func (s *Store) Active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, sess := range s.sessions {
		if busy, _ := sess.Busy(); busy {
			n++
		}
	}
	return n
}

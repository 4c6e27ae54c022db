package agent

import "sync"

// conversationLocks serializes turns per conversation. Two turns on the
// same conversation must not interleave or causal message ordering
// breaks; turns on different conversations run independently. The chat,
// exercise-record and image-upload entry points all take the same lock.
type conversationLocks struct {
	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

func newConversationLocks() *conversationLocks {
	return &conversationLocks{locks: make(map[uint]*sync.Mutex)}
}

// acquire blocks until the conversation's lock is held and returns the
// release function.
func (c *conversationLocks) acquire(conversationID uint) func() {
	c.mu.Lock()
	lock, ok := c.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[conversationID] = lock
	}
	c.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

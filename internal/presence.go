package internal

// PresenceTracker keeps counts of open websocket connections per user. It is
// owned by the hub goroutine and is not safe for concurrent use on its own.
type PresenceTracker struct {
	online map[string]int
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[string]int)}
}

// Connect records one more connection for userID and returns its count.
func (p *PresenceTracker) Connect(userID string) int {
	p.online[userID]++
	return p.online[userID]
}

// Disconnect drops one connection for userID. The entry is removed once the
// last connection goes away.
func (p *PresenceTracker) Disconnect(userID string) int {
	count, ok := p.online[userID]
	if !ok {
		return 0
	}
	if count <= 1 {
		delete(p.online, userID)
		return 0
	}
	p.online[userID] = count - 1
	return count - 1
}

func (p *PresenceTracker) Online(userID string) bool {
	return p.online[userID] > 0
}

// ActiveCount is the number of distinct users with at least one connection.
func (p *PresenceTracker) ActiveCount() int {
	return len(p.online)
}

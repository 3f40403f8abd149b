package conn

// State is the lifecycle state of the transport session.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// StateChanges returns a channel receiving the latest state after each transition.
// Transitions a slow reader misses are coalesced into the most recent one. Call cancel to unsubscribe.
func (m *Manager) StateChanges() (<-chan State, func()) {
	ch := make(chan State, 1)

	m.watchMu.Lock()
	id := m.nextWatcher
	m.nextWatcher++
	m.watchers[id] = ch
	m.watchMu.Unlock()

	cancel := func() {
		m.watchMu.Lock()
		defer m.watchMu.Unlock()
		if _, ok := m.watchers[id]; ok {
			delete(m.watchers, id)
			close(ch)
		}
	}
	return ch, cancel
}

// setStateLocked must be called with m.mu held.
func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.logger.Debugf("Connection state %s -> %s", m.state, s)
	m.state = s

	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	for _, ch := range m.watchers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

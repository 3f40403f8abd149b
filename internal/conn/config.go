package conn

import (
	"time"

	"github.com/gorilla/websocket"
)

type Option interface {
	apply(*Manager)
}

type optionFunc func(m *Manager)

func (f optionFunc) apply(m *Manager) { f(m) }

const (
	DefaultURL         = "ws://127.0.0.1:9000/ws"
	DefaultMaxAttempts = 5
	DefaultBackoff     = 500 * time.Millisecond
	DefaultMaxBackoff  = 5 * time.Second
)

// URL sets the websocket endpoint of the gateway
func URL(u string) Option {
	return optionFunc(func(m *Manager) {
		m.url = u
	})
}

// MaxAttempts sets how many dials are tried before giving up, values below 1 mean a single attempt
func MaxAttempts(n int) Option {
	return optionFunc(func(m *Manager) {
		if n < 1 {
			n = 1
		}
		m.maxAttempts = n
	})
}

// Backoff sets the delay before the second dial attempt and the cap the doubling delay never exceeds
func Backoff(initial, max time.Duration) Option {
	return optionFunc(func(m *Manager) {
		m.backoff = initial
		m.maxBackoff = max
	})
}

// Dialer replaces websocket.DefaultDialer
func Dialer(d *websocket.Dialer) Option {
	return optionFunc(func(m *Manager) {
		m.dialer = d
	})
}

// Clock sets the time source used to stamp optimistic messages
func Clock(now func() time.Time) Option {
	return optionFunc(func(m *Manager) {
		m.now = now
	})
}

// LocalUser sets the sender id of optimistic messages
func LocalUser(id string) Option {
	return optionFunc(func(m *Manager) {
		m.localUser = id
	})
}

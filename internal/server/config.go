package server

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

type Option interface {
	apply(*config)
}

type optionFunc func(c *config)

func (f optionFunc) apply(c *config) { f(c) }

type routeKind int

const (
	// jsonRoute answers one POST request with a JSON body
	jsonRoute routeKind = iota
	// streamRoute is long-lived or not JSON, it must stay hijackable
	streamRoute
)

type route struct {
	pattern string
	kind    routeKind
	handler http.Handler
}

// config defines fields used for configuring Server instance
type config struct {
	httpServer    *http.Server
	routes        []route
	afterShutdown []func()
	pingPeriod    time.Duration
}

// wrap replaces the handler of every route of the given kinds with mw applied to it
func (c *config) wrap(mw func(r route) http.Handler, kinds ...routeKind) {
	for i, r := range c.routes {
		for _, k := range kinds {
			if r.kind == k {
				c.routes[i].handler = mw(r)
				break
			}
		}
	}
}

// EnvConfig defines fields used for parsing from environment variables
type EnvConfig struct {
	Host        string        `env:"HOST" envDefault:"0.0.0.0"`
	Port        uint16        `env:"PORT" envDefault:"9000"`
	ReadTimeout time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	IdleTimeout time.Duration `env:"IDLE_TIMEOUT" envDefault:"2m"`
}

// WithEnvConfig makes EnvConfig the source of the listen address and header timeouts of http.Server
func WithEnvConfig(cfg EnvConfig) Option {
	return optionFunc(func(c *config) {
		c.httpServer.Addr = net.JoinHostPort(cfg.Host, strconv.FormatUint(uint64(cfg.Port), 10))
		c.httpServer.ReadHeaderTimeout = cfg.ReadTimeout
		c.httpServer.IdleTimeout = cfg.IdleTimeout
	})
}

// ReadTimeout sets read timeout for http.Server. Websocket connections replace it with their own read deadline.
func ReadTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.httpServer.ReadTimeout = d
	})
}

// PingPeriod sets how often websocket clients are pinged
func PingPeriod(d time.Duration) Option {
	return optionFunc(func(c *config) {
		if d > 0 {
			c.pingPeriod = d
		}
	})
}

// RegisterAfterShutdown registers a function to call after http.Server shutdown
// f will not be called in separated goroutine
func RegisterAfterShutdown(f func()) Option {
	return optionFunc(func(c *config) {
		c.afterShutdown = append(c.afterShutdown, f)
	})
}

// TimeoutHandler bounds JSON routes with http.TimeoutHandler. Streams are left alone
// since http.TimeoutHandler can not be hijacked.
func TimeoutHandler(d time.Duration, msg string) Option {
	return optionFunc(func(c *config) {
		c.wrap(func(r route) http.Handler {
			return http.TimeoutHandler(r.handler, d, msg)
		}, jsonRoute)
	})
}

func applyEnforcePostJson() Option {
	return optionFunc(func(c *config) {
		c.wrap(func(r route) http.Handler {
			return enforcePostJson(r.handler)
		}, jsonRoute)
	})
}

func applyLog(logger *zap.Logger) Option {
	return optionFunc(func(c *config) {
		c.wrap(func(r route) http.Handler {
			return log(r.handler, logger, r.pattern)
		}, jsonRoute, streamRoute)
	})
}

// registerHandlers mounts every route on a new http.ServeMux used as the handler of http.Server
func registerHandlers() Option {
	return optionFunc(func(c *config) {
		mux := http.NewServeMux()
		for _, r := range c.routes {
			mux.Handle(r.pattern, r.handler)
		}
		c.httpServer.Handler = mux
	})
}

package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_http_requests_total",
			Help: "Total HTTP requests by route and status code",
		},
		[]string{"route", "status"},
	)

	wsConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomchat_ws_connections",
			Help: "Open websocket connections",
		},
	)

	messagesRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomchat_messages_relayed_total",
			Help: "Messages stored and fanned out to room members",
		},
	)

	roomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomchat_rooms_created_total",
			Help: "Rooms created over websocket",
		},
	)

	framesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_frames_rejected_total",
			Help: "Client frames answered with an error frame",
		},
		[]string{"reason"},
	)

	slowClients = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomchat_slow_clients_total",
			Help: "Connections dropped because their send buffer was full",
		},
	)
)

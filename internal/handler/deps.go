package handler

import (
	"github.com/prometheus/client_golang/prometheus"

	"pulse/internal/app/realtime"
	"pulse/internal/configs"
)

// AppDeps carries everything the HTTP layer needs.
type AppDeps struct {
	Hub      *realtime.Hub
	Config   *configs.AppConfig
	Gatherer prometheus.Gatherer
}

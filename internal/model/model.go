package model

import (
	"github.com/LeonardoBeccarini/roomsense/internal/model/entities"
	"github.com/LeonardoBeccarini/roomsense/internal/model/messages"
)

// Aliases exposing the common types to the services.

type (
	Device    = entities.Device
	Metric    = entities.Metric
	Telemetry = messages.Telemetry
	Meta      = messages.Meta
)

const (
	MetricTemperature = entities.MetricTemperature
	MetricHumidity    = entities.MetricHumidity
	MetricVoc         = entities.MetricVoc
	MetricNoise       = entities.MetricNoise
)

package gateway

import (
	"time"

	"github.com/ashureev/tennis-onboard/internal/metrics"
)

func observe(service string, start time.Time, err error) {
	metrics.GatewayDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.GatewayErrors.WithLabelValues(service, Class(err)).Inc()
	}
}

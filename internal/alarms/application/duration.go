package application

import (
	"time"

	telemetry "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/domain"
)

// DurationInState returns how long, in seconds, the machine has been in
// target. samples must be newest first. The count of leading samples in
// target is multiplied by interval; zero when the newest sample differs.
func DurationInState(samples []telemetry.Sample, target telemetry.State, interval time.Duration) float64 {
	leading := 0
	for _, s := range samples {
		if s.State != target {
			break
		}
		leading++
	}
	return float64(leading) * interval.Seconds()
}

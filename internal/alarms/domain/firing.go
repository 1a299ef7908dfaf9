package alarms

import "time"

// FiringData is the machine snapshot a rule fired on.
type FiringData struct {
	RPM             float64 `json:"rpm"`
	FeedRate        float64 `json:"feed_rate"`
	State           string  `json:"state"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Firing records one alert that passed evaluation and dedup.
type Firing struct {
	ID             string     `json:"id"`
	Rule           string     `json:"rule"`
	MachineID      string     `json:"machine_id"`
	Severity       string     `json:"severity"`
	Message        string     `json:"message"`
	Data           FiringData `json:"data"`
	FiredAt        time.Time  `json:"fired_at"`
	ChannelsOK     []string   `json:"channels_ok"`
	ChannelsFailed []string   `json:"channels_failed"`
}

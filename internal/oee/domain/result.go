package oee

import (
	"time"

	"github.com/shopspring/decimal"
)

// Counts are the sample aggregates of one window.
type Counts struct {
	Total         int
	Running       int
	AvgRPMRunning float64
	MaxRPM        float64
}

// Params are the plant constants of the formula.
type Params struct {
	SampleInterval time.Duration
	ProgrammedRPM  float64
}

// SampleStats summarize the samples behind a result.
type SampleStats struct {
	Total   int     `json:"total"`
	Running int     `json:"running"`
	AvgRPM  float64 `json:"avg_rpm"`
	MaxRPM  float64 `json:"max_rpm"`
}

// Result is the OEE of one machine over one shift window.
type Result struct {
	Date             string      `json:"date"`
	MachineID        string      `json:"machine_id"`
	Shift            Shift       `json:"shift"`
	ShiftStart       time.Time   `json:"shift_start"`
	ShiftEnd         time.Time   `json:"shift_end"`
	PlannedTimeMin   float64     `json:"planned_time_min"`
	OperatingTimeMin float64     `json:"operating_time_min"`
	Availability     float64     `json:"availability"`
	Performance      float64     `json:"performance"`
	Quality          float64     `json:"quality"`
	OEE              float64     `json:"oee"`
	Samples          SampleStats `json:"samples"`
	Benchmark        *Benchmark  `json:"benchmark,omitempty"`
}

// Empty returns the result of a window without samples.
func Empty(machineID string, date time.Time, shift Shift, window Window) Result {
	return Result{
		Date:           date.Format(DateLayout),
		MachineID:      machineID,
		Shift:          shift,
		ShiftStart:     window.Start,
		ShiftEnd:       window.End,
		PlannedTimeMin: round(window.PlannedMinutes(), 2),
	}
}

// Calculate applies OEE = availability x performance x quality.
func Calculate(machineID string, date time.Time, shift Shift, window Window, counts Counts, params Params) Result {
	if counts.Total == 0 {
		return Empty(machineID, date, shift, window)
	}
	planned := window.PlannedMinutes()
	operating := float64(counts.Running) * params.SampleInterval.Seconds() / 60

	availability := 0.0
	if planned > 0 {
		availability = min(operating/planned, 1)
	}
	performance := 0.0
	if params.ProgrammedRPM > 0 && counts.Running > 0 && counts.AvgRPMRunning > 0 {
		performance = min(counts.AvgRPMRunning/params.ProgrammedRPM, 1)
	}
	quality := 1.0

	out := Empty(machineID, date, shift, window)
	out.OperatingTimeMin = round(operating, 2)
	out.Availability = round(availability, 4)
	out.Performance = round(performance, 4)
	out.Quality = quality
	out.OEE = round(availability*performance*quality, 4)
	out.Samples = SampleStats{
		Total:   counts.Total,
		Running: counts.Running,
		AvgRPM:  round(counts.AvgRPMRunning, 1),
		MaxRPM:  round(counts.MaxRPM, 1),
	}
	return out
}

func round(value float64, places int32) float64 {
	rounded, _ := decimal.NewFromFloat(value).Round(places).Float64()
	return rounded
}

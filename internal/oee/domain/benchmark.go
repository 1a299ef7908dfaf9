package oee

// Benchmark classifies an OEE value against industry bands.
type Benchmark struct {
	Classification string  `json:"classification"`
	Label          string  `json:"label"`
	Color          string  `json:"color"`
	Target         float64 `json:"target"`
}

// Classify maps oee to its band; lower bounds are inclusive.
func Classify(oee float64) Benchmark {
	switch {
	case oee < 0.60:
		return Benchmark{Classification: "unacceptable", Label: "Unacceptable", Color: "#ef4444", Target: 0.70}
	case oee < 0.70:
		return Benchmark{Classification: "fair", Label: "Fair", Color: "#f59e0b", Target: 0.75}
	case oee < 0.85:
		return Benchmark{Classification: "competitive", Label: "Competitive", Color: "#10b981", Target: 0.85}
	default:
		return Benchmark{Classification: "world_class", Label: "World Class", Color: "#3b82f6", Target: 0.90}
	}
}

package models

type WorkerMetrics struct {
	WorkerID     string
	Queue        string
	AvgLatencyMs float64 // exponential moving average
	JobsDone     int64
}

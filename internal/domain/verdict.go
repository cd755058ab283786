package domain

import "time"

// Verdict is the outcome of one liveness probe.
type Verdict struct {
	Working   bool
	Latency   time.Duration
	Detail    string
	CheckedAt time.Time
}

func (v Verdict) Status() Status {
	if v.Working {
		return StatusWorking
	}
	return StatusFailed
}

// ResponseTime is the latency in seconds for working verdicts and nil otherwise.
func (v Verdict) ResponseTime() *float64 {
	if !v.Working {
		return nil
	}
	seconds := v.Latency.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	return &seconds
}

type Statistics struct {
	Total            int64      `json:"total"`
	Working          int64      `json:"working"`
	Failed           int64      `json:"failed"`
	Unchecked        int64      `json:"unchecked"`
	Outdated         int64      `json:"outdated"`
	AvgResponseTime  *float64   `json:"avg_response_time"`
	OldestCollection *time.Time `json:"oldest_collection"`
	LatestCheck      *time.Time `json:"latest_check"`
}

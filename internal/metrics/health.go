package metrics

import "time"

// Health states.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

const (
	staleTicks      = 3
	errorCountFloor = 10
	maxErrorRate    = 0.1
)

// HealthReport is the scheduler's self-assessment.
type HealthReport struct {
	Status                   string     `json:"status"`
	Running                  bool       `json:"running"`
	UptimeSeconds            float64    `json:"uptime_seconds"`
	LastActivity             *time.Time `json:"last_activity"`
	TimeSinceActivitySeconds *float64   `json:"time_since_activity_seconds"`
	Metrics                  Snapshot   `json:"metrics"`
}

// Health reports degraded when nothing has been processed for three tick
// intervals, or when more than ten errors have accumulated at a rate above
// 10% of processed windows. The start time counts as activity so a fresh
// process is healthy.
func (r *Recorder) Health(interval time.Duration, running bool, now time.Time) HealthReport {
	s := r.Snapshot()
	report := HealthReport{
		Status:        StatusHealthy,
		Running:       running,
		UptimeSeconds: now.Sub(s.StartTime).Seconds(),
		Metrics:       s,
	}

	var last *time.Time
	for _, t := range []*time.Time{s.LastPcapProcessed, s.LastCSVProcessed, s.LastWindowProcessed} {
		if t != nil && (last == nil || t.After(*last)) {
			last = t
		}
	}
	baseline := s.StartTime
	if last != nil {
		report.LastActivity = last
		since := now.Sub(*last).Seconds()
		report.TimeSinceActivitySeconds = &since
		baseline = *last
	}

	switch {
	case now.Sub(baseline) > staleTicks*interval:
		report.Status = StatusDegraded
	case s.TotalErrors > errorCountFloor && s.ProcessedWindows > 0 &&
		float64(s.TotalErrors)/float64(s.ProcessedWindows) > maxErrorRate:
		report.Status = StatusDegraded
	}
	return report
}

// Package metrics tracks the scheduler's operational counters, latencies and
// health. A Recorder is safe for concurrent use: the scheduler writes while
// status handlers read.
package metrics

import (
	"sync"
	"time"
)

// Stage names a timed pipeline stage.
type Stage string

const (
	StageExtraction  Stage = "extraction"
	StageFeatureFile Stage = "feature_file"
	StageWindow      Stage = "window"
	StageTick        Stage = "tick"
)

// sampleWindow is how many recent latencies feed each moving average.
const sampleWindow = 100

type samples struct {
	buf  []float64
	next int
	sum  float64
}

func (s *samples) add(v float64) {
	if len(s.buf) < sampleWindow {
		s.buf = append(s.buf, v)
		s.sum += v
		return
	}
	s.sum += v - s.buf[s.next]
	s.buf[s.next] = v
	s.next = (s.next + 1) % sampleWindow
}

func (s *samples) mean() float64 {
	if len(s.buf) == 0 {
		return 0
	}
	return s.sum / float64(len(s.buf))
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	StartTime             time.Time  `json:"start_time"`
	Ticks                 int64      `json:"ticks"`
	ProcessedPcaps        int64      `json:"total_processed_pcaps"`
	ProcessedCSVs         int64      `json:"total_processed_csvs"`
	ProcessedWindows      int64      `json:"total_processed_windows"`
	SkippedEmptyFiles     int64      `json:"total_skipped_empty_files"`
	FlowsAnalyzed         int64      `json:"total_flows_analyzed"`
	AlertsCreated         int64      `json:"total_alerts_created"`
	Classifications       int64      `json:"ml_classifications"`
	NarrativesEnriched    int64      `json:"llm_summaries_generated"`
	NarrativesFailed      int64      `json:"llm_summaries_failed"`
	ExtractionErrors      int64      `json:"extraction_errors"`
	StoreErrors           int64      `json:"database_errors"`
	ClassificationErrors  int64      `json:"classification_errors"`
	TotalErrors           int64      `json:"total_errors"`
	LastPcapProcessed     *time.Time `json:"last_pcap_processed"`
	LastCSVProcessed      *time.Time `json:"last_csv_processed"`
	LastWindowProcessed   *time.Time `json:"last_window_processed"`
	LastTick              *time.Time `json:"last_tick"`
	AvgExtractionSeconds  float64    `json:"avg_processing_time_pcap"`
	AvgFeatureFileSeconds float64    `json:"avg_processing_time_csv"`
	AvgWindowSeconds      float64    `json:"avg_processing_time_window"`
	AvgTickSeconds        float64    `json:"avg_processing_time_tick"`
}

// Recorder accumulates metrics and mirrors them into Prometheus collectors
// when it has any.
type Recorder struct {
	mu      sync.Mutex
	snap    Snapshot
	latency map[Stage]*samples
	now     func() time.Time
	prom    *Collectors
}

// NewRecorder returns a recorder. prom may be nil.
func NewRecorder(prom *Collectors) *Recorder {
	r := &Recorder{
		latency: map[Stage]*samples{
			StageExtraction:  {},
			StageFeatureFile: {},
			StageWindow:      {},
			StageTick:        {},
		},
		now:  func() time.Time { return time.Now().UTC() },
		prom: prom,
	}
	r.snap.StartTime = r.now()
	return r
}

func stamp(t time.Time) *time.Time { return &t }

func (r *Recorder) observe(stage Stage, d time.Duration) {
	r.latency[stage].add(d.Seconds())
	if r.prom != nil {
		r.prom.StageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
	}
}

func (r *Recorder) incError(kind string) {
	r.snap.TotalErrors++
	if r.prom != nil {
		r.prom.Errors.WithLabelValues(kind).Inc()
	}
}

// Extracted records a segment converted into a feature file.
func (r *Recorder) Extracted(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.ProcessedPcaps++
	r.snap.LastPcapProcessed = stamp(r.now())
	r.observe(StageExtraction, d)
	if r.prom != nil {
		r.prom.Segments.Inc()
	}
}

// ExtractionFailed records a segment whose retries were exhausted.
func (r *Recorder) ExtractionFailed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.ExtractionErrors++
	r.incError("extraction")
}

// FeatureFileRead records a feature file read, classified and aggregated.
func (r *Recorder) FeatureFileRead(d time.Duration, flows int64, classified bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.ProcessedCSVs++
	r.snap.FlowsAnalyzed += flows
	if classified {
		r.snap.Classifications += flows
	}
	r.snap.LastCSVProcessed = stamp(r.now())
	r.observe(StageFeatureFile, d)
	if r.prom != nil {
		r.prom.Flows.Add(float64(flows))
	}
}

// EmptyFileSkipped records a feature file without rows.
func (r *Recorder) EmptyFileSkipped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.SkippedEmptyFiles++
}

// WindowStored records a persisted window and the time it took end to end.
func (r *Recorder) WindowStored(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.ProcessedWindows++
	r.snap.LastWindowProcessed = stamp(r.now())
	r.observe(StageWindow, d)
	if r.prom != nil {
		r.prom.Windows.Inc()
		r.prom.LastWindow.SetToCurrentTime()
	}
}

// AlertsCreated records newly persisted alerts.
func (r *Recorder) AlertsCreated(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.AlertsCreated += int64(n)
	if r.prom != nil {
		r.prom.Alerts.Add(float64(n))
	}
}

// Narrative records the outcome of an enrichment attempt.
func (r *Recorder) Narrative(enriched bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if enriched {
		r.snap.NarrativesEnriched++
	} else {
		r.snap.NarrativesFailed++
	}
	if r.prom != nil {
		outcome := "failed"
		if enriched {
			outcome = "enriched"
		}
		r.prom.Narratives.WithLabelValues(outcome).Inc()
	}
}

// ClassificationFailed records one row that degraded to Unknown.
func (r *Recorder) ClassificationFailed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.ClassificationErrors++
	r.incError("classification")
}

// StoreFailed records a failed store write.
func (r *Recorder) StoreFailed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.StoreErrors++
	r.incError("store")
}

// Failed records any other tick-level error.
func (r *Recorder) Failed(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incError(kind)
}

// TickFinished records a completed scheduler tick.
func (r *Recorder) TickFinished(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Ticks++
	r.snap.LastTick = stamp(r.now())
	r.observe(StageTick, d)
	if r.prom != nil {
		r.prom.Ticks.Inc()
	}
}

// Snapshot returns a copy of the current counters.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.snap
	s.AvgExtractionSeconds = r.latency[StageExtraction].mean()
	s.AvgFeatureFileSeconds = r.latency[StageFeatureFile].mean()
	s.AvgWindowSeconds = r.latency[StageWindow].mean()
	s.AvgTickSeconds = r.latency[StageTick].mean()
	return s
}

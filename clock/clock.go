// Package clock implements the Time Service (spec §4.1): a monotonic,
// peer-synchronized clock with drift estimation, grounded in the
// original source's LocalClock/NetworkTime/DriftMeasurement model
// (original_source/src/consensus/hashtimer.rs) and in the teacher's
// "single background task, readers take a read lock" concurrency shape
// (spec §5).
package clock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ippan/consensus/errs"
	"github.com/ippan/consensus/ids"
	"github.com/ippan/consensus/log"
	"github.com/ippan/consensus/metrics"
)

const (
	// minSamplesForDrift is the minimum window size before drift is reported.
	minSamplesForDrift = 10
	// alphaNumerator/alphaDenominator implement the smoothing factor
	// alpha = 0.1 using integer arithmetic so no float drifts into the
	// offset itself (the offset is still ns-precision int64 math).
	alphaNumerator   = 1
	alphaDenominator = 10
	// driftPresentThresholdNsPerSec is the |slope| bound above which
	// drift is considered "present".
	driftPresentThresholdNsPerSec = 1000
	// maxDriftSamples bounds the regression window.
	maxDriftSamples = 100
)

// Sample is a single peer time observation.
type Sample struct {
	PeerID      ids.NodeID
	RemoteNs    int64
	PrecisionNs int64
	ReceivedAt  time.Time
}

// Config configures the Time Service.
type Config struct {
	// MaxOffsetNs is the bound past which Now/offset reporting fails with
	// DriftExceeded.
	MaxOffsetNs int64
	// SampleMaxAge discards samples older than this.
	SampleMaxAge time.Duration
	// WindowSize bounds the sliding sample window.
	WindowSize int
}

// DefaultConfig returns sane defaults: 5s max offset, 60s sample age, a
// window of 256 samples.
func DefaultConfig() Config {
	return Config{
		MaxOffsetNs:  5 * int64(time.Second),
		SampleMaxAge: 60 * time.Second,
		WindowSize:   256,
	}
}

// Service is the Time Service. A single background goroutine owns sample
// ingestion; all other methods take only a read lock on the published
// snapshot, so they never block on network I/O (spec §5).
type Service struct {
	cfg Config
	log log.Logger

	samplesCh chan Sample
	wg        sync.WaitGroup
	cancel    context.CancelFunc

	mu          sync.RWMutex
	samples     []Sample
	offsetNs    int64
	driftHist   []driftPoint
	driftNsPerS int64
	precisionNs int64

	offsetGauge   interface{ Set(float64) }
	driftsCounter interface{ Add(float64) }
}

type driftPoint struct {
	at     time.Time
	offset int64
}

// New constructs a Service but does not start its background goroutine;
// call Start to begin ingesting samples.
func New(cfg Config, logger log.Logger, reg *metrics.Registry) *Service {
	if logger == nil {
		logger = log.NewNoOp()
	}
	s := &Service{
		cfg:       cfg,
		log:       logger,
		samplesCh: make(chan Sample, 1024),
	}
	if reg != nil {
		s.offsetGauge = reg.Gauge("ippan_clock_offset_ns", "current estimated clock offset in ns").WithLabelValues()
		s.driftsCounter = reg.Counter("ippan_clock_drift_samples_total", "total drift samples processed").WithLabelValues()
	}
	return s
}

// Start launches the single background ingestion goroutine.
func (s *Service) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop cancels the background goroutine and waits for it to exit,
// implementing the cooperative shutdown contract of spec §5.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case sample := <-s.samplesCh:
			s.ingest(sample)
		}
	}
}

// RegisterPeerSample enqueues a peer time sample for processing by the
// background goroutine. It never blocks: a full queue drops the oldest
// pending sample rather than stalling the caller.
func (s *Service) RegisterPeerSample(peerID ids.NodeID, remoteNs int64, precisionNs int64) {
	sample := Sample{PeerID: peerID, RemoteNs: remoteNs, PrecisionNs: precisionNs, ReceivedAt: time.Now()}
	select {
	case s.samplesCh <- sample:
	default:
		select {
		case <-s.samplesCh:
		default:
		}
		select {
		case s.samplesCh <- sample:
		default:
		}
	}
}

func (s *Service) ingest(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples = append(s.samples, sample)
	s.evictOld(sample.ReceivedAt)
	if len(s.samples) > s.cfg.WindowSize {
		s.samples = s.samples[len(s.samples)-s.cfg.WindowSize:]
	}

	median := s.medianRemoteLocked(sample.ReceivedAt)
	localNow := sample.ReceivedAt.UnixNano()
	delta := median - localNow

	// Exponential smoothing, alpha = 0.1, in integer ns.
	s.offsetNs += (delta - s.offsetNs) * alphaNumerator / alphaDenominator

	s.driftHist = append(s.driftHist, driftPoint{at: sample.ReceivedAt, offset: s.offsetNs})
	if len(s.driftHist) > maxDriftSamples {
		s.driftHist = s.driftHist[len(s.driftHist)-maxDriftSamples:]
	}
	s.driftNsPerS = 0
	if len(s.driftHist) >= minSamplesForDrift {
		s.driftNsPerS = regressionSlope(s.driftHist)
	}
	s.precisionNs = varianceOfLastN(s.driftHist, minSamplesForDrift)

	if s.offsetGauge != nil {
		s.offsetGauge.Set(float64(s.offsetNs))
	}
	if s.driftsCounter != nil {
		s.driftsCounter.Add(1)
	}
}

func (s *Service) evictOld(now time.Time) {
	if s.cfg.SampleMaxAge <= 0 {
		return
	}
	cutoff := now.Add(-s.cfg.SampleMaxAge)
	kept := s.samples[:0]
	for _, sample := range s.samples {
		if sample.ReceivedAt.After(cutoff) {
			kept = append(kept, sample)
		}
	}
	s.samples = kept
}

func (s *Service) medianRemoteLocked(now time.Time) int64 {
	if len(s.samples) == 0 {
		return now.UnixNano()
	}
	vals := make([]int64, len(s.samples))
	for i, sample := range s.samples {
		vals[i] = sample.RemoteNs
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid]
	}
	return (vals[mid-1] + vals[mid]) / 2
}

// Now returns the current IPPAN Time estimate: local wall clock plus the
// smoothed offset. It fails with DriftExceeded if the offset exceeds the
// configured bound, per §4.1.
func (s *Service) Now() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if abs64(s.offsetNs) > s.cfg.MaxOffsetNs {
		return 0, errs.New(errs.DriftExceeded, "offset %dns exceeds bound %dns", s.offsetNs, s.cfg.MaxOffsetNs)
	}
	return time.Now().UnixNano() + s.offsetNs, nil
}

// DriftEstimate returns the current drift estimate in ns/s and whether
// drift is "present" per the |slope| > 1000ns/s rule.
func (s *Service) DriftEstimate() (slope int64, present bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.driftNsPerS, abs64(s.driftNsPerS) > driftPresentThresholdNsPerSec
}

// Precision returns the variance-based precision estimate in ns. It is 0
// (undefined) until at least minSamplesForDrift drift points exist.
func (s *Service) Precision() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.precisionNs
}

// SampleCount reports how many drift points are held (one per ingested
// sample, at most maxDriftSamples), mainly for tests asserting the "≥10
// samples before drift is reported" rule.
func (s *Service) SampleCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.driftHist)
}

func regressionSlope(points []driftPoint) int64 {
	n := len(points)
	if n < 2 {
		return 0
	}
	t0 := points[0].at
	var sumX, sumY, sumXY, sumXX float64
	for _, p := range points {
		x := p.at.Sub(t0).Seconds()
		y := float64(p.offset)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	nf := float64(n)
	denom := nf*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	slope := (nf*sumXY - sumX*sumY) / denom
	return int64(slope)
}

func varianceOfLastN(points []driftPoint, n int) int64 {
	if len(points) < n {
		return 0
	}
	tail := points[len(points)-n:]
	var sum, sumSq float64
	for _, p := range tail {
		v := float64(p.offset)
		sum += v
		sumSq += v * v
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return int64(variance)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

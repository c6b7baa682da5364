package hooks

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/threepc/core/dto"
	"github.com/vadiminshakov/threepc/io/metrics"
)

// DefaultFailureProbability is the chance that simulated local work fails.
const DefaultFailureProbability = 1.0 / 6

// RandomFailureHook simulates local work that may succeed or not
type RandomFailureHook struct {
	mu  sync.Mutex
	rnd *rand.Rand
	p   float64
}

// NewRandomFailureHook creates a hook failing with probability p
func NewRandomFailureHook(p float64) *RandomFailureHook {
	return NewRandomFailureHookWithSource(p, rand.NewSource(time.Now().UnixNano()))
}

// NewRandomFailureHookWithSource is NewRandomFailureHook with a fixed source
func NewRandomFailureHookWithSource(p float64, src rand.Source) *RandomFailureHook {
	return &RandomFailureHook{rnd: rand.New(src), p: p}
}

// OnVoteRequest fails the local work with the configured probability
func (h *RandomFailureHook) OnVoteRequest(req *dto.VoteRequest) bool {
	h.mu.Lock()
	failed := h.rnd.Float64() < h.p
	h.mu.Unlock()

	if failed {
		log.Warnf("local work of participant %s failed", req.Participant)
	}
	return !failed
}

func (h *RandomFailureHook) OnOutcome(*dto.Outcome) {}

// StaticHook always returns the same local result
type StaticHook bool

func (h StaticHook) OnVoteRequest(*dto.VoteRequest) bool { return bool(h) }
func (h StaticHook) OnOutcome(*dto.Outcome)             {}

// MetricsHook counts local decisions and outcomes in prometheus
type MetricsHook struct {
	metrics   *metrics.Metrics
	startTime time.Time
}

// NewMetricsHook creates a new metrics hook
func NewMetricsHook(m *metrics.Metrics) *MetricsHook {
	return &MetricsHook{
		metrics:   m,
		startTime: time.Now(),
	}
}

// OnVoteRequest records that a vote was requested; it never vetoes
func (m *MetricsHook) OnVoteRequest(req *dto.VoteRequest) bool {
	log.WithFields(log.Fields{
		"participant": req.Participant,
		"coordinator": req.Coordinator,
		"uptime":      time.Since(m.startTime),
	}).Debug("Metrics: vote requested")
	return true
}

// OnOutcome records the local decision of the finished participant
func (m *MetricsHook) OnOutcome(o *dto.Outcome) {
	if o.Decision != "" {
		m.metrics.Decided(o.Decision)
	}
	log.WithFields(log.Fields{
		"participant": o.ID,
		"state":       o.State,
		"uptime":      time.Since(m.startTime),
	}).Info("Metrics: outcome")
}

// AuditHook logs all operations for audit purposes
type AuditHook struct {
	source string
}

// NewAuditHook creates a new audit hook
func NewAuditHook(source string) *AuditHook {
	return &AuditHook{
		source: source,
	}
}

// OnVoteRequest logs vote requests
func (a *AuditHook) OnVoteRequest(req *dto.VoteRequest) bool {
	auditMsg := fmt.Sprintf("[AUDIT] VOTE_REQUEST - Participant: %s, Coordinator: %s, Time: %s",
		req.Participant, req.Coordinator, time.Now().Format(time.RFC3339))

	log.WithField("audit", a.source).Info(auditMsg)
	return true
}

// OnOutcome logs terminal outcomes
func (a *AuditHook) OnOutcome(o *dto.Outcome) {
	auditMsg := fmt.Sprintf("[AUDIT] OUTCOME - %s, Time: %s", o, time.Now().Format(time.RFC3339))

	log.WithField("audit", a.source).Info(auditMsg)
}

package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RetryMetrics tracks what the retry decorator did with failed deliveries.
type RetryMetrics struct {
	mu sync.RWMutex

	// Per-topic counts
	topicCounts map[string]*TopicRetryMetrics

	// Prometheus collectors
	failuresTotal     *prometheus.CounterVec
	redeliveriesTotal *prometheus.CounterVec
	exhaustedTotal    *prometheus.CounterVec
	deadLettersTotal  *prometheus.CounterVec
	transportErrors   *prometheus.CounterVec
	attemptsHist      *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

// TopicRetryMetrics holds the counts for one origin topic.
type TopicRetryMetrics struct {
	Failures        uint64    `json:"failures"`
	Redeliveries    uint64    `json:"redeliveries"`
	Exhausted       uint64    `json:"exhausted"`
	DeadLetters     uint64    `json:"dead_letters"`
	TransportErrors uint64    `json:"transport_errors"`
	MaxAttempts     int       `json:"max_attempts"`
	LastFailureAt   time.Time `json:"last_failure_at,omitempty"`
}

// RetryMetricsSnapshot is a point-in-time copy of RetryMetrics.
type RetryMetricsSnapshot struct {
	TotalFailures     uint64                        `json:"total_failures"`
	TotalRedeliveries uint64                        `json:"total_redeliveries"`
	TotalExhausted    uint64                        `json:"total_exhausted"`
	TotalDeadLetters  uint64                        `json:"total_dead_letters"`
	TopicMetrics      map[string]*TopicRetryMetrics `json:"topic_metrics"`
	CollectedAt       time.Time                     `json:"collected_at"`
}

func newRetryCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "safetynet",
			Subsystem: "retry",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewRetryMetrics creates the collectors. They are registered with
// registerer (prometheus.DefaultRegisterer when nil) by Register.
func NewRetryMetrics(registerer prometheus.Registerer) *RetryMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &RetryMetrics{
		topicCounts:       make(map[string]*TopicRetryMetrics),
		registerer:        registerer,
		failuresTotal:     newRetryCounterVec("handler_failures_total", "Total number of failed handler invocations", []string{"topic"}),
		redeliveriesTotal: newRetryCounterVec("redeliveries_total", "Total number of payloads republished to their origin topic", []string{"topic"}),
		exhaustedTotal:    newRetryCounterVec("exhausted_total", "Total number of payloads that exceeded the retry limit", []string{"topic", "behavior"}),
		deadLettersTotal:  newRetryCounterVec("dead_letters_total", "Total number of payloads published to the error topic", []string{"topic", "error_topic"}),
		transportErrors:   newRetryCounterVec("transport_errors_total", "Total number of topic resolution or publish failures", []string{"topic", "op"}),
		attemptsHist: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "safetynet",
				Subsystem: "retry",
				Name:      "attempts",
				Help:      "Attempt counter observed after each failure",
				Buckets:   []float64{1, 2, 3, 5, 10, 20},
			},
			[]string{"topic"},
		),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *RetryMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.failuresTotal,
		m.redeliveriesTotal,
		m.exhaustedTotal,
		m.deadLettersTotal,
		m.transportErrors,
		m.attemptsHist,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

func (m *RetryMetrics) recordFailure(topic string, attempts int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.getOrCreateTopicMetrics(topic)
	metrics.Failures++
	metrics.LastFailureAt = time.Now()
	if attempts > metrics.MaxAttempts {
		metrics.MaxAttempts = attempts
	}

	m.failuresTotal.WithLabelValues(topic).Inc()
	m.attemptsHist.WithLabelValues(topic).Observe(float64(attempts))
}

func (m *RetryMetrics) recordRedelivery(topic string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.getOrCreateTopicMetrics(topic).Redeliveries++
	m.redeliveriesTotal.WithLabelValues(topic).Inc()
}

func (m *RetryMetrics) recordExhausted(topic, behavior, errorTopic string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.getOrCreateTopicMetrics(topic)
	metrics.Exhausted++
	m.exhaustedTotal.WithLabelValues(topic, behavior).Inc()
	if errorTopic != "" {
		metrics.DeadLetters++
		m.deadLettersTotal.WithLabelValues(topic, errorTopic).Inc()
	}
}

func (m *RetryMetrics) recordTransportError(topic, op string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.getOrCreateTopicMetrics(topic).TransportErrors++
	m.transportErrors.WithLabelValues(topic, op).Inc()
}

// GetSnapshot returns a point-in-time snapshot of all retry metrics.
func (m *RetryMetrics) GetSnapshot() RetryMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := RetryMetricsSnapshot{
		TopicMetrics: make(map[string]*TopicRetryMetrics, len(m.topicCounts)),
		CollectedAt:  time.Now(),
	}
	for topic, metrics := range m.topicCounts {
		metricsCopy := *metrics
		snapshot.TopicMetrics[topic] = &metricsCopy
		snapshot.TotalFailures += metrics.Failures
		snapshot.TotalRedeliveries += metrics.Redeliveries
		snapshot.TotalExhausted += metrics.Exhausted
		snapshot.TotalDeadLetters += metrics.DeadLetters
	}
	return snapshot
}

// GetTopicMetrics returns a copy of the metrics for topic, or nil.
func (m *RetryMetrics) GetTopicMetrics(topic string) *TopicRetryMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if metrics, ok := m.topicCounts[topic]; ok {
		metricsCopy := *metrics
		return &metricsCopy
	}
	return nil
}

func (m *RetryMetrics) getOrCreateTopicMetrics(topic string) *TopicRetryMetrics {
	if metrics, ok := m.topicCounts[topic]; ok {
		return metrics
	}
	metrics := &TopicRetryMetrics{}
	m.topicCounts[topic] = metrics
	return metrics
}

// Reset resets all metrics (useful for testing).
func (m *RetryMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.topicCounts = make(map[string]*TopicRetryMetrics)
	m.failuresTotal.Reset()
	m.redeliveriesTotal.Reset()
	m.exhaustedTotal.Reset()
	m.deadLettersTotal.Reset()
	m.transportErrors.Reset()
	m.attemptsHist.Reset()
}

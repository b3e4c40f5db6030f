package domain

import (
	"math"
	"time"
)

const (
	DefaultTargetUtilization  = 85.0
	DefaultCriticalThreshold  = 95.0
	DefaultErrorRateThreshold = 0.5
	loadHistoryLimit          = 100
)

// LoadMetrics is one point-in-time sample of a target service's load.
type LoadMetrics struct {
	ServiceID   string `json:"service_id"`
	ServiceName string `json:"service_name,omitempty"`

	CPUPercent        float64 `json:"cpu_percent"`
	MemoryPercent     float64 `json:"memory_percent"`
	ActiveRequests    int     `json:"active_requests"`
	QueueDepth        int     `json:"queue_depth"`
	AvgResponseTimeMs int64   `json:"avg_response_time_ms"`
	ErrorRate         float64 `json:"error_rate"`

	Timestamp time.Time `json:"timestamp"`

	TargetUtilization float64 `json:"target_utilization"`
	CriticalThreshold float64 `json:"critical_threshold"`
}

func NewLoadMetrics(serviceID, serviceName string, cpu, memory float64, activeRequests, queueDepth int, avgResponseTimeMs int64, errorRate float64, at time.Time) LoadMetrics {
	return LoadMetrics{
		ServiceID:         serviceID,
		ServiceName:       serviceName,
		CPUPercent:        cpu,
		MemoryPercent:     memory,
		ActiveRequests:    activeRequests,
		QueueDepth:        queueDepth,
		AvgResponseTimeMs: avgResponseTimeMs,
		ErrorRate:         errorRate,
		Timestamp:         at,
		TargetUtilization: DefaultTargetUtilization,
		CriticalThreshold: DefaultCriticalThreshold,
	}
}

// Score blends cpu, memory, queue depth and error rate into a single 0-100
// load figure.
func (m LoadMetrics) Score() float64 {
	return m.CPUPercent*0.3 + m.MemoryPercent*0.3 + m.queueScore()*0.2 + m.errorScore()*0.2
}

func (m LoadMetrics) queueScore() float64 {
	return math.Min(float64(m.QueueDepth)/1000.0*100, 100)
}

func (m LoadMetrics) errorScore() float64 {
	return m.ErrorRate * 100
}

func (m LoadMetrics) target() float64 {
	if m.TargetUtilization <= 0 {
		return DefaultTargetUtilization
	}
	return m.TargetUtilization
}

func (m LoadMetrics) critical() float64 {
	if m.CriticalThreshold <= 0 {
		return DefaultCriticalThreshold
	}
	return m.CriticalThreshold
}

func (m LoadMetrics) Overloaded() bool {
	return m.Score() >= m.critical()
}

func (m LoadMetrics) NeedsRebalance() bool {
	return m.Score() >= m.target() || m.ErrorRate > DefaultErrorRateThreshold
}

func (m LoadMetrics) CanAcceptWork() bool {
	return m.Score() < m.target() && m.ErrorRate < 0.3
}

func (m LoadMetrics) AcceptableResponseTime(max time.Duration) bool {
	return m.AvgResponseTimeMs <= max.Milliseconds()
}

// ServiceLoad tracks one target's current metrics plus a bounded history for
// trend detection. In-process only; never persisted individually.
type ServiceLoad struct {
	ServiceID   string
	ServiceName string

	Current LoadMetrics
	History []LoadMetrics
}

func NewServiceLoad(serviceID, serviceName string) *ServiceLoad {
	return &ServiceLoad{
		ServiceID:   serviceID,
		ServiceName: serviceName,
	}
}

// Update replaces the current sample and appends it to the history ring.
func (s *ServiceLoad) Update(m LoadMetrics) {
	m.ServiceID = s.ServiceID
	if m.ServiceName == "" {
		m.ServiceName = s.ServiceName
	}
	s.Current = m

	s.History = append(s.History, m)
	if len(s.History) > loadHistoryLimit {
		s.History = s.History[len(s.History)-loadHistoryLimit:]
	}
}

func (s *ServiceLoad) Score() float64 {
	return s.Current.Score()
}

func (s *ServiceLoad) Overloaded() bool {
	return s.Current.Overloaded()
}

func (s *ServiceLoad) NeedsRebalance() bool {
	return s.Current.NeedsRebalance()
}

func (s *ServiceLoad) CanAcceptWork() bool {
	return s.Current.CanAcceptWork()
}

func (s *ServiceLoad) ErrorRate() float64 {
	return s.Current.ErrorRate
}

func (s *ServiceLoad) AvailableCapacity() float64 {
	return math.Max(0, 100-s.Score())
}

// AverageLoad computes the mean score over samples inside the window, falling
// back to the current score when the window is empty.
func (s *ServiceLoad) AverageLoad(window time.Duration, now time.Time) float64 {
	cutoff := now.Add(-window)
	sum, n := 0.0, 0
	for _, m := range s.History {
		if m.Timestamp.After(cutoff) {
			sum += m.Score()
			n++
		}
	}
	if n == 0 {
		return s.Score()
	}
	return sum / float64(n)
}

// LoadIncreasing compares the last five samples; a 10% rise counts as an
// upward trend.
func (s *ServiceLoad) LoadIncreasing() bool {
	if len(s.History) < 5 {
		return false
	}
	recent := s.History[len(s.History)-5:]
	return recent[len(recent)-1].Score() > recent[0].Score()*1.1
}

type LoadTrend string

const (
	TrendIncreasing LoadTrend = "increasing"
	TrendDecreasing LoadTrend = "decreasing"
	TrendStable     LoadTrend = "stable"
)

func (s *ServiceLoad) Trend(now time.Time) LoadTrend {
	if s.LoadIncreasing() {
		return TrendIncreasing
	}
	if s.Score() < s.AverageLoad(5*time.Minute, now)*0.9 {
		return TrendDecreasing
	}
	return TrendStable
}

func (s *ServiceLoad) ShouldTripCircuitBreaker(errorThreshold float64, minRequests int) bool {
	return s.Current.ActiveRequests >= minRequests && s.Current.ErrorRate >= errorThreshold
}

type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
)

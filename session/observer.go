package session

import "github.com/sage-x-project/securestream/internal/metrics"

// Observer is the session's one hook point for global state (logging,
// metrics) living outside the core state machine. All methods must
// return quickly; Session calls them synchronously from the send/receive
// loops.
type Observer interface {
	OnHandshakeStart(sessionID string, mechanism Mechanism)
	OnHandshakeEnd(sessionID string, mechanism Mechanism, err error)
	OnRekeyStart(sessionID string)
	OnRekeyEnd(sessionID string, err error)
	OnRecordSealed(sessionID string, seq uint32, recordBytes int)
	OnRecordOpened(sessionID string, seq uint32, recordBytes int)
	OnError(sessionID string, err error)
}

// NoopObserver implements Observer with no-op methods; used when the
// caller does not care to wire an Observer.
type NoopObserver struct{}

func (NoopObserver) OnHandshakeStart(string, Mechanism)        {}
func (NoopObserver) OnHandshakeEnd(string, Mechanism, error)    {}
func (NoopObserver) OnRekeyStart(string)                        {}
func (NoopObserver) OnRekeyEnd(string, error)                   {}
func (NoopObserver) OnRecordSealed(string, uint32, int)         {}
func (NoopObserver) OnRecordOpened(string, uint32, int)         {}
func (NoopObserver) OnError(string, error)                      {}

// MetricsObserver records session lifecycle events into the package-level
// Prometheus vectors declared in internal/metrics.
type MetricsObserver struct{}

func NewMetricsObserver() *MetricsObserver { return &MetricsObserver{} }

func (MetricsObserver) OnHandshakeStart(sessionID string, mechanism Mechanism) {
	metrics.HandshakesStarted.WithLabelValues(string(mechanism)).Inc()
}

func (MetricsObserver) OnHandshakeEnd(sessionID string, mechanism Mechanism, err error) {
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues(string(mechanism)).Inc()
		return
	}
	metrics.HandshakesSucceeded.WithLabelValues(string(mechanism)).Inc()
}

func (MetricsObserver) OnRekeyStart(sessionID string) {
	metrics.RekeysStarted.Inc()
}

func (MetricsObserver) OnRekeyEnd(sessionID string, err error) {
	if err != nil {
		metrics.RekeysFailed.Inc()
		return
	}
	metrics.RekeysSucceeded.Inc()
}

func (MetricsObserver) OnRecordSealed(sessionID string, seq uint32, recordBytes int) {
	metrics.RecordsSealed.Inc()
	metrics.RecordBytesSealed.Add(float64(recordBytes))
}

func (MetricsObserver) OnRecordOpened(sessionID string, seq uint32, recordBytes int) {
	metrics.RecordsOpened.Inc()
	metrics.RecordBytesOpened.Add(float64(recordBytes))
}

func (MetricsObserver) OnError(sessionID string, err error) {
	metrics.SessionErrors.WithLabelValues(classifyError(err)).Inc()
}

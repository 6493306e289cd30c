package marketplace

import (
	"time"

	"go.uber.org/zap"
)

// AuditEntry is the request/response summary mirrored for every marketplace
// call, successful or not.
type AuditEntry struct {
	Method   string
	URL      string
	Status   int
	Duration time.Duration
	Error    string
	At       time.Time
}

// AuditSink receives a copy of every marketplace request/response for audit.
// Implementations must be cheap; the client never waits on them.
type AuditSink interface {
	Record(entry AuditEntry)
}

// NopAuditSink discards all entries.
type NopAuditSink struct{}

func (NopAuditSink) Record(AuditEntry) {}

type zapAuditSink struct {
	log *zap.SugaredLogger
}

// NewZapAuditSink mirrors marketplace traffic into the structured log.
func NewZapAuditSink(log *zap.SugaredLogger) AuditSink {
	return &zapAuditSink{log: log.Named("marketplace_audit")}
}

func (s *zapAuditSink) Record(entry AuditEntry) {
	s.log.Infow("marketplace call",
		"method", entry.Method,
		"url", entry.URL,
		"status", entry.Status,
		"duration_ms", entry.Duration.Milliseconds(),
		"error", entry.Error,
	)
}

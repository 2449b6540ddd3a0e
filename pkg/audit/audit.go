// Package audit records memory mutations as structured log events so
// operators can reconstruct who changed what.
package audit

import (
	"go.uber.org/zap"

	"github.com/recallhq/recall-go/pkg/logging"
	"github.com/recallhq/recall-go/pkg/storage"
)

// Sink writes audit events. All events go through one zap logger so they
// can be routed independently of application logs.
type Sink struct {
	logger *zap.Logger
}

// NewSink wraps a logger. A nil logger disables auditing.
func NewSink(logger *zap.Logger) *Sink {
	return &Sink{logger: logging.OrNop(logger)}
}

// Record emits one mutation event.
func (s *Sink) Record(op string, identity *storage.Identity, memoryID int64, fields ...zap.Field) {
	base := []zap.Field{
		zap.String("audit_op", op),
		zap.Int64("memory_id", memoryID),
	}
	if identity != nil {
		if identity.UserID != "" {
			base = append(base, zap.String("user_id", identity.UserID))
		}
		if identity.AgentID != "" {
			base = append(base, zap.String("agent_id", identity.AgentID))
		}
		if identity.RunID != "" {
			base = append(base, zap.String("run_id", identity.RunID))
		}
		if identity.ActorID != "" {
			base = append(base, zap.String("actor_id", identity.ActorID))
		}
	}
	s.logger.Info("audit", append(base, fields...)...)
}

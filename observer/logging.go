package observer

import (
	"context"
	"time"

	"github.com/evalgo-org/shardrelay/common"
)

// LoggingObserver logs the outcome and latency of every wrapped operation
// through a common.ContextLogger, the same builder the teacher's own
// service logging (common/logger.go) uses for request/operation tracking.
type LoggingObserver struct {
	logger *common.ContextLogger
}

// NewLoggingObserver builds a LoggingObserver over logger. A nil logger
// falls back to common.Logger via common.NewContextLogger's own default.
func NewLoggingObserver(logger *common.ContextLogger) *LoggingObserver {
	if logger == nil {
		logger = common.NewContextLogger(nil, nil)
	}
	return &LoggingObserver{logger: logger}
}

func (o *LoggingObserver) Observe(ctx context.Context, rec Record, next Continuation) (interface{}, error) {
	start := time.Now()
	entry := o.logger.WithFields(map[string]interface{}{
		"command":       rec.CommandName,
		"shard":         rec.ShardName,
		"entity_class":  rec.EntityClassName,
		"dao_class":     rec.DAOClassName,
		"op_variant":    rec.OperationVariant,
	})

	result, err := next(ctx)

	duration := time.Since(start)
	entry = entry.WithFields(map[string]interface{}{
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Error("shard operation failed")
		return result, err
	}
	entry.Debug("shard operation completed")
	return result, nil
}

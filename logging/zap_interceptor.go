package logging

import (
	"go.uber.org/zap"

	"github.com/unidal/dal"
)

// ZapInterceptor is the default Interceptor, adapting to a
// *zap.Logger. Unexpected errors log at error-level, every other
// error Kind logs at warn-level, and messages without an error always
// log at info-level.
type ZapInterceptor struct {
	Logger *zap.Logger
}

// NewZapInterceptor wraps logger. A nil logger falls back to
// zap.NewNop(), so a zero-value ZapInterceptor never panics.
func NewZapInterceptor(logger *zap.Logger) ZapInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return ZapInterceptor{Logger: logger}
}

func (z ZapInterceptor) Log(info *dal.AccessorInfo, op dal.Operation, ctx []dal.KV, message string, err error) {
	logger := z.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	fields := make([]zap.Field, 0, len(ctx)+3)
	if info != nil {
		fields = append(fields, zap.String("scheme", info.Scheme), zap.String("backend", info.Name))
	}
	fields = append(fields, zap.String("operation", op.String()))
	for _, kv := range ctx {
		fields = append(fields, zap.String(kv.Key, kv.Value))
	}

	if err == nil {
		logger.Info(message, fields...)
		return
	}

	fields = append(fields, zap.Error(err))
	if severity(err) == "error" {
		logger.Error(message, fields...)
		return
	}
	logger.Warn(message, fields...)
}

var _ Interceptor = ZapInterceptor{}

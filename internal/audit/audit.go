// Package audit writes structured audit events for privileged actions.
package audit

import (
	"context"

	"github.com/dropDatabas3/storefront/internal/observability/logger"
	"go.uber.org/zap"
)

// Log writes one audit event. Events go through the structured logger
// today; the sink can become a table or external system later without
// touching call sites.
func Log(ctx context.Context, event string, fields map[string]any) {
	zf := make([]zap.Field, 0, len(fields)+1)
	zf = append(zf, zap.String("event", event))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	logger.From(ctx).Named("audit").Info("audit", zf...)
}

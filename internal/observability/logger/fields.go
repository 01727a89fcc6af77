package logger

import (
	"time"

	"go.uber.org/zap"
)

// Standard HTTP fields.

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }
func ClientIP(v string) zap.Field  { return zap.String("client_ip", v) }

func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }
func Bytes(v int) zap.Field              { return zap.Int("bytes", v) }

// Standard business fields.

func UserID(v string) zap.Field  { return zap.String("user_id", v) }
func Email(v string) zap.Field   { return zap.String("email", v) }
func Role(v string) zap.Field    { return zap.String("role", v) }
func OrderID(v string) zap.Field { return zap.String("order_id", v) }
func SKU(v string) zap.Field     { return zap.String("sku", v) }

// Layer identifies the architectural layer emitting the log
// (controller, service, store, gate).
func Layer(v string) zap.Field { return zap.String("layer", v) }

// Op identifies the operation, e.g. "Authorizer.Require".
func Op(v string) zap.Field { return zap.String("op", v) }

func Err(err error) zap.Field { return zap.Error(err) }

// Any is the escape hatch for one-off values.
func Any(key string, v any) zap.Field { return zap.Any(key, v) }

package logger

import (
	"time"

	"go.uber.org/zap"
)

// HTTP

func RequestID(v string) zap.Field       { return zap.String("request_id", v) }
func Method(v string) zap.Field          { return zap.String("method", v) }
func Path(v string) zap.Field            { return zap.String("path", v) }
func Status(v int) zap.Field             { return zap.Int("status", v) }
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }
func Bytes(v int) zap.Field              { return zap.Int("bytes", v) }

// IPHash records the salted client IP hash. Raw addresses are never logged.
func IPHash(v string) zap.Field { return zap.String("ip_hash", preview(v)) }

// Domain

// UserKey logs a truncated user key.
func UserKey(v string) zap.Field   { return zap.String("user_key", preview(v)) }
func SessionID(v string) zap.Field { return zap.String("session_id", v) }
func ReportID(v string) zap.Field  { return zap.String("report_id", v) }
func BanID(v string) zap.Field     { return zap.String("ban_id", v) }
func Mode(v string) zap.Field      { return zap.String("mode", v) }
func Op(v string) zap.Field        { return zap.String("op", v) }
func Component(v string) zap.Field { return zap.String("component", v) }
func Err(err error) zap.Field      { return zap.Error(err) }
func Score(v float64) zap.Field    { return zap.Float64("score", v) }

func preview(v string) string {
	if len(v) <= 12 {
		return v
	}
	return v[:12]
}

// Package logx configures remindbot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional Telegram sink for operators (min-level + rate limiting)
//
// Loggers derived from a Service follow Service.Apply, so config hot reload
// changes levels and sinks without rebuilding component loggers.
package logx

// Package logx is taglistbot's structured logging layer.
//
// logx.Logger wraps zerolog so call sites stay small:
//   - console output with short timestamp and caller
//   - JSON lines in the optional log file
//   - optional Telegram sink for operators (min level + rate limit)
package logx

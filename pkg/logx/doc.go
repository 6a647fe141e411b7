// Package logx configures relaybot's structured logging.
//
// It wraps zerolog behind a small value-type Logger so components can be
// handed a logger without caring which sinks are active:
//   - Console output (short timestamp + short caller)
//   - File output as JSON lines
//   - Optional Telegram sink that mirrors WARN/ERROR lines to the admin chat
package logx

// Package logging provides structured logging for the instrument station.
//
// It wraps log/slog so every component logs the same way: JSON in
// production, text for development, with service and version attached to
// every record.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	registry.SetLogger(logger.Component("registry"))
//	logger.Info("station listening", "addr", cfg.Transport.Addr())
//
// Never log bearer tokens, MQTT passwords or the JWT secret.
package logging

// Package logging provides structured logging for the Homismart client.
//
// It wraps log/slog so every component emits the same default fields
// (service, version) and honours one level filter.
//
// Configuration comes from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("connecting", "url", cfg.Homismart.URL)
//
// Never log account passwords. Usernames are fine.
package logging

// Package logging provides structured logging for wirehome.
//
// It wraps log/slog with the daemon's default fields (service, version)
// and level filtering. The returned Logger satisfies the Logger interfaces
// of the component packages directly.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr or a file path
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	defer logger.Close()
//	reg.SetLogger(logger.Component("device"))
//
// Never log disarm credentials or tokens.
package logging

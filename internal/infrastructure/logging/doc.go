// Package logging is the structured logger shared by HiveLink processes.
//
// It is a thin layer over log/slog: JSON or text output, a level that can
// be raised or lowered at runtime, and service/version/role fields on
// every entry. Attributes keyed token, secret or password are replaced
// with "[REDACTED]" so bridge credentials cannot leak into logs.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Components take a child logger:
//
//	log := logging.New(cfg.Logging, version, cfg.Node.Role)
//	server.SetLogger(log.Component("dispatch"))
package logging

// Package config loads the YAML configuration shared by both HiveLink
// binaries.
//
// Load reads the file, applies HIVELINK_* environment overrides and then
// validates the result for the node's role: a backend needs a database
// and a broker it can host the registry on, a frontend needs the API
// listener and a broker it can reach the backends through.
//
// Secrets (the JWT secret, broker passwords, bridge tokens) belong in the
// environment rather than the file. Every node that mints or checks
// bridge tokens must share security.jwt.secret.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
package config

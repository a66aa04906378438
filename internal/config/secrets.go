package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Operator
	out.Operator = cfg.Operator
	redact(&out.Operator.PrivateKey)
	redact(&out.Operator.KeyPassword)

	// Postgres
	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// S3
	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	redact(&out.Server.APIKey)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}
	if cfg.Clearing.InventoryHolders != nil {
		out.Clearing.InventoryHolders = make([]string, len(cfg.Clearing.InventoryHolders))
		copy(out.Clearing.InventoryHolders, cfg.Clearing.InventoryHolders)
	}
	if cfg.Clearing.Matchers != nil {
		out.Clearing.Matchers = make([]MatcherConfig, len(cfg.Clearing.Matchers))
		copy(out.Clearing.Matchers, cfg.Clearing.Matchers)
		for i := range out.Clearing.Matchers {
			redact(&out.Clearing.Matchers[i].HMACSecret)
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

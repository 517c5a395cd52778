package config

// RedactedConfig returns a copy of cfg with secrets replaced by "***", for
// logging.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Chain.RPCURL)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.Venues = append([]VenueConfig(nil), cfg.Venues...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	if cfg.Flash.Balances != nil {
		out.Flash.Balances = make(map[string]string, len(cfg.Flash.Balances))
		for k, v := range cfg.Flash.Balances {
			out.Flash.Balances[k] = v
		}
	}
	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

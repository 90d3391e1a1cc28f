package config

// ServiceURLs contains URLs for downstream services based on environment.
type ServiceURLs struct {
	// MailRelayBaseURL is the base URL of the transactional mail relay API.
	MailRelayBaseURL string
}

// GetServiceURLs returns environment-appropriate URLs for downstream services.
//
// Example usage:
//
//	cfg, _ := config.Load()
//	relay := cfg.GetServiceURLs().MailRelayBaseURL
func (c *Config) GetServiceURLs() ServiceURLs {
	switch c.Environment.Environment {
	case NonProd:
		return ServiceURLs{
			MailRelayBaseURL: "https://mail-relay.staging.amis-harmonie-sucy.fr/api/v1",
		}
	case Prod:
		return ServiceURLs{
			MailRelayBaseURL: "https://mail-relay.amis-harmonie-sucy.fr/api/v1",
		}
	case Local:
		fallthrough
	default:
		return ServiceURLs{
			MailRelayBaseURL: "http://localhost:8025/api/v1",
		}
	}
}

package config

import (
	"io"
	"log/slog"

	"github.com/hazyhaar/visreg/sink"
)

// BuildSinks instantiates the configured sinks behind a fan-out router.
// Stdout sinks write to w.
func (c *Config) BuildSinks(w io.Writer, logger *slog.Logger) *sink.Router {
	if logger == nil {
		logger = slog.Default()
	}
	var sinks []sink.Sink
	for _, sc := range c.Sinks {
		switch sc.Type {
		case "stdout":
			sinks = append(sinks, sink.NewStdout(w))
		case "webhook":
			sinks = append(sinks, sink.NewWebhook(sc.URL,
				sink.WithWebhookRetries(sc.Retries),
				sink.WithWebhookLogger(logger)))
		default:
			logger.Warn("config: unknown sink type, skipped", "type", sc.Type)
		}
	}
	return sink.NewRouter(logger, sinks...)
}

package bridge

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/c360/natsbridge/config"
	"github.com/c360/natsbridge/errors"
	"github.com/c360/natsbridge/pkg/tlsutil"
	"github.com/c360/natsbridge/sink"
)

// BuildSink creates and starts the sinks selected in cfg. Several sink
// types are combined with sink.Multi. On failure every sink already
// created is closed. stdout receives the JSON lines of the stdout sink.
func BuildSink(cfg config.SinkConfig, stdout io.Writer, logger *slog.Logger) (sink.Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var sinks sink.Multi
	fail := func(err error) (sink.Sink, error) {
		_ = sinks.Close()
		return nil, err
	}

	for _, kind := range cfg.Types {
		switch kind {
		case config.SinkStdout:
			sinks = append(sinks, sink.NewWriter(stdout))

		case config.SinkFile:
			w, err := sink.OpenFile(cfg.File.Path)
			if err != nil {
				return fail(err)
			}
			sinks = append(sinks, w)

		case config.SinkWebhook:
			hc := sink.WebhookConfig{
				URL:     cfg.Webhook.URL,
				Headers: cfg.Webhook.Headers,
				Timeout: cfg.Webhook.Timeout.Std(),
				Retries: cfg.Webhook.Retries,
			}
			if cfg.Webhook.TLS.Enabled() {
				tlsCfg, err := tlsutil.LoadClientConfig(cfg.Webhook.TLS)
				if err != nil {
					return fail(err)
				}
				hc.TLSConfig = tlsCfg
			}
			h, err := sink.NewWebhook(hc)
			if err != nil {
				return fail(err)
			}
			sinks = append(sinks, h)

		case config.SinkWebSocket:
			ws := sink.NewWebSocket(sink.WebSocketConfig{
				Port:   cfg.WebSocket.Port,
				Path:   cfg.WebSocket.Path,
				Logger: logger,
			})
			if err := ws.Start(); err != nil {
				return fail(err)
			}
			sinks = append(sinks, ws)

		default:
			return fail(errors.WrapInvalid(
				fmt.Errorf("%w: unknown sink type %q", errors.ErrInvalidConfig, kind),
				"Bridge", "BuildSink", "select sink"))
		}

		logger.Debug("output sink configured", "component", "bridge", "type", kind)
	}

	switch len(sinks) {
	case 0:
		return sink.Discard, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

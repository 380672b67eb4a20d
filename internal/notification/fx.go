package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clavis/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const pollInterval = 5 * time.Second

var Module = fx.Module("notification",
	fx.Provide(
		fx.Annotate(provideLogSink, fx.ResultTags(`group:"notification_sinks"`)),
		fx.Annotate(provideSMTPSink, fx.ResultTags(`group:"notification_sinks"`)),
	),
	fx.Provide(NewConsumer),
	fx.Invoke(runConsumer),
)

func provideLogSink(log *zap.Logger) Sink {
	return NewLogSink(log)
}

// provideSMTPSink wires SMTP delivery when a host is configured; without one
// the log sink alone carries notifications.
func provideSMTPSink(cfg config.Config, log *zap.Logger) Sink {
	if strings.TrimSpace(cfg.SMTPHost) == "" {
		return nil
	}
	resolver := func(userID snowflake.ID) (string, bool) {
		if cfg.EmailRecipientTemplate == "" {
			return "", false
		}
		return fmt.Sprintf(cfg.EmailRecipientTemplate, userID.String()), true
	}
	return NewSMTPSink(SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPass,
		From:     cfg.SMTPFrom,
	}, resolver, log)
}

func runConsumer(lc fx.Lifecycle, consumer *Consumer) {
	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				ticker := time.NewTicker(pollInterval)
				defer ticker.Stop()

				for {
					if err := consumer.ProcessPending(runCtx); err != nil {
						consumer.log.Error("notification poll failed", zap.Error(err))
					}
					select {
					case <-runCtx.Done():
						return
					case <-ticker.C:
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
}

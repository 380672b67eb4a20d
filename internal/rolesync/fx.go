package rolesync

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const pollInterval = 5 * time.Second

var Module = fx.Module("rolesync",
	fx.Provide(NewEnforcer),
	fx.Provide(NewService),
	fx.Provide(NewConsumer),
	fx.Invoke(runConsumer),
)

func runConsumer(lc fx.Lifecycle, consumer *Consumer) {
	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				ticker := time.NewTicker(pollInterval)
				defer ticker.Stop()

				for {
					if err := consumer.ProcessPending(runCtx); err != nil {
						consumer.log.Error("role sync poll failed", zap.Error(err))
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

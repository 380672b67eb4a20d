package sweeper

import (
	"context"

	"github.com/smallbiznis/clavis/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("sweeper",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(runSweeper),
)

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: cfg.SweeperInterval,
		BatchSize:   cfg.SweeperBatchSize,
	}.withDefaults()
}

func runSweeper(lc fx.Lifecycle, s *Sweeper) {
	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go s.RunForever(runCtx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

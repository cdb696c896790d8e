//go:build wireinject
// +build wireinject

package app

import (
	"context"

	"github.com/google/wire"
	"go.uber.org/zap"

	"agentflow/internal/domain"
)

func InitializeCore(cfg domain.Config, logger *zap.Logger) (*Core, func(), error) {
	wire.Build(CoreInfraSet)
	return nil, nil, nil
}

func InitializeApplication(ctx context.Context, cfg domain.Config, serve ServeConfig, logger *zap.Logger) (*Application, func(), error) {
	wire.Build(AppSet)
	return nil, nil, nil
}

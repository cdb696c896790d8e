//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"
)

var CoreInfraSet = wire.NewSet(
	NewMetricsRegistry,
	NewMetrics,
	NewHealthTracker,
	NewStageEventHub,
	NewCredentialGate,
	NewToolServerRegistry,
	NewMCPClient,
	NewToolsetBuilder,
	NewModelCapability,
	NewApprovalBroker,
	NewRunStore,
	wire.Struct(new(CoreOptions), "*"),
	NewCore,
)

var ServeSet = wire.NewSet(
	NewProber,
	NewRPCServer,
	NewObservabilityController,
	NewEventPublisher,
	wire.Struct(new(ApplicationOptions), "*"),
	NewApplication,
)

var AppSet = wire.NewSet(
	CoreInfraSet,
	ServeSet,
)

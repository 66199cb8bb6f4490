package gate

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/quotameter/internal/gate/service"
)

var Module = fx.Module("gate.service",
	fx.Provide(service.New),
)

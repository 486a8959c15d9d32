// Package config provides the Fx providers for configuration-related components.
package config

import "go.uber.org/fx"

// Module applies a supplied *Config to the logger when the container is built.
var Module = fx.Options(
	fx.Invoke(Apply),
)

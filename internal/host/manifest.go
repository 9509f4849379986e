package host

import (
	"slices"

	"github.com/atlanticdynamic/envbridge/internal/config"
	"github.com/atlanticdynamic/envbridge/internal/install"
)

// Manifest converts configured dependencies into installer specs, keeping
// their order.
func Manifest(deps []config.Dependency) []install.Spec {
	specs := make([]install.Spec, 0, len(deps))
	for _, d := range deps {
		target := install.TargetIsolated
		if d.Target == config.TargetHost {
			target = install.TargetHost
		}
		specs = append(specs, install.Spec{
			Name:      d.Name,
			Version:   d.Version,
			Module:    d.Module,
			Target:    target,
			ExtraArgs: slices.Clone(d.ExtraArgs),
		})
	}
	return specs
}

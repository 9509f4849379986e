package provision

import (
	"github.com/atlanticdynamic/envbridge/internal/finitestate"
)

// Descriptor is the provisioner's view of one environment. Only the
// provisioner mutates it; callers receive copies.
type Descriptor struct {
	Root            string
	VenvDir         string
	InterpreterPath string
	MarkerFiles     []string
	AssetPath       string
	State           string
}

// Ready reports whether the environment can run operations.
func (d Descriptor) Ready() bool {
	return d.State == finitestate.StateReady
}

func (d Descriptor) clone() *Descriptor {
	out := d
	out.MarkerFiles = append([]string(nil), d.MarkerFiles...)
	return &out
}

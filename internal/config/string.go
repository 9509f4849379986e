package config

import (
	"fmt"
	"strings"

	"github.com/atlanticdynamic/envbridge/internal/fancy"
	"github.com/charmbracelet/lipgloss/tree"
)

// ConfigTree renders the configuration for the validate command.
func ConfigTree(c *Config) *tree.Tree {
	root := fancy.Tree()
	root.Root(fancy.RootStyle.Render("envbridge configuration"))

	env := fancy.BranchNode("Environment", "")
	env.Child(fancy.KeyValue("root", fancy.PathText(orDefault(c.Environment.Root, "(user cache dir)"))))
	env.Child(fancy.KeyValue("venv", c.Environment.VenvDir))
	env.Child(fancy.KeyValue("base interpreter", orDefault(c.Environment.BaseInterpreter, "(discover on PATH)")))
	env.Child(fancy.KeyValue("host interpreter", orDefault(c.Environment.HostInterpreter, "(base interpreter)")))
	env.Child(fancy.KeyValue("space", fmt.Sprintf("%d + %d bytes", c.Space.RequiredBytes, c.Space.BufferBytes)))
	root.Child(env)

	deps := fancy.BranchNode("Dependencies", fmt.Sprintf("(%d)", len(c.Dependencies)))
	for _, d := range c.Dependencies {
		node := tree.New().Root(fancy.DependencyText(d.Name+d.Version) + " " + fancy.InfoStyle.Render(d.Target))
		if len(d.ExtraArgs) > 0 {
			node.Child(fancy.KeyValue("extra args", strings.Join(d.ExtraArgs, " ")))
		}
		if d.Module != "" {
			node.Child(fancy.KeyValue("module", d.Module))
		}
		deps.Child(node)
	}
	root.Child(deps)

	asset := fancy.BranchNode("Asset", "")
	asset.Child(fancy.KeyValue("url", fancy.AssetText(fancy.TruncateString(c.Asset.URL, 80))))
	asset.Child(fancy.KeyValue("install as", c.Asset.Dir+"/"+c.Asset.Name))
	root.Child(asset)

	bridge := fancy.BranchNode("Bridge", "")
	bridge.Child(fancy.KeyValue("entry point", strings.Join(c.Bridge.EntryPoint, " ")))
	bridge.Child(fancy.KeyValue("activation", c.Bridge.Activation))
	bridge.Child(fancy.KeyValue("generator", strings.Join(c.Generator.Command, " ")))
	root.Child(bridge)

	return root
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

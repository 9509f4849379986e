package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/atlanticdynamic/envbridge/internal/diskspace"
	"github.com/atlanticdynamic/envbridge/internal/fancy"
	"github.com/atlanticdynamic/envbridge/internal/finitestate"
	"github.com/atlanticdynamic/envbridge/internal/pathstore"
	"github.com/atlanticdynamic/envbridge/internal/pathutil"
	"github.com/atlanticdynamic/envbridge/internal/provision"
	"github.com/charmbracelet/lipgloss/tree"
	"github.com/urfave/cli/v3"
)

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the recorded environment paths and free space without provisioning",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			st, err := stateFrom(ctx)
			if err != nil {
				return cli.Exit(err, 1)
			}
			client, err := st.newClient(nil)
			if err != nil {
				return cli.Exit(err, 1)
			}
			root, err := client.Root()
			if err != nil {
				return cli.Exit(fmt.Errorf("failed to resolve environment root: %w", err), 1)
			}

			t, err := statusTree(client.Store(), client.Guard(), root, st.cfg.Space.RequiredBytes+st.cfg.Space.BufferBytes)
			if err != nil {
				return cli.Exit(err, 1)
			}
			fmt.Fprintln(cmd.Root().Writer, t)
			return nil
		},
	}
}

// statusTree reports what the path store remembers and whether those paths
// still exist, plus the free space under root.
func statusTree(store *pathstore.Store, guard *diskspace.Guard, root string, needed uint64) (*tree.Tree, error) {
	t := fancy.Tree()
	t.Root(fancy.RootStyle.Render("envbridge status"))

	paths := fancy.BranchNode("Recorded paths", "")
	keys, err := store.Keys()
	switch {
	case errors.Is(err, pathstore.ErrCorrupt):
		paths.Child(fancy.ErrorText("path store is corrupt; the next provision starts from scratch"))
	case err != nil:
		return nil, fmt.Errorf("failed to read path store: %w", err)
	case len(keys) == 0:
		paths.Child(fancy.InfoStyle.Render("none; the environment has not been provisioned"))
	}
	for _, key := range keys {
		p, err := store.Read(key)
		if errors.Is(err, pathstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		status := fancy.ValidText("present")
		if !pathutil.Exists(p) {
			status = fancy.ErrorText("missing")
		}
		paths.Child(fancy.KeyValue(key, fancy.PathText(p)+" "+status))
	}
	paths.Child(fancy.KeyValue("store", fancy.PathText(store.Path())))
	t.Child(paths)

	space := fancy.BranchNode("Disk space", "")
	free, probed, err := guard.Free(root)
	if err != nil {
		space.Child(fancy.ErrorText(err.Error()))
	} else {
		verdict := fancy.ValidText("enough for a fresh environment")
		if free < needed {
			verdict = fancy.ErrorText("below the " + diskspace.FormatBytes(needed) + " needed for a fresh environment")
		}
		space.Child(fancy.KeyValue("probed", fancy.PathText(probed)))
		space.Child(fancy.KeyValue("free", diskspace.FormatBytes(free)+" "+verdict))
	}
	t.Child(space)
	return t, nil
}

// descriptorTree renders a provisioned environment.
func descriptorTree(desc *provision.Descriptor) *tree.Tree {
	t := fancy.Tree()
	t.Root(fancy.RootStyle.Render("environment"))
	t.Child(fancy.KeyValue("state", fancy.StageText(desc.State)))
	stages := fancy.BranchNode("Stages", "")
	for _, stage := range finitestate.ProvisionStates[1:] {
		mark := fancy.ErrorText("pending")
		if finitestate.Reached(desc.State, stage) {
			mark = fancy.ValidText("done")
		}
		stages.Child(fancy.KeyValue(stage, mark))
	}
	t.Child(stages)
	t.Child(fancy.KeyValue("root", fancy.PathText(desc.Root)))
	t.Child(fancy.KeyValue("venv", fancy.PathText(desc.VenvDir)))
	t.Child(fancy.KeyValue("interpreter", fancy.PathText(desc.InterpreterPath)))
	if desc.AssetPath != "" {
		t.Child(fancy.KeyValue("asset", fancy.AssetText(desc.AssetPath)))
	}
	if len(desc.MarkerFiles) > 0 {
		t.Child(fancy.KeyValue("markers", strings.Join(desc.MarkerFiles, ", ")))
	}
	return t
}

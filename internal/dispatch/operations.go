package dispatch

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/atlanticdynamic/envbridge/internal/fetch"
	"github.com/atlanticdynamic/envbridge/internal/pathutil"
)

// Canonical operation names.
const (
	FetchAssetOperation    = "fetch_asset"
	RunGenerationOperation = "run_generation"
)

// AssetFetcher is satisfied by *fetch.Fetcher.
type AssetFetcher interface {
	Fetch(ctx context.Context, asset fetch.Asset) (string, error)
}

// FetchAsset downloads remote_url and unpacks its top-level directory to
// local_path, returning local_path. An existing local_path is kept as is.
func FetchAsset(fetcher AssetFetcher) Operation {
	return Operation{
		Name:  FetchAssetOperation,
		Usage: "Download and unpack a remote archive",
		Params: []Param{
			{Name: "remote_url", Usage: "archive URL", Required: true},
			{Name: "local_path", Usage: "directory the archive's contents end up in", Required: true},
		},
		Func: func(ctx context.Context, args map[string]string) (string, error) {
			final, err := filepath.Abs(args["local_path"])
			if err != nil {
				return "", err
			}
			return fetcher.Fetch(ctx, fetch.Asset{
				URL:         args["remote_url"],
				ExtractRoot: filepath.Dir(final),
				FinalPath:   final,
			})
		},
	}
}

// RunGeneration asks gen for a texture at a unique path under save_path and
// returns that path.
func RunGeneration(gen Generator) Operation {
	return Operation{
		Name:  RunGenerationOperation,
		Usage: "Generate a texture from a text prompt",
		Params: []Param{
			{Name: "texture_name", Usage: "output file name without extension", Required: true},
			{Name: "texture_prompt", Usage: "text prompt", Required: true},
			{Name: "save_path", Usage: "output directory", Required: true},
			{Name: "texture_format", Usage: "output extension including the dot", Required: true},
			{Name: "model_path", Usage: "model weights directory", Required: true},
			{Name: "device", Usage: "render device", Required: true},
		},
		Func: func(ctx context.Context, args map[string]string) (string, error) {
			if err := ensureDir(args["save_path"]); err != nil {
				return "", err
			}
			output := pathutil.Uniquify(filepath.Join(args["save_path"], args["texture_name"]) + args["texture_format"])

			req := GenerationRequest{
				TextureName:   args["texture_name"],
				TexturePrompt: args["texture_prompt"],
				SavePath:      args["save_path"],
				TextureFormat: args["texture_format"],
				ModelPath:     args["model_path"],
				Device:        args["device"],
				Output:        output,
			}
			if err := gen.Generate(ctx, req); err != nil {
				return "", fmt.Errorf("generating %s: %w", output, err)
			}
			return output, nil
		},
	}
}

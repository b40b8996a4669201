package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"comfy-relay/server/internal/generators"
	"comfy-relay/server/internal/models"
)

const catalogTimeout = 30 * time.Second

func newWorkflowCommand(configPath *string) *cobra.Command {
	req := models.DefaultGenerateRequest()
	var offline bool

	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Print the workflow graph a generate request would submit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, restore, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer restore()

			if err := req.Validate(); err != nil {
				return err
			}

			catalog := &models.ModelCatalog{}
			if !offline {
				ctx, cancel := context.WithTimeout(cmd.Context(), catalogTimeout)
				defer cancel()
				catalog, err = generators.NewComfyUIClient(cfg.ComfyUIURL(), cfg.ComfyUI.Timeout).AvailableModels(ctx)
				if err != nil {
					return err
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(generators.BuildWorkflow(&req, catalog))
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&req.Prompt, "prompt", "p", "", "Positive prompt")
	flags.StringVar(&req.NegativePrompt, "negative", "", "Negative prompt (default template when empty)")
	flags.Int64Var(&req.Seed, "seed", req.Seed, "Sampler seed, -1 for random")
	flags.Uint32Var(&req.Width, "width", req.Width, "Image width")
	flags.Uint32Var(&req.Height, "height", req.Height, "Image height")
	flags.Uint32Var(&req.Steps, "steps", req.Steps, "Sampling steps")
	flags.Float64Var(&req.CFG, "cfg", req.CFG, "CFG scale")
	flags.BoolVar(&offline, "offline", false, "Skip the model catalog and use fallback model names")
	cmd.MarkFlagRequired("prompt")

	return cmd
}

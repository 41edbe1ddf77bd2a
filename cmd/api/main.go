package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chefai/internal/apperr"
	"chefai/internal/config"
	"chefai/internal/recipe"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if apperr.Is(err, apperr.KindConfig) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "api",
		Short: "Recipe suggestions from the ingredients you have",
		Long: `api serves the ШефИИ app: a list of ingredients goes in, a batch of
recipe cards with generated dish photos comes out.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	})
	root.AddCommand(newGenerateCmd(&configPath))
	return root
}

// loadConfig loads and validates the configuration. A missing credential
// stops the program before anything is served.
func loadConfig(path string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, log, nil
}

func runServe(ctx context.Context, configPath string) error {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	return serve(ctx, cfg, log)
}

func newGenerateCmd(configPath *string) *cobra.Command {
	var planName string

	cmd := &cobra.Command{
		Use:   "generate <ingredient>...",
		Short: "Generate one batch of recipes and print it as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := recipe.ParsePlan(planName)
			if err != nil {
				return err
			}
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			gens, err := newGenerators(cmd.Context(), cfg.AI, log)
			if err != nil {
				return err
			}
			defer func() { _ = gens.close() }()

			return generate(cmd.Context(), cmd.OutOrStdout(), gens, plan, args)
		},
	}
	cmd.Flags().StringVar(&planName, "plan", string(recipe.PlanBasic), "plan to generate for (basic or premium)")
	return cmd
}

// generate runs one generation for ingredients and writes the recipes to w.
func generate(ctx context.Context, w io.Writer, gens *generators, plan recipe.UserPlan, ingredients []string) error {
	set := recipe.NewIngredientSet(ingredients...)
	if set.Len() == 0 {
		return apperr.ErrNoIngredients
	}

	recipes, err := gens.recipes.GenerateRecipes(ctx, set.Items(), plan)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("generation cancelled: %w", err)
		}
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(recipes)
}

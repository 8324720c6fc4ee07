package cmd

import (
	"context"
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/hh-matcher/internal/backend"
	"github.com/spigell/hh-matcher/internal/logger"
	"github.com/spigell/hh-matcher/internal/profile"
	"github.com/spigell/hh-matcher/internal/resilience"
	"github.com/spigell/hh-matcher/internal/weights"
)

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Show the backend ranking and weights for a request without scoring it",
	Run: func(cmd *cobra.Command, _ []string) {
		plan(cmd)
	},
}

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List configured scoring backends",
	Run: func(cmd *cobra.Command, _ []string) {
		listBackends(cmd)
	},
}

func init() {
	rootCmd.AddCommand(selectCmd, backendsCmd)

	selectCmd.Flags().StringP("request", "r", "", "yaml or json file with the candidate and the job")
	selectCmd.Flags().Bool("validate", false, "require a consensus validation pass")

	selectCmd.MarkFlagRequired("request")
}

type planOutput struct {
	Fingerprint profile.Fingerprint `json:"fingerprint"`
	Ranked      []string            `json:"ranked"`
	Weights     weights.Vector      `json:"weights"`
	Missing     []backend.Category  `json:"missing,omitempty"`
	Levers      []string            `json:"levers,omitempty"`
}

func plan(cmd *cobra.Command) {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	path, _ := cmd.Flags().GetString("request")
	req, err := profile.LoadRequest(path)
	if err != nil {
		logger.Fatal("loading match request", zap.Error(err), zap.String("file", path))
	}
	if validate, _ := cmd.Flags().GetBool("validate"); validate {
		req.Constraints.RequireValidation = true
	}

	s, err := newStack(context.Background(), config, logger)
	if err != nil {
		logger.Fatal("building scoring backends", zap.Error(err))
	}

	p, err := s.orchestrator.Plan(req)
	if err != nil {
		logger.Fatal("planning match", zap.Error(err))
	}

	out := planOutput{
		Fingerprint: p.Fingerprint,
		Ranked:      backend.Names(p.Ranked),
		Weights:     p.Weighting.Weights,
		Missing:     p.Weighting.Missing,
		Levers:      p.Weighting.Levers,
	}
	if err := printJSON(cmd.OutOrStdout(), out); err != nil {
		logger.Fatal("printing plan", zap.Error(err))
	}
}

type backendOutput struct {
	Name         string   `json:"name"`
	Transport    string   `json:"transport"`
	URL          string   `json:"url,omitempty"`
	Model        string   `json:"model,omitempty"`
	Generality   int      `json:"generality"`
	Members      []string `json:"members,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Ready        bool     `json:"ready"`
	Circuit      string   `json:"circuit"`
}

func listBackends(cmd *cobra.Command) {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	s, err := newStack(context.Background(), config, logger)
	if err != nil {
		logger.Fatal("building scoring backends", zap.Error(err))
	}

	states := map[string]resilience.State{}
	for _, snap := range s.client.Snapshots() {
		states[snap.Name] = snap.State
	}

	out := make([]backendOutput, 0, len(backend.All()))
	for _, id := range backend.All() {
		ep, ok := s.registry.Lookup(id)
		if !ok {
			continue
		}
		// Breakers are created on first use.
		state := resilience.StateClosed
		if st, ok := states[id.String()]; ok {
			state = st
		}
		out = append(out, backendOutput{
			Name:         id.String(),
			Transport:    ep.Transport,
			URL:          ep.URL,
			Model:        ep.Model,
			Generality:   s.registry.Generality(id),
			Members:      backend.Names(s.registry.Members(id)),
			Capabilities: ep.Capabilities,
			Ready:        s.client.Configured(id) || len(s.registry.Members(id)) > 0,
			Circuit:      state.String(),
		})
	}

	if err := printJSON(cmd.OutOrStdout(), out); err != nil {
		logger.Fatal("printing backends", zap.Error(err))
	}
}

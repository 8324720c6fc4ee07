package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/hh-matcher/internal/backend"
	"github.com/spigell/hh-matcher/internal/logger"
	"github.com/spigell/hh-matcher/internal/orchestrator"
	"github.com/spigell/hh-matcher/internal/profile"
	"github.com/spigell/hh-matcher/internal/telemetry"
)

const (
	PromptContributions = "Show contributions"
	PromptAttempts      = "Show fallback attempts"
	PromptResultToFile  = "Dump result to file"
	PromptExit          = "Exit"
)

var errExit = errors.New("exit requested")

var prompt = promptui.Select{
	Label: "What next?",
	Items: []string{PromptContributions, PromptAttempts, PromptResultToFile, PromptExit},
}

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Score a candidate against a job",
	Run: func(cmd *cobra.Command, _ []string) {
		match(cmd)
	},
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().StringP("request", "r", "", "yaml or json file with the candidate and the job")
	matchCmd.Flags().Bool("validate", false, "require a consensus validation pass")
	matchCmd.Flags().BoolP("interactive", "i", false, "explore the result after scoring")

	matchCmd.MarkFlagRequired("request")
}

func match(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the hh-matcher", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	telemetryConfig := config.Telemetry
	telemetryConfig.ServiceVersion = version
	tel, err := telemetry.Setup(ctx, telemetryConfig)
	if err != nil {
		logger.Fatal("setting up telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("flushing telemetry", zap.Error(err))
		}
	}()

	path, _ := cmd.Flags().GetString("request")
	req, err := profile.LoadRequest(path)
	if err != nil {
		logger.Fatal("loading match request", zap.Error(err), zap.String("file", path))
	}
	if validate, _ := cmd.Flags().GetBool("validate"); validate {
		req.Constraints.RequireValidation = true
	}

	s, err := newStack(ctx, config, logger)
	if err != nil {
		logger.Fatal("building scoring backends", zap.Error(err))
	}

	result, err := s.orchestrator.Match(ctx, req)
	if err != nil {
		var exhausted *orchestrator.ExhaustedError
		if errors.As(err, &exhausted) {
			logger.Fatal("no scoring backend answered",
				zap.Strings("fallback_chain", backend.Names(exhausted.Chain)),
				zap.Any("attempts", exhausted.Attempts),
			)
		}
		logger.Fatal("matching failed", zap.Error(err))
	}

	if err := printJSON(cmd.OutOrStdout(), result); err != nil {
		logger.Fatal("printing result", zap.Error(err))
	}

	if interactive, _ := cmd.Flags().GetBool("interactive"); !interactive {
		return
	}

	for {
		_, action, err := prompt.Run()
		if err != nil {
			logger.Fatal("exiting", zap.Error(err))
		}

		if err := handleAction(cmd.OutOrStdout(), action, logger, result); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			logger.Fatal("exiting", zap.Error(err))
		}
	}
}

func handleAction(out io.Writer, action string, logger *zap.Logger, result *orchestrator.Result) error {
	switch action {
	case PromptContributions:
		for _, cat := range backend.Categories() {
			score, ok := result.SubScores[cat]
			if !ok {
				fmt.Fprintf(out, "%-12s not scored\n", cat)
				continue
			}
			fmt.Fprintf(out, "%-12s score %6.2f  weight %.3f  contribution %6.2f\n",
				cat, score, result.Weights[cat], result.Contributions[cat])
		}
		fmt.Fprintf(out, "%-12s %6.2f (%s)\n", "total", result.TotalScore, result.Confidence)
		return nil
	case PromptAttempts:
		for i, a := range result.Attempts {
			fmt.Fprintf(out, "%d. %s: %s %s\n", i+1, a.Backend, a.Outcome, a.Reason)
		}
		return nil
	case PromptResultToFile:
		filename, err := dumpToTmpFile(result)
		if err != nil {
			return fmt.Errorf("dump result to file: %w", err)
		}
		logger.Info("dumping result to file", zap.String("filename", filename))
		return nil
	case PromptExit:
		logger.Info("exiting", zap.String("reason", "got exit from prompt"))
		return errExit
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func dumpToTmpFile(result *orchestrator.Result) (string, error) {
	file, err := os.CreateTemp("", "match_*.json")
	if err != nil {
		return "", err
	}
	defer file.Close()

	if err := printJSON(file, result); err != nil {
		return "", err
	}
	return file.Name(), nil
}

// Command tutorctl runs the tutor pipeline from the terminal and checks agent
// configuration files.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kielitutor/tutor/internal/agents"
	"github.com/kielitutor/tutor/internal/config"
	"github.com/kielitutor/tutor/pkg/models"
	"github.com/kielitutor/tutor/pkg/server"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	_ = godotenv.Load()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
	)

	rootCmd := &cobra.Command{
		Use:           "tutorctl",
		Short:         "Run and inspect the Finnish tutor pipeline",
		Version:       version,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "agent config file (default $TUTOR_AGENT_CONFIG or agent_config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline activity to stderr")

	loadConfig := func() *config.Config {
		cfg := config.Load()
		if configPath != "" {
			cfg.AgentConfigPath = configPath
		}
		return cfg
	}

	rootCmd.AddCommand(newAskCmd(loadConfig), newValidateCmd(loadConfig), newModelsCmd())
	return rootCmd
}

// ask runs one turn in-process. The session only lives for this invocation,
// so a bare "ask" is the typical use: it prints the opening scenario.
func newAskCmd(loadConfig func() *config.Config) *cobra.Command {
	var (
		sessionID string
		showRaw   bool
	)
	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Send one message through the pipeline and print the structured reply",
		Long: "Send one message through the teacher and extractor stages and print the JSON reply.\n" +
			"Without a message a new conversation is started.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			core, err := server.NewCore(ctx, loadConfig())
			if err != nil {
				return err
			}

			turn := models.ConversationTurn{SessionID: sessionID}
			if len(args) == 1 {
				msg := args[0]
				turn.Message = &msg
			}

			out, err := core.Pipeline.Run(ctx, turn)
			if err != nil {
				return fmt.Errorf("%s: %w", models.ErrorKind(err), err)
			}

			if showRaw {
				fmt.Fprintln(cmd.ErrOrStderr(), strings.TrimSpace(out.TeacherText))
				fmt.Fprintln(cmd.ErrOrStderr())
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(out.Response)
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "cli", "session id")
	cmd.Flags().BoolVar(&showRaw, "raw", false, "also print the teacher's raw reply to stderr")
	return cmd
}

func newValidateCmd(loadConfig func() *config.Config) *cobra.Command {
	var credentials bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the agent configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()

			var (
				agentCfg *agents.Configuration
				err      error
			)
			if credentials {
				ctx := cmd.Context()
				if ctx == nil {
					ctx = context.Background()
				}
				agentCfg, err = server.LoadAgents(ctx, cfg)
			} else {
				agentCfg, err = agents.Load(cfg.AgentConfigPath)
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STAGE\tPROVIDER\tMODEL\tMODE\tPROMPT")
			for _, s := range agentCfg.List() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.Name, s.Provider, s.Model, s.OutputMode, s.PromptPath)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%s is valid\n", cfg.AgentConfigPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&credentials, "credentials", false, "also resolve every stage's API key")
	return cmd
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the supported provider/model pairs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			providers := make([]string, 0, len(models.SupportedModels))
			for p := range models.SupportedModels {
				providers = append(providers, string(p))
			}
			sort.Strings(providers)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODEL\tDEFAULT")
			for _, p := range providers {
				kind := models.ProviderKind(p)
				for _, m := range models.SupportedModels[kind] {
					def := ""
					if models.DefaultModels[kind] == m {
						def = "*"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", p, m, def)
				}
			}
			return w.Flush()
		},
	}
}

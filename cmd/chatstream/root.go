package main

import (
	"fmt"
	"strings"

	"github.com/casualjim/chatstream/internal/config"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	mode       string
	model      string
	logLevel   string
	noDigest   bool
}

// apply copies the flags that were set onto cfg.
func (f *rootFlags) apply(cfg *config.Config) {
	if f.mode != "" {
		cfg.Stream.Mode = strings.ToLower(f.mode)
	}
	if f.model != "" {
		cfg.LLM.Model = f.model
	}
	if f.logLevel != "" {
		cfg.Logger.Level = f.logLevel
	}
	if f.noDigest {
		cfg.Digest.Enabled = false
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	var cfg *config.Config
	current := func() *config.Config { return cfg }

	root := &cobra.Command{
		Use:   "chatstream",
		Short: "Stream chat completions in the terminal",
		Long: `chatstream talks to an OpenAI compatible chat API and streams replies as they arrive.

Examples:
  chatstream                          # interactive chat
  chatstream --mode eventstream       # use the two-phase event-stream transport
  chatstream ping                     # test the connection and the API key
  chatstream ask "what is a goroutine?"`,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		SilenceUsage:      true,
		Args:              cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(flags.configPath, flags.apply)
			if err != nil {
				return err
			}
			cfg = loaded
			setupLogging(cfg.Logger.Level)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s, %s mode). Type /help for commands.\n",
				color.GreenString("chatstream"), cfg.LLM.Model, cfg.LLM.BaseURL, cfg.Stream.Mode)
			return runREPL(cmd.Context(), a, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "chatstream.yaml", "Path to the YAML config file")
	pf.StringVar(&flags.mode, "mode", "", "Transport mode (chunked or eventstream)")
	pf.StringVarP(&flags.model, "model", "m", "", "Model name")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.BoolVar(&flags.noDigest, "no-digest", false, "Disable summary cards")

	root.AddCommand(newPingCmd(current), newAskCmd(current))
	return root
}

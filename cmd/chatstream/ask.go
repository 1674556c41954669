package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/casualjim/chatstream/conversation"
	"github.com/casualjim/chatstream/internal/config"
	"github.com/casualjim/chatstream/session"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newPingCmd(cfg func() *config.Config) *cobra.Command {
	var showModels bool
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Test the connection and the API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cfg(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			models, err := a.provider.Ping(cmd.Context())
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.RedString("✗"), session.FailureMessage(err))
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s connected to %s (%d models)\n",
				color.GreenString("✓"), cfg().LLM.BaseURL, len(models))
			if !slices.Contains(models, cfg().LLM.Model) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s model %s is not listed by the server\n",
					color.YellowString("!"), cfg().LLM.Model)
			}
			if showModels {
				for _, m := range models {
					fmt.Fprintln(cmd.OutOrStdout(), "  "+m)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showModels, "models", false, "List the available models")
	return cmd
}

func newAskCmd(cfg func() *config.Config) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask one question without streaming",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			question := strings.Join(args, " ")
			history := []conversation.Message{{Content: question, Sender: conversation.SenderUser}}
			answer, err := a.provider.Complete(cmd.Context(), cfg().LLM.SystemPrompt, history)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", color.RedString("Error"), session.FailureMessage(err))
				return err
			}
			if raw {
				fmt.Fprintln(cmd.OutOrStdout(), answer)
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), renderMarkdown(answer))
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the answer without markdown rendering")
	return cmd
}

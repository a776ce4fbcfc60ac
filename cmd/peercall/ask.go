package main

import (
	"fmt"
	"strings"

	"peercall/internal/core/domain"
	"peercall/internal/infrastructure/assistant"
	"peercall/pkg/logger"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask <prompt>",
	Short: "Ask the server's assistant endpoint and stream its reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		zapLogger := logger.NewWithFormat(flagLogLevel, "console")
		defer zapLogger.Sync()

		client := assistant.NewClient(flagServer, nil, zapLogger.Sugar())
		out := cmd.OutOrStdout()

		var transcript domain.Transcript
		err := client.Ask(cmd.Context(), strings.Join(args, " "), &transcript, func(chunk string) {
			fmt.Fprint(out, chunk)
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		return nil
	},
}

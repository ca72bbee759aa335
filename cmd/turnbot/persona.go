package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aliveriver/turnbot/internal/persona"
)

func personaCmd() *cobra.Command {
	var conversation string

	setCmd := &cobra.Command{
		Use:   "set <prompt...>",
		Short: "Set the system prompt, globally or per conversation",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig()
			if err != nil {
				slog.Error("failed to load config", "error", err)
				os.Exit(1)
			}
			store := persona.NewStore(cfg.Persona.Path)
			prompt := strings.Join(args, " ")

			if conversation != "" {
				err = store.SetForConversation(conversation, prompt)
			} else {
				err = store.SetDefault(prompt)
			}
			if err != nil {
				slog.Error("failed to save persona", "error", err)
				os.Exit(1)
			}
			if conversation != "" {
				fmt.Printf("persona set for %s\n", conversation)
			} else {
				fmt.Println("default persona set")
			}
		},
	}
	setCmd.Flags().StringVar(&conversation, "conversation", "",
		`apply to one conversation only (key form "channel:chatID")`)

	cmd := &cobra.Command{
		Use:   "persona",
		Short: "Manage the bot's system prompt",
	}
	cmd.AddCommand(setCmd)
	return cmd
}

package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"chat-sync/internal/config"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration",
	Long: `Print the configuration as read from the environment, with secrets
redacted, followed by the result of validating it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadEnvFile(envFile); err != nil {
			return err
		}
		cfg := config.Load(os.Getenv)

		out, err := yaml.Marshal(cfg.Redacted())
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintln(w, headerStyle.Render("chat-sync configuration"))
		fmt.Fprint(w, string(out))
		if err := cfg.Validate(); err != nil {
			fmt.Fprintln(w, errorStyle.Render("invalid: "+err.Error()))
			return nil
		}
		fmt.Fprintln(w, countStyle.Render("valid"))
		return nil
	},
}

package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/burrow/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("Burrow Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		id := prompt(scanner, "Default provider name", cfg.DefaultProvider)
		p := cfg.Providers[id]
		if p.Kind == "" {
			p.Kind = id
		}
		p.Kind = prompt(scanner, "Provider kind (anthropic, openai, gemini, bedrock)", p.Kind)
		p.Model = prompt(scanner, "Model name", p.Model)
		if p.Kind == "bedrock" {
			p.Region = prompt(scanner, "AWS region", p.Region)
		} else {
			p.APIKey = prompt(scanner, "API key", p.APIKey)
		}
		if p.Kind == "openai" {
			p.BaseURL = prompt(scanner, "Base URL", p.BaseURL)
		}
		if n, err := strconv.Atoi(prompt(scanner, "Max output tokens", strconv.Itoa(p.MaxTokens))); err == nil {
			p.MaxTokens = n
		}
		if n, err := strconv.Atoi(prompt(scanner, "Context window tokens", strconv.Itoa(p.ContextTokens))); err == nil {
			p.ContextTokens = n
		}
		cfg.Providers[id] = p
		cfg.DefaultProvider = id

		cfg.Tools.WorkDir = prompt(scanner, "Working directory for file tools", cfg.Tools.WorkDir)
		cfg.Telegram.Token = prompt(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)
		cfg.Brave.APIKey = prompt(scanner, "Brave API key (optional)", cfg.Brave.APIKey)
		cfg.HTTP.Enabled = strings.HasPrefix(strings.ToLower(prompt(scanner, "Enable HTTP API (y/n)", yesNo(cfg.HTTP.Enabled))), "y")

		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}

func yesNo(b bool) string {
	if b {
		return "y"
	}
	return "n"
}

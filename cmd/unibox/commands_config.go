package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/unibox/internal/auth"
	"github.com/haasonsaas/unibox/internal/config"
	"github.com/haasonsaas/unibox/internal/server"
)

// =============================================================================
// Config Commands
// =============================================================================

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(buildConfigValidateCmd(), buildConfigSchemaCmd(), buildConfigProfilesCmd(), buildConfigUseCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load the config file and report problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(configPath)
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s is valid\n", path)
			storage := "memory"
			if cfg.Database.URL != "" {
				storage = "postgres"
			}
			fmt.Fprintf(out, "  listen:   %s\n", cfg.Server.Addr())
			fmt.Fprintf(out, "  storage:  %s\n", storage)
			fmt.Fprintf(out, "  slack:    %s\n", configuredLabel(cfg.OAuth.Slack.Configured()))
			fmt.Fprintf(out, "  discord:  %s\n", configuredLabel(cfg.OAuth.Discord.Configured()))
			fmt.Fprintf(out, "  sync:     %t (%s)\n", cfg.Sync.Enabled, cfg.Sync.Schedule)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigName, "Path to config file")
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema for the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.JSONSchema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return err
		},
	}
}

func buildConfigProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List config profiles under ~/.unibox/profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigProfiles(cmd)
		},
	}
}

func buildConfigUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use [profile]",
		Short: "Make a profile the default config; no argument clears it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return runConfigUse(cmd, name)
		},
	}
}

func runConfigProfiles(cmd *cobra.Command) error {
	names, err := config.ListProfiles()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(names) == 0 {
		fmt.Fprintf(out, "No profiles in %s\n", config.ProfileDir())
		return nil
	}
	active, _ := config.ReadActiveProfile()
	for _, name := range names {
		marker := " "
		if name == active {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s\n", marker, name)
	}
	return nil
}

func runConfigUse(cmd *cobra.Command, name string) error {
	name = strings.TrimSpace(name)
	if name != "" {
		if _, err := os.Stat(config.ProfilePath(name)); err != nil {
			return fmt.Errorf("profile %q: %w", name, err)
		}
	}
	if err := config.WriteActiveProfile(name); err != nil {
		return err
	}
	if name == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "Cleared active profile")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Active profile: %s\n", name)
	return nil
}

func configuredLabel(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

// =============================================================================
// Token Command
// =============================================================================

func buildTokenCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		email      string
		name       string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed session token",
		Long: `Sign a JWT for a user with the configured auth.jwt_secret.

Pass the token to client commands with --token or UNIBOX_TOKEN.`,
		Example: `  unibox token --user ada --name "Ada Lovelace"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if userID == "" {
				userID = cfg.Auth.DefaultUser
			}
			token, err := issueToken(cfg, &auth.Session{UserID: userID, Email: email, Name: name})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigName, "Path to config file")
	cmd.Flags().StringVar(&userID, "user", "", "User id (default auth.default_user)")
	cmd.Flags().StringVar(&email, "email", "", "User email")
	cmd.Flags().StringVar(&name, "name", "", "Display name used on replies")
	return cmd
}

func issueToken(cfg *config.Config, session *auth.Session) (string, error) {
	service := auth.NewService(server.AuthConfig(cfg.Auth))
	token, err := service.Issue(session)
	if err != nil {
		return "", fmt.Errorf("issue token (is auth.jwt_secret set?): %w", err)
	}
	return token, nil
}

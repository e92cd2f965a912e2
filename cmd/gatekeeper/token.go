package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gatekeeper/internal/auth"
	"gatekeeper/internal/common/errors"
)

var tokenFlags struct {
	plan string
	ttl  time.Duration
}

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue a caller token signed with JWT_SECRET",
	Long: `Issue an HS256 token the gateway accepts as a bearer credential. Useful for
testing plans and limits against a running gateway.

Examples:
  gatekeeper token 42 --plan pro
  curl -H "Authorization: Bearer $(gatekeeper token 42)" localhost:8080/api/quota`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := bootstrap()
		if err != nil {
			return err
		}
		defer closeLogger(closer)

		issuer := auth.New(cfg.JWTSecret, auth.WithTTL(tokenFlags.ttl))
		if issuer == nil {
			return errors.ConfigError("JWT_SECRET is required to issue tokens")
		}

		token, err := issuer.GenerateJWT(args[0], tokenFlags.plan)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVar(&tokenFlags.plan, "plan", "", "plan claim (default: the gateway's DEFAULT_PLAN)")
	tokenCmd.Flags().DurationVar(&tokenFlags.ttl, "ttl", 24*time.Hour, "token lifetime")
}

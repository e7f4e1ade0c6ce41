package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	jwttoken "libsync/internal/jwt_token"
	"libsync/internal/platform/middleware"
)

func newTokenCommand(a *app) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the operations API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := middleware.ParseRole(role); err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = a.cfg.JWT.TTL
			}
			token, err := jwttoken.NewJWTService(a.cfg.JWT.SigningKey, a.cfg.JWT.Issuer).IssueToken(subject, role, ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject, recorded as the actor of purges")
	cmd.Flags().StringVar(&role, "role", string(middleware.RoleReader), "reader, writer or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default jwt.ttl)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

package main

import (
	"fmt"
	"os"
	"time"

	"branchchat-backend/internal/auth"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var (
		subject, email, secret string
		opts                   auth.TokenOptions
		expires                time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("no signing secret: pass --secret or set JWT_SECRET")
			}
			if opts.Issuer == "" {
				opts.Issuer = os.Getenv("JWT_ISSUER")
			}
			if opts.Audience == "" {
				opts.Audience = os.Getenv("JWT_AUDIENCE")
			}
			tok, err := auth.NewAccessToken(subject, email, secret, opts, expires)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "User id to put in the token (required)")
	cmd.Flags().StringVar(&email, "email", "", "Email claim")
	cmd.Flags().StringVar(&secret, "secret", "", "HMAC secret (default: $JWT_SECRET)")
	cmd.Flags().StringVar(&opts.Issuer, "issuer", "", "Issuer claim (default: $JWT_ISSUER)")
	cmd.Flags().StringVar(&opts.Audience, "audience", "", "Audience claim (default: $JWT_AUDIENCE)")
	cmd.Flags().DurationVar(&expires, "expires", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"taskgate.dev/internal/auth"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd(os.Getenv).Execute(); err != nil {
		os.Exit(1)
	}
}

type tokenFlags struct {
	secret    string
	algorithm string
	issuer    string
}

func (f tokenFlags) service() (*auth.TokenService, error) {
	if strings.TrimSpace(f.secret) == "" {
		return nil, errors.New("missing secret: provide --secret or AUTH_SECRET")
	}
	return auth.NewTokenService(f.secret, auth.WithAlgorithm(f.algorithm), auth.WithIssuer(f.issuer))
}

func newRootCmd(getenv func(string) string) *cobra.Command {
	root := &cobra.Command{
		Use:          "authctl",
		Short:        "Operator helpers for taskgate credentials and tokens",
		SilenceUsage: true,
	}

	tf := &tokenFlags{}
	pf := root.PersistentFlags()
	pf.StringVar(&tf.secret, "secret", getenv("AUTH_SECRET"), "token signing secret")
	pf.StringVar(&tf.algorithm, "alg", orDefault(getenv("AUTH_ALGORITHM"), "HS256"), "signing algorithm")
	pf.StringVar(&tf.issuer, "issuer", orDefault(getenv("AUTH_ISSUER"), "taskgate"), "token issuer")

	scheme := orDefault(getenv("PASSWORD_SCHEME"), auth.SchemeArgon2id)

	root.AddCommand(
		hashPasswordCmd(scheme),
		verifyPasswordCmd(),
		issueTokenCmd(tf),
		verifyTokenCmd(tf),
	)
	return root
}

func hashPasswordCmd(defaultScheme string) *cobra.Command {
	var scheme string
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password read from stdin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			hasher, err := auth.NewPasswordHasher(scheme)
			if err != nil {
				return err
			}
			password, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}
			encoded, err := hasher.Hash(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), encoded)
			return nil
		},
	}
	cmd.Flags().StringVar(&scheme, "scheme", defaultScheme, "argon2id or bcrypt")
	return cmd
}

func verifyPasswordCmd() *cobra.Command {
	var encoded string
	cmd := &cobra.Command{
		Use:   "verify-password",
		Short: "Check a password from stdin against an encoded hash",
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}
			// Either hasher verifies both encodings.
			if !auth.NewArgon2Hasher().Verify(password, encoded) {
				return errors.New("password does not match")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&encoded, "hash", "", "encoded password hash")
	_ = cmd.MarkFlagRequired("hash")
	return cmd
}

func issueTokenCmd(tf *tokenFlags) *cobra.Command {
	var (
		subject string
		email   string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Sign an access token for a known identity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tokens, err := tf.service()
			if err != nil {
				return err
			}
			claims := auth.Claims{Email: email}
			claims.Subject = subject
			if role != "" {
				claims.Roles = []string{strings.ToLower(role)}
			}
			raw, exp, err := tokens.Issue(claims, ttl)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"access_token": raw,
				"token_type":   "bearer",
				"expires_at":   exp.UTC(),
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&subject, "sub", "", "identity ID")
	f.StringVar(&email, "email", "", "identity email")
	f.StringVar(&role, "role", "", "role name")
	f.DurationVar(&ttl, "ttl", 0, "lifetime (service default when zero)")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

func verifyTokenCmd(tf *tokenFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-token <token>",
		Short: "Verify a token and print its claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := tf.service()
			if err != nil {
				return err
			}
			claims, err := tokens.Verify(args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), claims)
		},
	}
}

func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password on stdin")
	}
	return line, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brendan612/latchkey/gateway"
	"github.com/brendan612/latchkey/storage/memory"
)

var (
	tokenSubject string
	tokenOrg     string
	tokenRole    string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a session token for a subject",
	Long: `Mints a signed session token using the gateway's root secret. The
secret must be the same one the running gateway was started with, or the
token will not verify.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := rootSecret
		if secret == "" {
			secret = os.Getenv(rootSecretEnv)
		}
		if secret == "" {
			return errors.New("a root secret is required: set --root-secret or " + rootSecretEnv)
		}
		role, err := gateway.ParseRole(tokenRole)
		if err != nil {
			return err
		}

		// Token signing only needs the secret; the store is never touched.
		g, err := gateway.New(memory.NewStore(), []byte(secret))
		if err != nil {
			return err
		}
		token, exp, err := g.IssueSessionToken(tokenSubject, tokenOrg, role)
		if err != nil {
			return err
		}

		fmt.Println(token)
		fmt.Fprintf(os.Stderr, "expires at %s\n", exp.Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "Subject the token authenticates")
	tokenCmd.Flags().StringVar(&tokenOrg, "org", "", "Organization the token is scoped to")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "viewer", "Role: viewer, editor, admin, or owner")
	tokenCmd.Flags().StringVar(&rootSecret, "root-secret", "", "Token signing root secret (prefer "+rootSecretEnv+")")
	tokenCmd.MarkFlagRequired("subject")
	tokenCmd.MarkFlagRequired("org")
}

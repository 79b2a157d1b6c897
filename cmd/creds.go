package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/pitchbook/internal/secret"
	"github.com/example/pitchbook/internal/site"
)

func newCredsCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "creds",
		Short: "Manage the encrypted site credentials file",
	}
	c.AddCommand(newCredsEncryptCmd())
	return c
}

func newCredsEncryptCmd() *cobra.Command {
	var (
		login string
		out   string
	)

	c := &cobra.Command{
		Use:   "encrypt",
		Short: "Write an encrypted credentials file for credentials.file",
		Long: "Reads the site password from PITCHBOOK_PASSWORD and the encryption\n" +
			"passphrase from PITCHBOOK_PASSPHRASE so neither appears in argv.",
		RunE: func(cmd *cobra.Command, args []string) error {
			password := os.Getenv("PITCHBOOK_PASSWORD")
			passphrase := os.Getenv("PITCHBOOK_PASSPHRASE")
			if password == "" || passphrase == "" {
				return fmt.Errorf("PITCHBOOK_PASSWORD and PITCHBOOK_PASSPHRASE must be set")
			}

			enc, err := secret.Encrypt(site.Credentials{Login: login, Password: password}, passphrase)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, []byte(enc), 0o600); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "wrote %s\n", out)
			return nil
		},
	}

	c.Flags().StringVar(&login, "login", "", "site login")
	c.Flags().StringVar(&out, "out", "credentials.enc", "output path")
	_ = c.MarkFlagRequired("login")
	return c
}

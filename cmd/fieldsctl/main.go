package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"secure-fields/internal/auth"
	"secure-fields/internal/client"
	"secure-fields/internal/crypto"
	"secure-fields/internal/keystore"
)

var (
	keysPath   string
	passphrase string
	maxKeyAge  time.Duration

	serverURL string
	token     string
	csrf      string
)

func main() {
	root := &cobra.Command{
		Use:           "fieldsctl",
		Short:         "Operator tooling for encrypted admin fields",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&keysPath, "keys", "./master.key", "path to the key store file")
	root.PersistentFlags().StringVar(&passphrase, "passphrase", "", "key wrap passphrase (or SECURE_FIELDS_KEY_PASSPHRASE)")
	root.PersistentFlags().DurationVar(&maxKeyAge, "max-key-age", 90*24*time.Hour, "rotation due threshold")

	root.AddCommand(encryptCmd(), decryptCmd(), rotateCmd(), checkCmd(), revealCmd(), saveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func manager() (*keystore.Manager, error) {
	pass := passphrase
	if pass == "" {
		pass = os.Getenv("SECURE_FIELDS_KEY_PASSPHRASE")
	}
	if pass == "" {
		return nil, fmt.Errorf("passphrase required")
	}
	return keystore.NewManager(keystore.NewFileStore(keysPath), keystore.Config{
		Passphrase: []byte(pass),
		MaxKeyAge:  maxKeyAge,
	})
}

func codec() (*crypto.Codec, error) {
	m, err := manager()
	if err != nil {
		return nil, err
	}
	return crypto.NewCodec(m), nil
}

func encryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt <plaintext>",
		Short: "Seal a value into an envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := codec()
			if err != nil {
				return err
			}
			env, err := c.Encrypt(args[0])
			if err != nil {
				return err
			}
			fmt.Println(env)
			return nil
		},
	}
}

func decryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt <envelope>",
		Short: "Open an envelope (plaintext passes through)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := codec()
			if err != nil {
				return err
			}
			pt, err := c.Decrypt(args[0])
			if err != nil {
				return err
			}
			fmt.Println(pt)
			return nil
		},
	}
}

func rotateCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate the master key; prior envelopes become undecryptable",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manager()
			if err != nil {
				return err
			}
			rotated, err := m.Rotate(force)
			if err != nil {
				return err
			}
			if rotated {
				fmt.Println("rotated")
			} else {
				fmt.Println("not due (use --force)")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "rotate even when not due")
	return cmd
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Print the key security report",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manager()
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(m.SecurityCheck(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func remote() (*client.Client, error) {
	if serverURL == "" || token == "" || csrf == "" {
		return nil, fmt.Errorf("--server, --token and --csrf required")
	}
	return client.New(serverURL, auth.Session{Token: token, CSRF: csrf}), nil
}

func addRemoteFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&serverURL, "server", "", "fieldsd base URL")
	cmd.Flags().StringVar(&token, "token", "", "session bearer token")
	cmd.Flags().StringVar(&csrf, "csrf", "", "session csrf token")
}

func revealCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reveal <field-id>",
		Short: "Reveal a field's decrypted value through a running fieldsd",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remote()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			rev, err := c.Reveal(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s\t(expires in %s)\n", rev.Plaintext, rev.ExpiresIn)
			return nil
		},
	}
	addRemoteFlags(cmd)
	return cmd
}

func saveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save <field-id> <value>",
		Short: "Save a new value for a field through a running fieldsd",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remote()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := c.Save(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Println("saved")
			return nil
		},
	}
	addRemoteFlags(cmd)
	return cmd
}

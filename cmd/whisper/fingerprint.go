package main

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fatihtunali/whisper2-sub000/crypto"
	"github.com/fatihtunali/whisper2-sub000/identity"
)

func newFingerprintCmd() *cobra.Command {
	var (
		keystore   string
		passphrase string
	)

	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the account ID and public keys from a keystore",
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return errors.New("--passphrase is required")
			}

			bundle, err := crypto.LoadKeyStore(keystore, passphrase)
			if err != nil {
				return err
			}
			defer crypto.Wipe(bundle)

			id, err := identity.Unmarshal(bundle)
			if err != nil {
				return err
			}

			accountID := id.AccountID
			if accountID == "" {
				accountID = "(not yet registered)"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "account:  %s\n", accountID)
			fmt.Fprintf(out, "enc-pub:  %s\n", hex.EncodeToString(id.Encryption.Public[:]))
			fmt.Fprintf(out, "sign-pub: %s\n", hex.EncodeToString(id.Signing.Public[:]))
			return nil
		},
	}

	cmd.Flags().StringVar(&keystore, "keystore", "whisper.keystore", "keystore path")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "keystore passphrase")
	return cmd
}

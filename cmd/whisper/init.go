package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fatihtunali/whisper2-sub000/crypto"
	"github.com/fatihtunali/whisper2-sub000/identity"
)

func newInitCmd() *cobra.Command {
	var (
		mnemonic   string
		passphrase string
		out        string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create an encrypted keystore from a mnemonic",
		Long: `Derives the account key material from a BIP39 mnemonic and writes
it to a passphrase-encrypted keystore file. Without --mnemonic a fresh
12-word mnemonic is generated and printed once; write it down, it is
the only way to recover the account.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return errors.New("--passphrase is required")
			}

			generated := false
			if mnemonic == "" {
				var err error
				mnemonic, err = identity.GenerateMnemonic()
				if err != nil {
					return err
				}
				generated = true
			}
			if err := identity.ValidateMnemonic(mnemonic); err != nil {
				return err
			}

			id, err := identity.DeriveKeys(mnemonic)
			if err != nil {
				return err
			}
			bundle, err := id.Marshal()
			if err != nil {
				return err
			}
			defer crypto.Wipe(bundle)

			if err := crypto.SaveKeyStore(out, passphrase, bundle); err != nil {
				return err
			}

			if generated {
				fmt.Fprintln(cmd.OutOrStdout(), "Recovery mnemonic (write this down, shown once):")
				fmt.Fprintln(cmd.OutOrStdout(), "  "+mnemonic)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Keystore written to %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVar(&mnemonic, "mnemonic", "", "existing 12-word recovery mnemonic")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "keystore passphrase")
	cmd.Flags().StringVar(&out, "out", "whisper.keystore", "keystore output path")
	return cmd
}

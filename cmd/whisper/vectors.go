package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fatihtunali/whisper2-sub000/identity"
)

func newVectorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vectors <mnemonic words...>",
		Short: "Print derivation output for a mnemonic",
		Long: `Derives and prints the public key material for the given mnemonic.
Used to cross-check key derivation between client implementations: two
correct clients must print identical output for the same mnemonic.`,
		Args: cobra.MinimumNArgs(12),
		RunE: func(cmd *cobra.Command, args []string) error {
			mnemonic := strings.Join(args, " ")
			id, err := identity.DeriveKeys(mnemonic)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "enc-pub:      %s\n", hex.EncodeToString(id.Encryption.Public[:]))
			fmt.Fprintf(out, "sign-pub:     %s\n", hex.EncodeToString(id.Signing.Public[:]))
			fmt.Fprintf(out, "contacts-key: %s\n", hex.EncodeToString(id.ContactsKey[:]))
			return nil
		},
	}
	return cmd
}

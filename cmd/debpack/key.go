package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/etnz/debpack/deb"
)

func newKeyCommand() *cobra.Command {
	var binary bool
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Print the public key of GPG_PRIVATE_KEY",
		Long:  "Print the public key matching GPG_PRIVATE_KEY, for use with verify --keyring.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := os.Getenv("GPG_PRIVATE_KEY")
			if key == "" {
				return fmt.Errorf("GPG_PRIVATE_KEY is not set")
			}
			signer, err := deb.LoadSigner(key)
			if err != nil {
				return err
			}
			pub, err := deb.PublicKey(signer, !binary)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(pub)
			return err
		},
	}
	cmd.Flags().BoolVar(&binary, "binary", false, "Write the key unarmored.")
	return cmd
}

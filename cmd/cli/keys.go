package cli

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/canopy-network/pulse/lib"
	"github.com/canopy-network/pulse/lib/crypto"
	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "manage the encrypted validator key of the node",
}

var (
	algorithm string
	overwrite bool
)

func init() {
	keysNewCmd.Flags().StringVar(&algorithm, "algorithm", crypto.AlgorithmEd25519, "signature algorithm of the key: ed25519 or bls12381")
	keysNewCmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing validator key")
	keysCmd.AddCommand(keysNewCmd)
	keysCmd.AddCommand(keysShowCmd)
	keysCmd.AddCommand(keysExportCmd)
}

var (
	keysNewCmd = &cobra.Command{
		Use:   "new <validator-id> --algorithm=ed25519",
		Short: "generate and encrypt a new validator key",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			path := validatorKeyPath()
			if _, err := os.Stat(path); err == nil && !overwrite {
				l.Fatalf("%s already exists, use --overwrite to replace it", path)
			}
			pk, err := crypto.NewPrivateKey(algorithm)
			if err != nil {
				l.Fatal(err.Error())
			}
			epk, err := crypto.EncryptPrivateKey(args[0], pk, []byte(getPassword("Enter a password for the new key:")))
			if err != nil {
				l.Fatal(err.Error())
			}
			writeToConsole(epk, crypto.SaveEncryptedKey(epk, path))
		},
	}

	keysShowCmd = &cobra.Command{
		Use:   "show",
		Short: "show the validator id and public key of the validator key",
		Run: func(cmd *cobra.Command, args []string) {
			epk, err := crypto.LoadEncryptedKey(validatorKeyPath())
			if errors.Is(err, os.ErrNotExist) {
				l.Fatalf("no validator key, create one with `keys new`")
			}
			writeToConsole(epk, err)
		},
	}

	keysExportCmd = &cobra.Command{
		Use:   "export",
		Short: "decrypt and print the hex private key of the validator key",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(decryptKeyFile(validatorKeyPath()).String(), nil)
		},
	}
)

func validatorKeyPath() string { return filepath.Join(config.DataDirPath, lib.ValKeyPath) }

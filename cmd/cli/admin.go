package cli

import (
	"fmt"
	"os"

	"github.com/canopy-network/pulse/lib"
	"github.com/canopy-network/pulse/lib/crypto"
	"github.com/spf13/cobra"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "admin only operations for the node",
}

var (
	publicKey  string
	keyFile    string
	commission uint64
	fee        uint64
	data       string
	sign       bool
)

func init() {
	registerCmd.Flags().StringVar(&publicKey, "public-key", "", "hex public key of a validator that doesn't participate on this node")
	registerCmd.Flags().StringVar(&keyFile, "key-file", "", "encrypted key file of a validator that participates on this node")
	registerCmd.Flags().Uint64Var(&commission, "commission", 0, "percentage of rewards kept by the validator")
	txCmd.Flags().Uint64Var(&fee, "fee", 0, "custom fee, by default the minimum fee")
	txCmd.Flags().StringVar(&data, "data", "", "hex payload of the transaction")
	txCmd.Flags().BoolVar(&sign, "sign", false, "sign the transaction with the node's validator key")
	adminCmd.AddCommand(registerCmd)
	adminCmd.AddCommand(unregisterCmd)
	adminCmd.AddCommand(scoreCmd)
	adminCmd.AddCommand(txCmd)
	adminCmd.AddCommand(voteCmd)
	adminCmd.AddCommand(proposalCmd)
	adminCmd.AddCommand(importCmd)
	adminCmd.AddCommand(startNodeCmd)
	adminCmd.AddCommand(stopNodeCmd)
	adminCmd.AddCommand(recoverCmd)
	adminCmd.AddCommand(resourceUsageCmd)
	adminCmd.AddCommand(configCmd)
}

var (
	registerCmd = &cobra.Command{
		Use:   "register <id> <stake> --public-key=<hex> --key-file=<path> --commission=10",
		Short: "register a validator, it joins the committee selection from the next epoch",
		Args:  cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			var pub lib.HexBytes
			var private string
			switch {
			case keyFile != "":
				private = decryptKeyFile(keyFile).String()
			case publicKey != "":
				bz, err := lib.NewHexBytesFromString(publicKey)
				if err != nil {
					l.Fatal(err.Error())
				}
				pub = bz
			default:
				l.Fatal("a --public-key or a --key-file is required")
			}
			writeToConsole(client.Register(args[0], argToUint64(args[1]), commission, pub, private))
		},
	}

	unregisterCmd = &cobra.Command{
		Use:   "unregister <id>",
		Short: "remove a validator from the registry",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(fmt.Sprintf("unregistered %s", args[0]), client.Unregister(args[0]))
		},
	}

	scoreCmd = &cobra.Command{
		Use:   "score <id> <score>",
		Short: "report a fitness score [0-100] for a validator",
		Args:  cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(fmt.Sprintf("reported %s for %s", args[1], args[0]), client.Score(args[0], argToUint64(args[1])))
		},
	}

	txCmd = &cobra.Command{
		Use:   "tx <from> <to> <amount> --fee=10 --data=<hex> --sign",
		Short: "submit a transaction to the pending pool",
		Args:  cobra.MinimumNArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			var payload []byte
			if data != "" {
				bz, err := lib.NewHexBytesFromString(data)
				if err != nil {
					l.Fatal(err.Error())
				}
				payload = bz
			}
			tx := lib.NewTransaction(args[0], args[1], argToUint64(args[2]), fee, payload)
			if sign {
				tx.Sign(decryptKeyFile(validatorKeyPath()))
			}
			writeToConsole(client.Transaction(tx))
		},
	}

	voteCmd = &cobra.Command{
		Use:   "vote <vote.json>",
		Short: "submit a signed vote to the live round",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			vote := new(lib.Vote)
			readJSONFile(args[0], vote)
			writeToConsole("vote accepted", client.Vote(vote))
		},
	}

	proposalCmd = &cobra.Command{
		Use:   "proposal <block.json>",
		Short: "submit a signed proposal to the live round",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			block := new(lib.Block)
			readJSONFile(args[0], block)
			writeToConsole("proposal accepted", client.Proposal(block))
		},
	}

	importCmd = &cobra.Command{
		Use:   "import <commit.json>",
		Short: "import a finalized block from another partition, resolving a fork if it conflicts",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			commit := new(lib.Commit)
			readJSONFile(args[0], commit)
			writeToConsole(client.Import(commit))
		},
	}

	startNodeCmd = &cobra.Command{
		Use:   "start",
		Short: "start the epoch scheduler of a running node",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole("scheduler started", client.StartNode())
		},
	}

	stopNodeCmd = &cobra.Command{
		Use:   "stop",
		Short: "stop the epoch scheduler after the current round",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole("scheduler stopped", client.StopNode())
		},
	}

	recoverCmd = &cobra.Command{
		Use:   "recover",
		Short: "rebuild the node from the latest checkpoint and the persisted blocks",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Recover())
		},
	}

	resourceUsageCmd = &cobra.Command{
		Use:   "resource-usage",
		Short: "query the process and system resource usage",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.ResourceUsage())
		},
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "query the configuration of the node",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Config())
		},
	}
)

// decryptKeyFile() loads and decrypts an encrypted key file
func decryptKeyFile(path string) crypto.PrivateKeyI {
	epk, err := crypto.LoadEncryptedKey(path)
	if err != nil {
		l.Fatal(lib.ErrKeyFile(err).Error())
	}
	pk, err := crypto.DecryptPrivateKey(epk, []byte(getPassword(fmt.Sprintf("Enter password for validator %s:", epk.ValidatorID))))
	if err != nil {
		l.Fatal(lib.ErrKeyFile(err).Error())
	}
	return pk
}

// readJSONFile() unmarshals a json file into the pointer
func readJSONFile(path string, ptr any) {
	bz, err := os.ReadFile(path)
	if err != nil {
		l.Fatal(err.Error())
	}
	if e := lib.UnmarshalJSON(bz, ptr); e != nil {
		l.Fatal(e.Error())
	}
}

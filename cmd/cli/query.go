package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "query the node rpc",
}

var (
	from, startEpoch = uint64(0), uint64(0)
	limit, count     = 0, 0
)

func init() {
	blocksCmd.Flags().Uint64Var(&from, "from", 0, "return blocks above this height")
	blocksCmd.Flags().IntVar(&limit, "limit", 0, "maximum number of blocks returned, 0 is no limit")
	checkpointDiffCmd.Flags().Uint64Var(&startEpoch, "start-epoch", 0, "epoch of the checkpoint to compare against, 0 is the checkpoint before")
	eventsCmd.Flags().IntVar(&count, "count", 0, "number of most recent events, 0 is every retained event")
	queryCmd.AddCommand(stateCmd)
	queryCmd.AddCommand(healthCmd)
	queryCmd.AddCommand(roundCmd)
	queryCmd.AddCommand(validatorCmd)
	queryCmd.AddCommand(validatorsCmd)
	queryCmd.AddCommand(blockCmd)
	queryCmd.AddCommand(blocksCmd)
	queryCmd.AddCommand(checkpointCmd)
	queryCmd.AddCommand(checkpointsCmd)
	queryCmd.AddCommand(checkpointDiffCmd)
	queryCmd.AddCommand(eventsCmd)
	queryCmd.AddCommand(forksCmd)
	queryCmd.AddCommand(evidenceCmd)
}

var (
	stateCmd = &cobra.Command{
		Use:   "state",
		Short: "query the full state of the node",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.State())
		},
	}

	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "query the network health assessment",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Health())
		},
	}

	roundCmd = &cobra.Command{
		Use:   "round",
		Short: "query the live round or the last completed round",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Round())
		},
	}

	validatorCmd = &cobra.Command{
		Use:   "validator <id>",
		Short: "query a validator by id",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Validator(args[0]))
		},
	}

	validatorsCmd = &cobra.Command{
		Use:   "validators",
		Short: "query every registered validator",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Validators())
		},
	}

	blockCmd = &cobra.Command{
		Use:   "block <height>",
		Short: "query a finalized block by height, 0 is the head",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Block(argToUint64(args[0])))
		},
	}

	blocksCmd = &cobra.Command{
		Use:   "blocks --from=1 --limit=10",
		Short: "query finalized blocks in height order",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Blocks(from, limit))
		},
	}

	checkpointCmd = &cobra.Command{
		Use:   "checkpoint <epoch>",
		Short: "query the checkpoint of an epoch, 0 is the latest",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Checkpoint(argToUint64(args[0])))
		},
	}

	checkpointsCmd = &cobra.Command{
		Use:   "checkpoints",
		Short: "query every retained checkpoint",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Checkpoints())
		},
	}

	checkpointDiffCmd = &cobra.Command{
		Use:   "checkpoint-diff <epoch> --start-epoch=2",
		Short: "compare the validator snapshots of two checkpoints",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.CheckpointDiff(argToUint64(args[0]), startEpoch))
		},
	}

	eventsCmd = &cobra.Command{
		Use:   "events --count=10",
		Short: "query the most recent consensus events",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Events(count))
		},
	}

	forksCmd = &cobra.Command{
		Use:   "forks",
		Short: "query every recorded fork resolution",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Forks())
		},
	}

	evidenceCmd = &cobra.Command{
		Use:   "evidence",
		Short: "query the retained byzantine evidence",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Evidence())
		},
	}
)

func argToUint64(arg string) uint64 {
	i, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		l.Fatal(err.Error())
	}
	return i
}

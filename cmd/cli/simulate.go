package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
	"unicode"

	"github.com/canopy-network/pulse/controller"
	"github.com/canopy-network/pulse/fitness"
	"github.com/canopy-network/pulse/lib"
	"github.com/canopy-network/pulse/lib/crypto"
	"github.com/canopy-network/pulse/store"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/tjarratt/babble"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate --validators=7 --offline=1 --epochs=10",
	Short: "run an in-memory network of in process validators with drifting fitness scores",
	Run: func(cmd *cobra.Command, args []string) {
		Simulate()
	},
}

var (
	simValidators, simOffline, simTxs = 7, 0, 5
	simEpochs, simEpochMS             = uint64(10), uint64(200)
	simSeed                           = int64(1)
)

func init() {
	simulateCmd.Flags().IntVar(&simValidators, "validators", 7, "number of registered validators")
	simulateCmd.Flags().IntVar(&simOffline, "offline", 0, "number of registered validators without an in process key")
	simulateCmd.Flags().Uint64Var(&simEpochs, "epochs", 10, "number of epochs to run")
	simulateCmd.Flags().Uint64Var(&simEpochMS, "epoch-ms", 200, "epoch duration in milliseconds")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 1, "seed of the fitness score walk")
	simulateCmd.Flags().IntVar(&simTxs, "txs", 5, "transactions submitted per epoch")
}

// fallbackNames are used when the system has no word dictionary
var fallbackNames = []string{
	"alder", "birch", "cedar", "cypress", "elm", "fir", "hazel", "juniper", "larch", "linden",
	"maple", "oak", "pine", "poplar", "rowan", "sequoia", "spruce", "sycamore", "willow", "yew",
}

// Simulate() runs an in-memory controller for a number of epochs and prints the outcome
func Simulate() {
	if simOffline > simValidators {
		l.Fatalf("offline validators (%d) exceed the validators (%d)", simOffline, simValidators)
	}
	cfg := simulationConfig(config)
	db, err := store.NewStoreInMemory(l)
	if err != nil {
		l.Fatal(err.Error())
	}
	scores := fitness.NewRandomWalk(simSeed, 90, 4, 60, lib.MaxScore)
	app, err := controller.New(cfg, db, scores, nil, l)
	if err != nil {
		l.Fatal(err.Error())
	}
	defer app.Close()
	names := validatorNames(simValidators)
	for i, name := range names {
		pk, e := crypto.NewEd25519PrivateKey()
		if e != nil {
			l.Fatal(e.Error())
		}
		v := &lib.Validator{ID: name, Stake: cfg.MinimumStake * uint64(1+i%3), Commission: 10}
		if i < simOffline {
			// registered and eligible, but never proposes or votes
			v.PublicKey, pk = pk.PublicKey().Bytes(), nil
		}
		if err = app.RegisterValidator(v, pk); err != nil {
			l.Fatal(err.Error())
		}
	}
	if _, err = app.Start(context.Background()); err != nil {
		l.Fatal(err.Error())
	}
	runEpochs(app, names)
	if err = app.Stop(); err != nil {
		l.Error(err.Error())
	}
	printSimulation(app)
}

// simulationConfig() scales the phase timeouts to the simulated epoch duration
func simulationConfig(c lib.Config) lib.Config {
	c.StoreConfig.InMemory = true
	c.MetricsConfig.Enabled = false
	c.EpochDurationMS = simEpochMS
	c.ProposalTimeoutMS = max(simEpochMS/2, 1)
	c.VotingTimeoutMS = max(simEpochMS/2, 1)
	c.FinalityTimeoutMS = max(simEpochMS/4, 1)
	c.CommitteeSize = uint64(simValidators)
	c.MinCommitteeSize = min(c.MinCommitteeSize, c.CommitteeSize)
	c.CheckpointIntervalEpochs = max(simEpochs/3, 1)
	return c
}

// runEpochs() feeds transactions to the pool until the scheduler reaches the final epoch or halts
func runEpochs(app *controller.Controller, names []string) {
	round := time.Duration(simEpochMS+simEpochMS/2+simEpochMS/2+simEpochMS/4) * time.Millisecond
	deadline := time.After(time.Duration(simEpochs+2) * round * 2)
	ticker := time.NewTicker(time.Duration(simEpochMS) * time.Millisecond / 4)
	defer ticker.Stop()
	lastEpoch := uint64(0)
	for {
		select {
		case <-deadline:
			l.Warnf("simulation timed out before epoch %d", simEpochs)
			return
		case <-ticker.C:
			if halted := app.Halted(); halted != nil {
				l.Errorf("scheduler halted: %s", halted.Error())
				return
			}
			epoch := app.GetState().Epoch
			if epoch >= simEpochs {
				return
			}
			if epoch == lastEpoch {
				continue
			}
			lastEpoch = epoch
			for i := 0; i < simTxs; i++ {
				from, to := names[(int(epoch)+i)%len(names)], names[(int(epoch)+i+1)%len(names)]
				if err := app.SubmitTransaction(lib.NewTransaction(from, to, uint64(i+1), 1, nil)); err != nil {
					l.Debugf("transaction rejected: %s", err.Error())
				}
			}
		}
	}
}

// printSimulation() prints the consensus stats and a per validator table
func printSimulation(app *controller.Controller) {
	state, p := app.GetState(), message.NewPrinter(language.English)
	bold := color.New(color.Bold)
	_, _ = bold.Println("SIMULATION")
	_, _ = p.Printf("epochs: %d  height: %d  finalized: %d  failed: %d  forks: %d\n",
		state.Stats.EpochsTotal, state.Height, state.Stats.FinalizedBlocks, state.Stats.EpochsFailed, state.Stats.Forks)
	_, _ = p.Printf("transactions: %d  participation: %.1f%%  strength: %.1f%%\n",
		state.Stats.TransactionsProcessed, state.Stats.AverageParticipation, state.ConsensusStrength)
	healthColor := color.GreenString
	switch state.Health.Status {
	case controller.HealthDegraded:
		healthColor = color.YellowString
	case controller.HealthCritical:
		healthColor = color.RedString
	}
	fmt.Printf("health: %s %v\n\n", healthColor(string(state.Health.Status)), state.Health.Issues)
	_, _ = bold.Println("VALIDATORS")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tSTAKE\tFITNESS\tREPUTATION\tOFFENSES\tREWARDS")
	for _, v := range app.Validators() {
		_, _ = p.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n", v.ID, v.Status, v.Stake, v.FitnessScore, v.Reputation, v.Offenses, v.Rewards)
	}
	_ = w.Flush()
}

// validatorNames() returns n unique lowercase validator names
func validatorNames(n int) []string {
	word := wordSource()
	names, seen := make([]string, 0, n), make(map[string]struct{}, n)
	for i := 0; len(names) < n; i++ {
		name := sanitizeName(word(i))
		if name == "" {
			name = "validator"
		}
		if _, dup := seen[name]; dup {
			name = fmt.Sprintf("%s-%d", name, i)
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// wordSource() babbles from the system dictionary, falling back to a built-in list without one
func wordSource() (word func(i int) string) {
	fallback := func(i int) string { return fallbackNames[i%len(fallbackNames)] }
	defer func() {
		if r := recover(); r != nil {
			word = fallback
		}
	}()
	b := babble.NewBabbler()
	if len(b.Words) == 0 {
		return fallback
	}
	b.Count = 1
	return func(int) string { return b.Babble() }
}

// sanitizeName() lowercases the word and keeps only its letters
func sanitizeName(word string) string {
	word = cases.Lower(language.English).String(word)
	return strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII || !unicode.IsLetter(r) {
			return -1
		}
		return r
	}, word)
}

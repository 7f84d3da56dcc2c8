package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/canopy-network/pulse/cmd/rpc"
	"github.com/canopy-network/pulse/controller"
	"github.com/canopy-network/pulse/lib"
	"github.com/canopy-network/pulse/lib/crypto"
	"github.com/canopy-network/pulse/store"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var rootCmd = &cobra.Command{
	Use:   "pulse",
	Short: "the pulse fitness-gated consensus engine",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(rpc.SoftwareVersion)
	},
}

var (
	client, config, l = &rpc.Client{}, lib.Config{}, lib.LoggerI(nil)
	dataDir, pwd      = "", ""
	stake             uint64
)

func init() {
	cobra.OnInitialize(initialize)
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", lib.DefaultDataDirPath(), "custom data directory location")
	rootCmd.PersistentFlags().StringVar(&pwd, "password", "", "input a private key password (not recommended)")
	startCmd.Flags().Uint64Var(&stake, "stake", 0, "stake of the node's validator if it isn't registered yet, 0 is the minimum stake")
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(adminCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(simulateCmd)
}

// initialize() loads the configuration once the flags are parsed
func initialize() {
	config = InitializeDataDirectory(dataDir, lib.NewDefaultLogger())
	l = lib.NewLogger(lib.LoggerConfig{Level: config.GetLogLevel()}, config.DataDirPath)
	client = rpc.NewClient(config.RPCUrl, config.RPCPort, config.AdminPort)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "start the consensus engine",
	Run: func(cmd *cobra.Command, args []string) {
		Start()
	},
}

// Start() is the entrypoint of the application
func Start() {
	// initialize the metrics server
	metrics := lib.NewMetricsServer(config.MetricsConfig, l)
	// create a new database object from the config
	db, err := store.New(config.StoreConfig, l)
	if err != nil {
		l.Fatal(err.Error())
	}
	// create a new instance of the application
	app, err := controller.New(config, db, nil, metrics, l)
	if err != nil {
		l.Fatal(err.Error())
	}
	// rebuild the registry and the head from what was persisted
	rec, err := app.RecoverFromCrash()
	if err != nil {
		l.Fatal(err.Error())
	}
	l.Infof("Resuming from height %d at epoch %d", rec.Height, rec.Epoch)
	// participate with the validator key if one exists
	if key, id := loadValidatorKey(); key != nil {
		joinCommittee(app, id, key)
	}
	// initialize the rpc server
	rpcServer := rpc.NewServer(app, config, l)
	// start the metrics server
	metrics.Start()
	// start the rpc server
	rpcServer.Start()
	// start the scheduler
	ctx, cancel := context.WithCancel(context.Background())
	if _, err = app.Start(ctx); err != nil {
		l.Fatal(err.Error())
	}
	// block until a kill signal is received
	waitForKill()
	cancel()
	// gracefully stop the rpc server
	rpcServer.Stop()
	// gracefully stop the app
	if err = app.Close(); err != nil {
		l.Error(err.Error())
	}
	// gracefully stop the metrics server
	metrics.Stop()
	// exit
	os.Exit(0)
}

// joinCommittee() lets the node's validator participate in process, registering it first if needed
func joinCommittee(app *controller.Controller, id string, key crypto.PrivateKeyI) {
	if _, err := app.Validator(id); err == nil {
		if err = app.AttachKey(id, key); err != nil {
			l.Fatal(err.Error())
		}
		l.Infof("Participating as validator %s", id)
		return
	}
	if stake == 0 {
		stake = config.MinimumStake
	}
	if err := app.RegisterValidator(&lib.Validator{ID: id, Stake: stake}, key); err != nil {
		l.Fatal(err.Error())
	}
	l.Infof("Registered and participating as validator %s with stake %d", id, stake)
}

// loadValidatorKey() decrypts the validator key file; nil if the node has no validator key
func loadValidatorKey() (crypto.PrivateKeyI, string) {
	epk, err := crypto.LoadEncryptedKey(validatorKeyPath())
	if errors.Is(err, os.ErrNotExist) {
		l.Infof("No %s file, running as an observer", lib.ValKeyPath)
		return nil, ""
	}
	if err != nil {
		l.Fatal(err.Error())
	}
	key, err := crypto.DecryptPrivateKey(epk, []byte(getPassword(fmt.Sprintf("Enter password for validator %s:", epk.ValidatorID))))
	if err != nil {
		l.Fatal(lib.ErrKeyFile(err).Error())
	}
	return key, epk.ValidatorID
}

// waitForKill() blocks until a kill signal is received
func waitForKill() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGABRT)
	// block until kill signal is received
	s := <-stop
	l.Infof("Exit command %s received", s)
}

// getPassword() returns the password flag or prompts for one
func getPassword(prompt string) string {
	// allow flag config to skip the prompt
	if pwd != "" {
		return pwd
	}
	l.Info(prompt)
	password, e := term.ReadPassword(int(os.Stdin.Fd()))
	if e != nil {
		l.Fatal(e.Error())
	}
	if len(password) == 0 {
		l.Info("Password cannot be empty")
		return getPassword(prompt)
	}
	return string(password)
}

// InitializeDataDirectory() populates the data directory with the configuration file if missing
func InitializeDataDirectory(dataDirPath string, log lib.LoggerI) (c lib.Config) {
	// make the data dir if missing
	if err := os.MkdirAll(dataDirPath, os.ModePerm); err != nil {
		log.Fatal(err.Error())
	}
	// make the config.json file if missing
	configFilePath := filepath.Join(dataDirPath, lib.ConfigFilePath)
	if _, err := os.Stat(configFilePath); errors.Is(err, os.ErrNotExist) {
		log.Infof("Creating %s file", lib.ConfigFilePath)
		if err = lib.DefaultConfig().WriteToFile(configFilePath); err != nil {
			log.Fatal(err.Error())
		}
	}
	// load the config object
	c, err := lib.NewConfigFromFile(configFilePath)
	if err != nil {
		log.Fatal(err.Error())
	}
	// set the data-directory
	c.DataDirPath = dataDirPath
	return
}

func writeToConsole(a any, err error) {
	if err != nil {
		l.Fatal(err.Error())
	}
	switch a.(type) {
	case int, uint32, uint64:
		p := message.NewPrinter(language.English)
		if _, err := p.Printf("%d\n", a); err != nil {
			l.Fatal(err.Error())
		}
	case string, *string:
		fmt.Println(a)
	default:
		s, err := lib.MarshalJSONIndentString(a)
		if err != nil {
			l.Fatal(err.Error())
		}
		fmt.Println(s)
	}
}

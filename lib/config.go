package lib

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/units"
)

/* This file implements logic for 'user controlled' configurations of each module of the node */

const (
	// FILE NAMES in the 'data directory'
	ConfigFilePath = "config.json"        // the file path for the node configuration
	ValKeyPath     = "validator_key.json" // the file path for the node's (encrypted) validator key
)

// Config is the structure of the user configuration options for a pulse node
type Config struct {
	MainConfig      // main options spanning over all modules
	RPCConfig       // rpc API options
	StoreConfig     // persistence options
	ConsensusConfig // round, committee and checkpoint options
	StakingConfig   // slashing and reward options
	MempoolConfig   // pending transaction pool options
	MetricsConfig   // telemetry options
}

// DefaultConfig() returns a Config with developer set options
func DefaultConfig() Config {
	return Config{
		MainConfig:      DefaultMainConfig(),
		RPCConfig:       DefaultRPCConfig(),
		StoreConfig:     DefaultStoreConfig(),
		ConsensusConfig: DefaultConsensusConfig(),
		StakingConfig:   DefaultStakingConfig(),
		MempoolConfig:   DefaultMempoolConfig(),
		MetricsConfig:   DefaultMetricsConfig(),
	}
}

// Validate() ensures every section of the configuration is usable before the node starts
func (c Config) Validate() ErrorI {
	if err := c.ConsensusConfig.Validate(); err != nil {
		return err
	}
	if err := c.StakingConfig.Validate(); err != nil {
		return err
	}
	return c.MempoolConfig.Validate()
}

// MAIN CONFIG BELOW

type MainConfig struct {
	LogLevel string `json:"logLevel"` // any level includes the levels above it: debug < info < warning < error
}

// DefaultMainConfig() sets log level to 'info'
func DefaultMainConfig() MainConfig {
	return MainConfig{
		LogLevel: "info", // everything but debug is the default
	}
}

// GetLogLevel() parses the log string in the config file into a LogLevel Enum
func (m *MainConfig) GetLogLevel() int32 {
	switch {
	case strings.Contains(strings.ToLower(m.LogLevel), "deb"):
		return DebugLevel
	case strings.Contains(strings.ToLower(m.LogLevel), "inf"):
		return InfoLevel
	case strings.Contains(strings.ToLower(m.LogLevel), "war"):
		return WarnLevel
	case strings.Contains(strings.ToLower(m.LogLevel), "err"):
		return ErrorLevel
	default:
		return DebugLevel
	}
}

// RPC CONFIG BELOW

type RPCConfig struct {
	Headless  bool   `json:"headless"`  // don't serve the rpc
	RPCPort   string `json:"rpcPort"`   // the port where the query rpc server is hosted
	AdminPort string `json:"adminPort"` // the port where the admin rpc server is hosted
	RPCUrl    string `json:"rpcURL"`    // the url where the rpc server is hosted
	TimeoutS  int    `json:"timeoutS"`  // the rpc request timeout in seconds
}

// DefaultRPCConfig() serves the query rpc on localhost:50002 and the admin rpc on localhost:50003
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		RPCPort:   "50002",            // the query rpc is served on localhost:50002
		AdminPort: "50003",            // the admin rpc is served on localhost:50003
		RPCUrl:    "http://localhost", // use a local rpc by default
		TimeoutS:  3,                  // the rpc timeout is 3 seconds
	}
}

// CONSENSUS CONFIG BELOW

// ConsensusConfig defines the epoch cadence, the committee gates and the phase timeouts of a round
// NOTES:
// - EpochDuration should be >= ProposalTimeout + VotingTimeout + FinalityTimeout or rounds will be cut short by the next tick
// - thresholds are whole percentages
type ConsensusConfig struct {
	EpochDurationMS          uint64  `json:"epochDurationMS"`          // how often (in milliseconds) the scheduler starts a new round
	FitnessThreshold         uint64  `json:"fitnessThreshold"`         // the minimum fitness score [0-100] to be eligible for the committee
	ByzantineThreshold       uint64  `json:"byzantineThreshold"`       // the minimum approval percentage [51-100] to finalize a block
	CommitteeSize            uint64  `json:"committeeSize"`            // the maximum number of validators selected per round
	MinCommitteeSize         uint64  `json:"minCommitteeSize"`         // the minimum number of eligible validators for a viable round
	MinimumStake             uint64  `json:"minimumStake"`             // the minimum stake to register (and remain) a validator
	ProposalTimeoutMS        uint64  `json:"proposalTimeoutMS"`        // how long (in milliseconds) the ProposeBlock phase may take
	VotingTimeoutMS          uint64  `json:"votingTimeoutMS"`          // how long (in milliseconds) the Vote phase may take
	FinalityTimeoutMS        uint64  `json:"finalityTimeoutMS"`        // how long (in milliseconds) the Finalize phase may take
	CheckpointIntervalEpochs uint64  `json:"checkpointIntervalEpochs"` // how many epochs between checkpoints
	MaxCheckpoints           uint64  `json:"maxCheckpoints"`           // how many checkpoints are retained
	MaxBlockTxs              uint64  `json:"maxBlockTxs"`              // the maximum number of transactions in a block
	JailEpochs               uint64  `json:"jailEpochs"`               // how many epochs a Byzantine validator is jailed
	MaxOffenses              uint64  `json:"maxOffenses"`              // after this many offenses the validator is removed
	EvidenceRetentionEpochs  uint64  `json:"evidenceRetentionEpochs"`  // how many epochs of vote and proposal history are kept
	MaxEvidenceEntries       int     `json:"maxEvidenceEntries"`       // hard cap on the vote and proposal history
	FitnessWeight            float64 `json:"fitnessWeight"`            // committee weight of the fitness score
	StakeWeight              float64 `json:"stakeWeight"`              // committee weight of the normalized sqrt(stake)
	ReputationWeight         float64 `json:"reputationWeight"`         // committee weight of the reputation
}

// DefaultConsensusConfig() configures a 30 second epoch with a 21 member committee
func DefaultConsensusConfig() ConsensusConfig {
	return ConsensusConfig{
		EpochDurationMS:          30000, // 30 seconds
		FitnessThreshold:         75,
		ByzantineThreshold:       67,
		CommitteeSize:            21,
		MinCommitteeSize:         4,
		MinimumStake:             10000,
		ProposalTimeoutMS:        10000, // 10 seconds
		VotingTimeoutMS:          8000,  // 8 seconds
		FinalityTimeoutMS:        2000,  // 2 seconds
		CheckpointIntervalEpochs: 10,
		MaxCheckpoints:           10,
		MaxBlockTxs:              1000,
		JailEpochs:               10,
		MaxOffenses:              3,
		EvidenceRetentionEpochs:  100,
		MaxEvidenceEntries:       100000,
		FitnessWeight:            0.4,
		StakeWeight:              0.3,
		ReputationWeight:         0.3,
	}
}

// Validate() checks thresholds and sizes; any failure is fatal at startup
func (c ConsensusConfig) Validate() ErrorI {
	switch {
	case c.EpochDurationMS == 0:
		return ErrConfig("epochDurationMS must be > 0")
	case c.FitnessThreshold > 100:
		return ErrConfig(fmt.Sprintf("fitnessThreshold %d is out of [0,100]", c.FitnessThreshold))
	case c.ByzantineThreshold <= 50 || c.ByzantineThreshold > 100:
		return ErrConfig(fmt.Sprintf("byzantineThreshold %d is out of [51,100]", c.ByzantineThreshold))
	case c.CommitteeSize == 0:
		return ErrConfig("committeeSize must be > 0")
	case c.MinCommitteeSize == 0 || c.MinCommitteeSize > c.CommitteeSize:
		return ErrConfig(fmt.Sprintf("minCommitteeSize %d is out of [1,%d]", c.MinCommitteeSize, c.CommitteeSize))
	case c.ProposalTimeoutMS == 0 || c.VotingTimeoutMS == 0 || c.FinalityTimeoutMS == 0:
		return ErrConfig("phase timeouts must be > 0")
	case c.CheckpointIntervalEpochs == 0:
		return ErrConfig("checkpointIntervalEpochs must be > 0")
	case c.MaxCheckpoints == 0:
		return ErrConfig("maxCheckpoints must be > 0")
	case c.MaxBlockTxs == 0:
		return ErrConfig("maxBlockTxs must be > 0")
	case c.MaxOffenses == 0:
		return ErrConfig("maxOffenses must be > 0")
	case c.EvidenceRetentionEpochs == 0 || c.MaxEvidenceEntries <= 0:
		return ErrConfig("evidence retention must be > 0")
	case c.FitnessWeight < 0 || c.StakeWeight < 0 || c.ReputationWeight < 0:
		return ErrConfig("committee weights must be >= 0")
	case c.FitnessWeight+c.StakeWeight+c.ReputationWeight == 0:
		return ErrConfig("committee weights must not all be zero")
	}
	return nil
}

// EpochDuration() returns the epoch cadence as a time.Duration
func (c ConsensusConfig) EpochDuration() time.Duration {
	return time.Duration(c.EpochDurationMS) * time.Millisecond
}

// ProposalTimeout() returns the ProposeBlock phase bound
func (c ConsensusConfig) ProposalTimeout() time.Duration {
	return time.Duration(c.ProposalTimeoutMS) * time.Millisecond
}

// VotingTimeout() returns the Vote phase bound
func (c ConsensusConfig) VotingTimeout() time.Duration {
	return time.Duration(c.VotingTimeoutMS) * time.Millisecond
}

// FinalityTimeout() returns the Finalize phase bound
func (c ConsensusConfig) FinalityTimeout() time.Duration {
	return time.Duration(c.FinalityTimeoutMS) * time.Millisecond
}

// RoundTimeMS() returns the worst case duration of a single round in milliseconds
func (c ConsensusConfig) RoundTimeMS() uint64 {
	return c.ProposalTimeoutMS + c.VotingTimeoutMS + c.FinalityTimeoutMS
}

// STAKING CONFIG BELOW

// StakingConfig defines the economic penalties and rewards applied by the ledger
type StakingConfig struct {
	RewardPerEpoch            uint64 `json:"rewardPerEpoch"`            // the reward pool distributed to the committee each finalized epoch
	MinorSlashPercent         uint64 `json:"minorSlashPercent"`         // stake percentage burned for a minor offense
	MajorSlashPercent         uint64 `json:"majorSlashPercent"`         // stake percentage burned for a major offense (equivocation)
	CriticalSlashPercent      uint64 `json:"criticalSlashPercent"`      // stake percentage burned for a critical offense (double vote / double sign)
	MinorReputationPenalty    uint64 `json:"minorReputationPenalty"`    // reputation points removed for a minor offense
	MajorReputationPenalty    uint64 `json:"majorReputationPenalty"`    // reputation points removed for a major offense
	CriticalReputationPenalty uint64 `json:"criticalReputationPenalty"` // reputation points removed for a critical offense
}

// DefaultStakingConfig() returns the developer recommended slash and reward parameters
func DefaultStakingConfig() StakingConfig {
	return StakingConfig{
		RewardPerEpoch:            100000,
		MinorSlashPercent:         1,
		MajorSlashPercent:         5,
		CriticalSlashPercent:      15,
		MinorReputationPenalty:    5,
		MajorReputationPenalty:    10,
		CriticalReputationPenalty: 20,
	}
}

// Validate() ensures every slash percentage is a whole percentage
func (s StakingConfig) Validate() ErrorI {
	for _, p := range []uint64{s.MinorSlashPercent, s.MajorSlashPercent, s.CriticalSlashPercent} {
		if p > 100 {
			return ErrConfig(fmt.Sprintf("slash percent %d is out of [0,100]", p))
		}
	}
	return nil
}

// STORE CONFIG BELOW

// StoreConfig is user configurations for the key value database
type StoreConfig struct {
	DataDirPath      string `json:"dataDirPath"`      // path of the designated folder where the application stores its data
	DBName           string `json:"dbName"`           // name of the database
	InMemory         bool   `json:"inMemory"`         // non-disk database, only for testing
	MemTableSize     int64  `json:"memTableSize"`     // badger memtable size in bytes
	ValueLogFileSize int64  `json:"valueLogFileSize"` // badger value log file size in bytes
}

// DefaultDataDirPath() is $USERHOME/.pulse
func DefaultDataDirPath() string {
	// get the user home
	home, err := os.UserHomeDir()
	// if unable to get the user home
	if err != nil {
		// fatal error
		panic(err)
	}
	// exit with full default data directory path
	return filepath.Join(home, ".pulse")
}

// DefaultStoreConfig() returns the developer recommended store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		DataDirPath:      DefaultDataDirPath(),   // use the default data dir path
		DBName:           "pulse",                // 'pulse' database name
		InMemory:         false,                  // persist to disk, not memory
		MemTableSize:     int64(16 * units.MiB),  // 16 MiB memtable
		ValueLogFileSize: int64(128 * units.MiB), // 128 MiB value log files
	}
}

// MEMPOOL CONFIG BELOW

// MempoolConfig is the user configuration of the pending transaction pool
type MempoolConfig struct {
	MaxTotalBytes       uint64 `json:"maxTotalBytes"`       // maximum collective bytes in the pool
	MaxTransactionCount uint32 `json:"maxTransactionCount"` // max number of transactions
	IndividualMaxTxSize uint32 `json:"individualMaxTxSize"` // max bytes of a single transaction
	TxTTLMS             uint64 `json:"txTTLMS"`             // how long (in milliseconds) a pending transaction lives
}

// DefaultMempoolConfig() returns the developer created Mempool options
func DefaultMempoolConfig() MempoolConfig {
	return MempoolConfig{
		MaxTotalBytes:       uint64(10 * units.MB),      // 10 MB max size
		IndividualMaxTxSize: uint32(4 * units.Kilobyte), // 4 KB max individual tx size
		MaxTransactionCount: 5000,                       // 5000 max transactions
		TxTTLMS:             300000,                     // 5 minutes
	}
}

// Validate() ensures the pool can hold at least one transaction
func (m MempoolConfig) Validate() ErrorI {
	if m.MaxTransactionCount == 0 || m.MaxTotalBytes == 0 || m.IndividualMaxTxSize == 0 {
		return ErrConfig("mempool limits must be > 0")
	}
	if m.TxTTLMS == 0 {
		return ErrConfig("txTTLMS must be > 0")
	}
	return nil
}

// METRICS CONFIG BELOW

// MetricsConfig represents the configuration for the metrics server
type MetricsConfig struct {
	Enabled           bool   `json:"enabled"`           // if the metrics are enabled
	PrometheusAddress string `json:"prometheusAddress"` // the address of the server
}

// DefaultMetricsConfig() returns the default metrics configuration
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:           true,           // enabled by default
		PrometheusAddress: "0.0.0.0:9090", // the default prometheus address
	}
}

// WriteToFile() saves the Config object to a JSON file
func (c Config) WriteToFile(filepath string) error {
	// convert the config to indented 'pretty' json bytes
	jsonBytes, err := json.MarshalIndent(c, "", "  ")
	// if an error occurred during the conversion
	if err != nil {
		// exit with error
		return err
	}
	// write the config.json file to the data directory
	return os.WriteFile(filepath, jsonBytes, os.ModePerm)
}

// NewConfigFromFile() populates a Config object from a JSON file
func NewConfigFromFile(filepath string) (Config, error) {
	// read the file into bytes using
	fileBytes, err := os.ReadFile(filepath)
	// if an error occurred
	if err != nil {
		// exit with error
		return Config{}, err
	}
	// define the default config to fill in any blanks in the file
	c := DefaultConfig()
	// populate the default config with the file bytes
	if err = json.Unmarshal(fileBytes, &c); err != nil {
		// exit with error
		return Config{}, err
	}
	// exit
	return c, nil
}

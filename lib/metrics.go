package lib

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

/* This file implements dev-ops telemetry for the node in the form of prometheus metrics */

const metricsPattern = "/metrics"

// Metrics represents a server that exposes Prometheus metrics
type Metrics struct {
	server   *http.Server         // the http prometheus server
	config   MetricsConfig        // the configuration
	registry *prometheus.Registry // per-node registry so multiple nodes may share a process
	log      LoggerI              // the logger

	NodeMetrics       // general telemetry about the node
	ConsensusMetrics  // round telemetry
	ValidatorMetrics  // registry telemetry
	CheckpointMetrics // checkpoint and recovery telemetry
}

// NodeMetrics represents general telemetry for the node's health
type NodeMetrics struct {
	NodeStatus     prometheus.Gauge // is the scheduler running?
	HealthScore    prometheus.Gauge // the 0-100 network health score
	PendingTxs     prometheus.Gauge // number of pending transactions
	EventsDropped  prometheus.Gauge // events not delivered to slow subscribers
	ProcessedTxs   prometheus.Counter
	PersistRetries prometheus.Counter // how many times persisting a commit was retried
}

// ConsensusMetrics represents the telemetry for the round state machine
type ConsensusMetrics struct {
	Epoch             prometheus.Gauge       // the current epoch
	Height            prometheus.Gauge       // the height of the chain head
	ConsensusStrength prometheus.Gauge       // the approval percentage of the last round
	Participation     prometheus.Gauge       // the vote participation percentage of the last round
	RoundDuration     prometheus.Histogram   // how long does a round take?
	Rounds            *prometheus.CounterVec // rounds by outcome
	Votes             *prometheus.CounterVec // votes by decision
	ByzantineEvents   *prometheus.CounterVec // offenses by kind
	Forks             prometheus.Counter     // resolved forks
}

// ValidatorMetrics represents the telemetry of the validator registry
type ValidatorMetrics struct {
	ActiveValidators prometheus.Gauge       // how many validators may participate
	JailedValidators prometheus.Gauge       // how many validators are jailed
	TotalStake       prometheus.Gauge       // the total stake of the active set
	ValidatorScore   *prometheus.GaugeVec   // the fitness score of each validator
	ValidatorStake   *prometheus.GaugeVec   // the stake of each validator
	Slashes          *prometheus.CounterVec // slashes by severity
}

// CheckpointMetrics represents the telemetry of the checkpoint manager
type CheckpointMetrics struct {
	Checkpoints      prometheus.Counter // durable checkpoints created
	CheckpointFailed prometheus.Counter // checkpoints that did not reach the stake threshold
	LastCheckpoint   prometheus.Gauge   // epoch of the latest checkpoint
	Recoveries       prometheus.Counter // successful crash recoveries
}

// NewMetricsServer() creates a new telemetry server with its own registry
func NewMetricsServer(config MetricsConfig, log LoggerI) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	mux := http.NewServeMux()
	mux.Handle(metricsPattern, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &Metrics{
		server:   &http.Server{Addr: config.PrometheusAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		config:   config,
		registry: reg,
		log:      log,
		NodeMetrics: NodeMetrics{
			NodeStatus: f.NewGauge(prometheus.GaugeOpts{
				Name: "pulse_node_status",
				Help: "The scheduler is running (1) or stopped (0)",
			}),
			HealthScore: f.NewGauge(prometheus.GaugeOpts{
				Name: "pulse_health_score",
				Help: "Network health score from 0 to 100",
			}),
			PendingTxs: f.NewGauge(prometheus.GaugeOpts{
				Name: "pulse_pending_transactions",
				Help: "Number of pending transactions",
			}),
			EventsDropped: f.NewGauge(prometheus.GaugeOpts{
				Name: "pulse_events_dropped",
				Help: "Events not delivered to slow subscribers",
			}),
			ProcessedTxs: f.NewCounter(prometheus.CounterOpts{
				Name: "pulse_transactions_processed",
				Help: "Total number of finalized transactions",
			}),
			PersistRetries: f.NewCounter(prometheus.CounterOpts{
				Name: "pulse_persist_retries",
				Help: "Number of retried commit writes",
			}),
		},
		ConsensusMetrics: ConsensusMetrics{
			Epoch: f.NewGauge(prometheus.GaugeOpts{
				Name: "pulse_consensus_epoch",
				Help: "Current epoch",
			}),
			Height: f.NewGauge(prometheus.GaugeOpts{
				Name: "pulse_consensus_height",
				Help: "Height of the chain head",
			}),
			ConsensusStrength: f.NewGauge(prometheus.GaugeOpts{
				Name: "pulse_consensus_strength",
				Help: "Approval percentage of the last round",
			}),
			Participation: f.NewGauge(prometheus.GaugeOpts{
				Name: "pulse_consensus_participation",
				Help: "Vote participation percentage of the last round",
			}),
			RoundDuration: f.NewHistogram(prometheus.HistogramOpts{
				Name:    "pulse_round_duration_seconds",
				Help:    "Duration of a consensus round in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			}),
			Rounds: f.NewCounterVec(prometheus.CounterOpts{
				Name: "pulse_rounds_total",
				Help: "Rounds by outcome",
			}, []string{"outcome"}),
			Votes: f.NewCounterVec(prometheus.CounterOpts{
				Name: "pulse_votes_total",
				Help: "Votes by decision",
			}, []string{"decision"}),
			ByzantineEvents: f.NewCounterVec(prometheus.CounterOpts{
				Name: "pulse_byzantine_total",
				Help: "Detected offenses by kind",
			}, []string{"kind"}),
			Forks: f.NewCounter(prometheus.CounterOpts{
				Name: "pulse_forks_resolved_total",
				Help: "Number of resolved forks",
			}),
		},
		ValidatorMetrics: ValidatorMetrics{
			ActiveValidators: f.NewGauge(prometheus.GaugeOpts{
				Name: "pulse_validators_active",
				Help: "Number of active validators",
			}),
			JailedValidators: f.NewGauge(prometheus.GaugeOpts{
				Name: "pulse_validators_jailed",
				Help: "Number of jailed validators",
			}),
			TotalStake: f.NewGauge(prometheus.GaugeOpts{
				Name: "pulse_validators_total_stake",
				Help: "Total stake of the active validators",
			}),
			ValidatorScore: f.NewGaugeVec(prometheus.GaugeOpts{
				Name: "pulse_validator_fitness",
				Help: "Fitness score of a validator",
			}, []string{"id"}),
			ValidatorStake: f.NewGaugeVec(prometheus.GaugeOpts{
				Name: "pulse_validator_stake",
				Help: "Stake of a validator",
			}, []string{"id"}),
			Slashes: f.NewCounterVec(prometheus.CounterOpts{
				Name: "pulse_slashes_total",
				Help: "Slashes by severity",
			}, []string{"severity"}),
		},
		CheckpointMetrics: CheckpointMetrics{
			Checkpoints: f.NewCounter(prometheus.CounterOpts{
				Name: "pulse_checkpoints_total",
				Help: "Durable checkpoints created",
			}),
			CheckpointFailed: f.NewCounter(prometheus.CounterOpts{
				Name: "pulse_checkpoints_failed_total",
				Help: "Checkpoints that did not reach the stake threshold",
			}),
			LastCheckpoint: f.NewGauge(prometheus.GaugeOpts{
				Name: "pulse_checkpoint_epoch",
				Help: "Epoch of the latest checkpoint",
			}),
			Recoveries: f.NewCounter(prometheus.CounterOpts{
				Name: "pulse_recoveries_total",
				Help: "Successful crash recoveries",
			}),
		},
	}
}

// Registry() exposes the prometheus registry for in-process scraping
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Start() starts the telemetry server
func (m *Metrics) Start() {
	// exit if empty
	if m == nil {
		return
	}
	// if the metrics server is enabled
	if m.config.Enabled {
		go func() {
			m.log.Infof("Starting metrics server on %s", m.config.PrometheusAddress)
			// run the server
			if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				m.log.Errorf("Metrics server failed with err: %s", err.Error())
			}
		}()
	}
}

// Stop() gracefully stops the telemetry server
func (m *Metrics) Stop() {
	// exit if empty
	if m == nil || !m.config.Enabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.server.Shutdown(ctx); err != nil {
		m.log.Error(err.Error())
	}
}

// UpdateNodeMetrics() is a setter for the node metrics
func (m *Metrics) UpdateNodeMetrics(running bool, healthScore uint64, pendingTxs int, eventsDropped uint64) {
	// exit if empty
	if m == nil {
		return
	}
	if running {
		m.NodeStatus.Set(1)
	} else {
		m.NodeStatus.Set(0)
	}
	m.HealthScore.Set(float64(healthScore))
	m.PendingTxs.Set(float64(pendingTxs))
	m.EventsDropped.Set(float64(eventsDropped))
}

// UpdateRound() records the outcome of a round
func (m *Metrics) UpdateRound(epoch, height uint64, outcome string, strength, participation float64, duration time.Duration) {
	// exit if empty
	if m == nil {
		return
	}
	m.Epoch.Set(float64(epoch))
	m.Height.Set(float64(height))
	m.ConsensusStrength.Set(strength)
	m.Participation.Set(participation)
	m.RoundDuration.Observe(duration.Seconds())
	m.Rounds.WithLabelValues(outcome).Inc()
}

// UpdateVote() counts a vote by its decision
func (m *Metrics) UpdateVote(approve bool) {
	// exit if empty
	if m == nil {
		return
	}
	if approve {
		m.Votes.WithLabelValues("approve").Inc()
	} else {
		m.Votes.WithLabelValues("reject").Inc()
	}
}

// UpdateFinalized() counts the transactions of a finalized block
func (m *Metrics) UpdateFinalized(txCount int) {
	// exit if empty
	if m == nil {
		return
	}
	m.ProcessedTxs.Add(float64(txCount))
}

// UpdatePersistRetry() counts a retried commit write
func (m *Metrics) UpdatePersistRetry() {
	// exit if empty
	if m == nil {
		return
	}
	m.PersistRetries.Inc()
}

// UpdateByzantine() counts a detected offense and its slash
func (m *Metrics) UpdateByzantine(kind OffenseKind) {
	// exit if empty
	if m == nil {
		return
	}
	m.ByzantineEvents.WithLabelValues(kind.String()).Inc()
	m.Slashes.WithLabelValues(kind.Severity().String()).Inc()
}

// UpdateFork() counts a resolved fork
func (m *Metrics) UpdateFork() {
	// exit if empty
	if m == nil {
		return
	}
	m.Forks.Inc()
}

// UpdateValidators() refreshes the registry gauges
func (m *Metrics) UpdateValidators(validators Validators) {
	// exit if empty
	if m == nil {
		return
	}
	var active, jailed, stake uint64
	for _, v := range validators {
		if v.IsActive() {
			active++
			stake += v.Stake
		} else {
			jailed++
		}
		m.ValidatorScore.WithLabelValues(v.ID).Set(float64(v.FitnessScore))
		m.ValidatorStake.WithLabelValues(v.ID).Set(float64(v.Stake))
	}
	m.ActiveValidators.Set(float64(active))
	m.JailedValidators.Set(float64(jailed))
	m.TotalStake.Set(float64(stake))
}

// RemoveValidator() drops the per validator series of a removed validator
func (m *Metrics) RemoveValidator(id string) {
	// exit if empty
	if m == nil {
		return
	}
	m.ValidatorScore.DeleteLabelValues(id)
	m.ValidatorStake.DeleteLabelValues(id)
}

// UpdateCheckpoint() records a checkpoint attempt
func (m *Metrics) UpdateCheckpoint(epoch uint64, durable bool) {
	// exit if empty
	if m == nil {
		return
	}
	if !durable {
		m.CheckpointFailed.Inc()
		return
	}
	m.Checkpoints.Inc()
	m.LastCheckpoint.Set(float64(epoch))
}

// UpdateRecovery() counts a successful recovery
func (m *Metrics) UpdateRecovery() {
	// exit if empty
	if m == nil {
		return
	}
	m.Recoveries.Inc()
}

package config

import (
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	pcommon "github.com/paymesh/paymesh-indexer/internal/common"
	"github.com/paymesh/paymesh-indexer/internal/logger"
)

// Contract kinds understood by the decoder.
const (
	KindGroup = "group"
	KindERC20 = "erc20"
)

// Config represents the complete configuration for the indexer.
type Config struct {
	// Source contains the chain transport configuration
	Source SourceConfig `yaml:"source" json:"source" toml:"source"`

	// DB contains the projection database configuration
	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`

	// Pipelines lists the independent event pipelines, one consumer key each
	Pipelines []PipelineConfig `yaml:"pipelines" json:"pipelines" toml:"pipelines"`

	// Distributor configures the payout trigger invoked for inbound group payments
	Distributor *DistributorConfig `yaml:"distributor,omitempty" json:"distributor,omitempty" toml:"distributor,omitempty"`

	// Notifier configures the optional webhook delivery mode
	Notifier *NotifierConfig `yaml:"notifier,omitempty" json:"notifier,omitempty" toml:"notifier,omitempty"`

	// Reconcile configures the out-of-band settlement reconciliation job
	Reconcile *ReconcileConfig `yaml:"reconcile,omitempty" json:"reconcile,omitempty" toml:"reconcile,omitempty"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`
}

// SourceConfig represents the configuration of the chain log source.
type SourceConfig struct {
	// RPCURL is the Ethereum RPC endpoint URL
	RPCURL string `yaml:"rpc_url" json:"rpc_url" toml:"rpc_url"`

	// ChunkSize is the block range per eth_getLogs call
	ChunkSize uint64 `yaml:"chunk_size" json:"chunk_size" toml:"chunk_size"`

	// Finality specifies the finality mode: "finalized", "safe", or "latest"
	Finality string `yaml:"finality" json:"finality" toml:"finality"`

	// FinalizedLag is the number of blocks behind head to consider finalized
	// Only used when Finality is set to "latest"
	FinalizedLag uint64 `yaml:"finalized_lag" json:"finalized_lag" toml:"finalized_lag"`

	// PollInterval is how long to wait for new blocks once the source has caught up
	PollInterval pcommon.Duration `yaml:"poll_interval" json:"poll_interval" toml:"poll_interval"`

	// Retry contains RPC retry configuration with exponential backoff
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`
}

// ApplyDefaults sets default values for optional source configuration fields.
func (s *SourceConfig) ApplyDefaults() {
	if s.ChunkSize == 0 {
		s.ChunkSize = 5000
	}
	if s.Finality == "" {
		s.Finality = "finalized"
	}
	if s.PollInterval.Duration == 0 {
		s.PollInterval = pcommon.NewDuration(12 * time.Second) //nolint:mnd
	}
	if s.Retry == nil {
		s.Retry = &RetryConfig{}
	}
	s.Retry.ApplyDefaults()
}

// Validate checks if the source configuration is valid.
func (s *SourceConfig) Validate() error {
	if s.RPCURL == "" {
		return fmt.Errorf("source.rpc_url is required")
	}
	if !slices.Contains([]string{"finalized", "safe", "latest"}, s.Finality) {
		return fmt.Errorf("source.finality must be one of: 'finalized', 'safe', or 'latest'")
	}
	if s.ChunkSize == 0 {
		return fmt.Errorf("source.chunk_size must be greater than zero")
	}
	return nil
}

// RetryConfig represents RPC retry configuration with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial request)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// InitialBackoff is the initial backoff duration before first retry
	InitialBackoff pcommon.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration
	MaxBackoff pcommon.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = pcommon.NewDuration(1 * time.Second)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = pcommon.NewDuration(30 * time.Second) //nolint:mnd
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`

	// EnableForeignKeys enables foreign key constraint enforcement
	EnableForeignKeys bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
}

// Validate checks if the database configuration is valid.
func (d *DatabaseConfig) Validate() error {
	if d.Path == "" {
		return fmt.Errorf("db.path is required")
	}
	if d.JournalMode != "" &&
		!slices.Contains([]string{"WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY"}, d.JournalMode) {
		return fmt.Errorf("db.journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}
	if d.Synchronous != "" && !slices.Contains([]string{"FULL", "NORMAL", "OFF"}, d.Synchronous) {
		return fmt.Errorf("db.synchronous must be one of: FULL, NORMAL, OFF")
	}
	return nil
}

// PipelineConfig describes one independent event source: a named consumer with its
// own checkpoint and the contracts whose events it processes.
type PipelineConfig struct {
	// Name is the consumer key under which the checkpoint is stored
	Name string `yaml:"name" json:"name" toml:"name"`

	// StartBlock is the block number to start indexing from when no checkpoint exists
	StartBlock uint64 `yaml:"start_block" json:"start_block" toml:"start_block"`

	// Contracts contains the list of contracts to index
	Contracts []ContractConfig `yaml:"contracts" json:"contracts" toml:"contracts"`
}

// ContractConfig binds a contract address to the schema used to decode its events.
type ContractConfig struct {
	// Address is the contract address to monitor
	Address string `yaml:"address" json:"address" toml:"address"`

	// Kind selects the event schema: "group" or "erc20"
	Kind string `yaml:"kind" json:"kind" toml:"kind"`
}

// Validate checks if the contract configuration is valid.
func (c *ContractConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("address is required")
	}
	if !common.IsHexAddress(c.Address) {
		return fmt.Errorf("invalid address '%s'", c.Address)
	}
	if kind := pcommon.ToLowerWithTrim(c.Kind); kind != KindGroup && kind != KindERC20 {
		return fmt.Errorf("kind must be one of: %s, %s", KindGroup, KindERC20)
	}
	return nil
}

// DefaultDistributorTimeout bounds one payout trigger call.
const DefaultDistributorTimeout = 30 * time.Second

// DistributorConfig configures the HTTP payout trigger.
type DistributorConfig struct {
	// URL is the endpoint receiving {group_address, txn} for each inbound payment
	URL string `yaml:"url" json:"url" toml:"url"`

	// Timeout bounds a single distribution call
	Timeout pcommon.Duration `yaml:"timeout" json:"timeout" toml:"timeout"`
}

// ApplyDefaults sets default values for optional distributor configuration fields.
func (d *DistributorConfig) ApplyDefaults() {
	if d.Timeout.Duration == 0 {
		d.Timeout = pcommon.NewDuration(DefaultDistributorTimeout)
	}
}

// Validate checks if the distributor configuration is valid.
func (d *DistributorConfig) Validate() error {
	if d.URL == "" {
		return fmt.Errorf("url is required")
	}
	if _, err := url.ParseRequestURI(d.URL); err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	return nil
}

// NotifierConfig configures the fire-and-forget webhook sink.
type NotifierConfig struct {
	// Enabled controls whether notifications are sent
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// BaseURL is prefixed to every notification path
	BaseURL string `yaml:"base_url" json:"base_url" toml:"base_url"`

	// CreateGroupPath receives create-group notifications
	CreateGroupPath string `yaml:"create_group_path" json:"create_group_path" toml:"create_group_path"`

	// RecordPaymentPath receives record-payment notifications
	RecordPaymentPath string `yaml:"record_payment_path" json:"record_payment_path" toml:"record_payment_path"`

	// RecordDistributionPath receives record-distribution notifications
	RecordDistributionPath string `yaml:"record_distribution_path" json:"record_distribution_path" toml:"record_distribution_path"` //nolint:lll

	// Timeout bounds a single delivery
	Timeout pcommon.Duration `yaml:"timeout" json:"timeout" toml:"timeout"`

	// MaxInFlight caps concurrent deliveries; notifications beyond it are dropped
	MaxInFlight int `yaml:"max_in_flight" json:"max_in_flight" toml:"max_in_flight"`
}

// ApplyDefaults sets default values for optional notifier configuration fields.
func (n *NotifierConfig) ApplyDefaults() {
	if n.CreateGroupPath == "" {
		n.CreateGroupPath = "/group"
	}
	if n.RecordPaymentPath == "" {
		n.RecordPaymentPath = "/payment"
	}
	if n.RecordDistributionPath == "" {
		n.RecordDistributionPath = "/distribution"
	}
	if n.Timeout.Duration == 0 {
		n.Timeout = pcommon.NewDuration(10 * time.Second) //nolint:mnd
	}
	if n.MaxInFlight == 0 {
		n.MaxInFlight = 64 //nolint:mnd
	}
}

// Validate checks if the notifier configuration is valid.
func (n *NotifierConfig) Validate() error {
	if !n.Enabled {
		return nil
	}
	if n.BaseURL == "" {
		return fmt.Errorf("base_url is required when notifier is enabled")
	}
	if _, err := url.ParseRequestURI(n.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if n.MaxInFlight < 0 {
		return fmt.Errorf("max_in_flight must not be negative")
	}
	return nil
}

// ReconcileConfig configures the settlement reconciliation job.
type ReconcileConfig struct {
	// Interval enables periodic reconciliation while running; zero disables it
	Interval pcommon.Duration `yaml:"interval" json:"interval" toml:"interval"`

	// BatchSize caps how many unsettled transfers one pass picks up
	BatchSize int `yaml:"batch_size" json:"batch_size" toml:"batch_size"`

	// MaxElapsed bounds the retries spent on a single transfer
	MaxElapsed pcommon.Duration `yaml:"max_elapsed" json:"max_elapsed" toml:"max_elapsed"`
}

// ApplyDefaults sets default values for optional reconcile configuration fields.
func (r *ReconcileConfig) ApplyDefaults() {
	if r.BatchSize == 0 {
		r.BatchSize = 100
	}
	if r.MaxElapsed.Duration == 0 {
		r.MaxElapsed = pcommon.NewDuration(2 * time.Minute) //nolint:mnd
	}
}

// Validate checks if the reconcile configuration is valid.
func (r *ReconcileConfig) Validate() error {
	if r.BatchSize < 0 {
		return fmt.Errorf("batch_size must not be negative")
	}
	return nil
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components
	// Available components: source, pipeline, processor, projector, correlator,
	// checkpoint, notifier, distributor, reconciler
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[pcommon.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := pcommon.AllComponents[pcommon.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}

		if _, valid := logger.ValidLogLevels[pcommon.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return pcommon.ToLowerWithTrim(level)
	}
	return pcommon.ToLowerWithTrim(l.DefaultLevel)
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	return pcommon.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP endpoint are active
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	// Format: "host:port" or ":port"
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" {
			return fmt.Errorf("path is required when metrics are enabled")
		}
		if m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.Source.ApplyDefaults()
	c.DB.ApplyDefaults()

	if c.Distributor != nil {
		c.Distributor.ApplyDefaults()
	}
	if c.Notifier != nil {
		c.Notifier.ApplyDefaults()
	}
	if c.Reconcile != nil {
		c.Reconcile.ApplyDefaults()
	}
	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}
	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Source.Validate(); err != nil {
		return err
	}

	if err := c.DB.Validate(); err != nil {
		return err
	}

	if c.Distributor != nil {
		if err := c.Distributor.Validate(); err != nil {
			return fmt.Errorf("distributor: %w", err)
		}
	}

	if c.Notifier != nil {
		if err := c.Notifier.Validate(); err != nil {
			return fmt.Errorf("notifier: %w", err)
		}
	}

	if c.Reconcile != nil {
		if err := c.Reconcile.Validate(); err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	if len(c.Pipelines) == 0 {
		return fmt.Errorf("at least one pipeline must be configured")
	}

	names := make(map[string]bool)
	indexesTokens := false
	for i, p := range c.Pipelines {
		if p.Name == "" {
			return fmt.Errorf("pipeline[%d]: name is required", i)
		}

		if names[p.Name] {
			return fmt.Errorf("pipeline[%d]: duplicate pipeline name '%s'", i, p.Name)
		}
		names[p.Name] = true

		if len(p.Contracts) == 0 {
			return fmt.Errorf("pipeline[%d] (%s): at least one contract must be configured", i, p.Name)
		}

		hasGroup, hasToken := false, false
		for j := range p.Contracts {
			if err := p.Contracts[j].Validate(); err != nil {
				return fmt.Errorf("pipeline[%d] (%s), contract[%d]: %w", i, p.Name, j, err)
			}
			switch pcommon.ToLowerWithTrim(p.Contracts[j].Kind) {
			case KindGroup:
				hasGroup = true
			case KindERC20:
				hasToken = true
			}
		}

		// Transfers are correlated against groups projected by the same
		// stream; a token-only pipeline could run ahead of the group
		// pipeline and drop payments for groups it has not seen yet.
		if hasToken && !hasGroup {
			return fmt.Errorf("pipeline[%d] (%s): erc20 contracts must share a pipeline with a group contract", i, p.Name)
		}
		indexesTokens = indexesTokens || hasToken
	}

	if indexesTokens && c.Distributor == nil {
		return fmt.Errorf("distributor is required when erc20 contracts are indexed")
	}

	return nil
}

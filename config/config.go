package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa de deltamaker.
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Risk     RiskConfig     `yaml:"risk"`
	Executor ExecutorConfig `yaml:"executor"`
	Backtest BacktestConfig `yaml:"backtest"`
	API      APIConfig      `yaml:"api"`
	Storage  StorageConfig  `yaml:"storage"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// EngineConfig controla el ciclo live.
type EngineConfig struct {
	IntervalSeconds int     `yaml:"interval_seconds"`
	Strategy        string  `yaml:"strategy"`          // mid_offset | join_bid
	PositionSize    float64 `yaml:"position_size"`     // shares por pierna
	SpreadOffset    float64 `yaml:"spread_offset"`     // distancia al mid de cada bid
	MinEntrySpread  float64 `yaml:"min_entry_spread"`  // spread YES mínimo para entrar
	MinSecondsToEnd float64 `yaml:"min_seconds_to_end"`
	MaxNewPerCycle  int     `yaml:"max_new_per_cycle"` // 0 = sin límite
	Reconcile       *bool   `yaml:"reconcile"`         // nil = true
	WalletAddress   string  `yaml:"wallet_address"`
}

// RiskConfig contiene los límites del risk monitor. Un límite en 0 toma el valor por defecto.
type RiskConfig struct {
	DailyLossLimit         float64 `yaml:"daily_loss_limit"`
	MaxPositionSize        float64 `yaml:"max_position_size"`
	MaxMarketSize          float64 `yaml:"max_market_size"`
	MaxConcurrentPositions int     `yaml:"max_concurrent_positions"`
	MaxTotalNotional       float64 `yaml:"max_total_notional"`
	MaxDeltaRatio          float64 `yaml:"max_delta_ratio"`
	MaxExecutionFailures   int     `yaml:"max_execution_failures"`
	AlertCapacity          int     `yaml:"alert_capacity"`
	HistoryDays            int     `yaml:"history_days"`
	StatePath              string  `yaml:"state_path"`
	HaltFile               string  `yaml:"halt_file"`
}

// ExecutorConfig controla la verificación de fills y la protección del venue.
type ExecutorConfig struct {
	FillCheckAttempts     int     `yaml:"fill_check_attempts"`
	FillCheckDelaySeconds float64 `yaml:"fill_check_delay_seconds"`
	StatusRetries         int     `yaml:"status_retries"`
	RatePerSecond         float64 `yaml:"rate_per_second"`
	Burst                 int     `yaml:"burst"`
	BreakerFailures       uint32  `yaml:"breaker_failures"`
	BreakerTimeoutSeconds int     `yaml:"breaker_timeout_seconds"`
	DryRunBalance         float64 `yaml:"dry_run_balance"`
}

// BacktestConfig controla la simulación sobre snapshots históricos.
type BacktestConfig struct {
	RebateRate        *float64 `yaml:"rebate_rate"` // nil = 0.002
	CollapseSpread    float64  `yaml:"collapse_spread"`
	CollapseProximity float64  `yaml:"collapse_proximity"`
	Tick              float64  `yaml:"tick"` // 0 = cotiza mid ± offset sin redondear
	Workers           int      `yaml:"workers"`
	MonteCarloRuns    int      `yaml:"montecarlo_runs"`
	Seed              uint64   `yaml:"seed"`
}

// APIConfig contiene los base URLs de las APIs y el filtro de discovery.
type APIConfig struct {
	CLOBBase           string `yaml:"clob_base"`
	GammaBase          string `yaml:"gamma_base"`
	MaxDurationMinutes int    `yaml:"max_duration_minutes"` // duración máxima de los mercados a cotizar
	SlugContains       string `yaml:"slug_contains"`
	DiscoveryMaxPages  int    `yaml:"discovery_max_pages"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// MetricsConfig controla el endpoint de Prometheus.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // vacío = desactivado
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse interpreta un documento YAML y aplica overrides y defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)

	return &cfg, nil
}

// Interval devuelve el intervalo del ciclo live como time.Duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Engine.IntervalSeconds) * time.Second
}

// FillCheckDelay devuelve la espera entre comprobaciones de fill.
func (c *Config) FillCheckDelay() time.Duration {
	return time.Duration(c.Executor.FillCheckDelaySeconds * float64(time.Second))
}

// BreakerTimeout devuelve cuánto permanece abierto el circuit breaker.
func (c *Config) BreakerTimeout() time.Duration {
	return time.Duration(c.Executor.BreakerTimeoutSeconds) * time.Second
}

// MaxMarketDuration devuelve la duración máxima de los mercados descubiertos.
func (c *Config) MaxMarketDuration() time.Duration {
	return time.Duration(c.API.MaxDurationMinutes) * time.Minute
}

// ReconcileEnabled devuelve si el ciclo compara el ledger con el venue.
func (c *Config) ReconcileEnabled() bool {
	return c.Engine.Reconcile == nil || *c.Engine.Reconcile
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("DELTAMAKER_DB"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("DELTAMAKER_HALT_FILE"); v != "" {
		cfg.Risk.HaltFile = v
	}
	if v := os.Getenv("DELTAMAKER_METRICS_LISTEN"); v != "" {
		cfg.Metrics.Listen = v
	}
	if v := os.Getenv("DELTAMAKER_WALLET"); v != "" {
		cfg.Engine.WalletAddress = v
	}
	if v := os.Getenv("DELTAMAKER_DAILY_LOSS_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config.Load: DELTAMAKER_DAILY_LOSS_LIMIT: %w", err)
		}
		cfg.Risk.DailyLossLimit = f
	}
	return nil
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Engine.IntervalSeconds <= 0 {
		cfg.Engine.IntervalSeconds = 60
	}
	if cfg.Engine.Strategy == "" {
		cfg.Engine.Strategy = "mid_offset"
	}
	if cfg.Engine.PositionSize <= 0 {
		cfg.Engine.PositionSize = 100
	}
	if cfg.Engine.SpreadOffset <= 0 {
		cfg.Engine.SpreadOffset = 0.01
	}
	if cfg.Engine.MinEntrySpread <= 0 {
		cfg.Engine.MinEntrySpread = 0.02
	}
	if cfg.Engine.MinSecondsToEnd <= 0 {
		cfg.Engine.MinSecondsToEnd = 120
	}

	if cfg.Risk.DailyLossLimit <= 0 {
		cfg.Risk.DailyLossLimit = 50
	}
	if cfg.Risk.MaxPositionSize <= 0 {
		cfg.Risk.MaxPositionSize = 100
	}
	if cfg.Risk.MaxMarketSize <= 0 {
		cfg.Risk.MaxMarketSize = 200
	}
	if cfg.Risk.MaxConcurrentPositions <= 0 {
		cfg.Risk.MaxConcurrentPositions = 5
	}
	if cfg.Risk.MaxTotalNotional <= 0 {
		cfg.Risk.MaxTotalNotional = 500
	}
	if cfg.Risk.MaxDeltaRatio <= 0 {
		cfg.Risk.MaxDeltaRatio = 0.10
	}
	if cfg.Risk.MaxExecutionFailures <= 0 {
		cfg.Risk.MaxExecutionFailures = 5
	}
	if cfg.Risk.AlertCapacity <= 0 {
		cfg.Risk.AlertCapacity = 100
	}
	if cfg.Risk.HistoryDays <= 0 {
		cfg.Risk.HistoryDays = 30
	}
	if cfg.Risk.StatePath == "" {
		cfg.Risk.StatePath = "data/risk_state.yaml"
	}
	if cfg.Risk.HaltFile == "" {
		cfg.Risk.HaltFile = "HALT"
	}

	if cfg.Executor.FillCheckAttempts <= 0 {
		cfg.Executor.FillCheckAttempts = 3
	}
	if cfg.Executor.FillCheckDelaySeconds <= 0 {
		cfg.Executor.FillCheckDelaySeconds = 2
	}
	if cfg.Executor.StatusRetries <= 0 {
		cfg.Executor.StatusRetries = 2
	}
	if cfg.Executor.RatePerSecond <= 0 {
		cfg.Executor.RatePerSecond = 5
	}
	if cfg.Executor.Burst <= 0 {
		cfg.Executor.Burst = 5
	}
	if cfg.Executor.BreakerFailures == 0 {
		cfg.Executor.BreakerFailures = 5
	}
	if cfg.Executor.BreakerTimeoutSeconds <= 0 {
		cfg.Executor.BreakerTimeoutSeconds = 30
	}
	if cfg.Executor.DryRunBalance <= 0 {
		cfg.Executor.DryRunBalance = 1000
	}

	if cfg.Backtest.RebateRate == nil {
		rate := 0.002
		cfg.Backtest.RebateRate = &rate
	}
	if cfg.Backtest.CollapseSpread <= 0 {
		cfg.Backtest.CollapseSpread = 0.01
	}
	if cfg.Backtest.CollapseProximity <= 0 {
		cfg.Backtest.CollapseProximity = 0.01
	}
	if cfg.Backtest.MonteCarloRuns <= 0 {
		cfg.Backtest.MonteCarloRuns = 1000
	}
	if cfg.Backtest.Seed == 0 {
		cfg.Backtest.Seed = 42
	}

	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.API.MaxDurationMinutes <= 0 {
		cfg.API.MaxDurationMinutes = 15
	}
	if cfg.API.DiscoveryMaxPages <= 0 {
		cfg.API.DiscoveryMaxPages = 10
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "deltamaker.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del bot.
type Config struct {
	API         APIConfig         `yaml:"api"`
	Storage     StorageConfig     `yaml:"storage"`
	Log         LogConfig         `yaml:"log"`
	Trading     TradingConfig     `yaml:"trading"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	DCA         DCAConfig         `yaml:"dca"`
	Bothside    BothsideConfig    `yaml:"bothside"`
	Risk        RiskConfig        `yaml:"risk"`
	Orders      OrdersConfig      `yaml:"orders"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Wallet      WalletConfig      `yaml:"wallet"`
	Telegram    TelegramConfig    `yaml:"telegram"`
}

// APIConfig contiene los base URLs de las APIs externas.
type APIConfig struct {
	CLOBBase  string `yaml:"clob_base"`
	GammaBase string `yaml:"gamma_base"`
	NBABase   string `yaml:"nba_base"`
	RPCURL    string `yaml:"rpc_url"` // Polygon RPC para merges y balances on-chain
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN     string `yaml:"dsn"`      // ruta al archivo SQLite, o ":memory:"
	DataDir string `yaml:"data_dir"` // locks, heartbeat y STOP file
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// TradingConfig holds the sizing tunables.
type TradingConfig struct {
	FractionalKelly  float64 `yaml:"fractional_kelly"`  // 0.25 = quarter Kelly
	MaxPositionUSD   float64 `yaml:"max_position_usd"`
	CapitalRiskPct   float64 `yaml:"capital_risk_pct"`   // 0.02 = 2% of bankroll per trade
	LiquidityFillPct float64 `yaml:"liquidity_fill_pct"` // 0.10 = take at most 10% of 5c depth
	MaxSpreadPct     float64 `yaml:"max_spread_pct"`     // 0.10 = reject books wider than 10%
	MinOrderUSD      float64 `yaml:"min_order_usd"`
	PaperBankroll    float64 `yaml:"paper_bankroll"` // bankroll used when not live
	MinBalanceUSD    float64 `yaml:"min_balance_usd"`
	MaxDailyOrders   int     `yaml:"max_daily_orders"`
	MaxDailyExposure float64 `yaml:"max_daily_exposure_usd"`
	MaxTotalExposure float64 `yaml:"max_total_exposure_usd"`
	MaxGameExposure  float64 `yaml:"max_game_exposure_usd"`
}

// ScheduleConfig drives the per-game job windows and dispatch.
type ScheduleConfig struct {
	WindowHours      int `yaml:"window_hours"`       // execute_after = tipoff - window
	MaxOrdersPerTick int `yaml:"max_orders_per_tick"`
	MaxRetries       int `yaml:"max_retries"`
	HedgeDelayMin    int `yaml:"hedge_delay_min"` // hedge dispatch delay after directional
}

// DCAConfig controls follow-on accumulation entries.
type DCAConfig struct {
	MaxEntries     int     `yaml:"max_entries"`
	MinIntervalMin int     `yaml:"min_interval_min"`
	MaxPriceSpread float64 `yaml:"max_price_spread"` // drift guard vs first entry
	MinPriceDipPct float64 `yaml:"min_price_dip_pct"` // favorable-price early trigger
	DeferRisePct   float64 `yaml:"defer_rise_pct"`    // unfavorable-price deferral
	CapMult        float64 `yaml:"cap_mult"`          // per-entry cap multiplier
	CutoffMin      int     `yaml:"cutoff_min"`        // stop DCA this close to tipoff
}

// BothsideConfig controls the hedge leg and the merge economics.
type BothsideConfig struct {
	Enabled         bool    `yaml:"enabled"`
	MergeEnabled    bool    `yaml:"merge_enabled"`
	MinProfitUSD    float64 `yaml:"min_profit_usd"`
	MinSharesFloor  float64 `yaml:"min_shares_floor"`
	FallbackGasUSD  float64 `yaml:"fallback_gas_usd"` // used when estimation fails
}

// RiskConfig holds the circuit-breaker limits.
type RiskConfig struct {
	DailyLossLimitPct   float64 `yaml:"daily_loss_limit_pct"`
	WeeklyLossLimitPct  float64 `yaml:"weekly_loss_limit_pct"`
	MaxDrawdownLimitPct float64 `yaml:"max_drawdown_limit_pct"`
	DriftThresholdSigma float64 `yaml:"drift_threshold_sigma"`
	ConsecLossLimit     int     `yaml:"consec_loss_limit"`
	OrangeDCAContinues  bool    `yaml:"orange_dca_continues"`
}

// OrdersConfig drives the order-lifecycle manager.
type OrdersConfig struct {
	TTLMin          int     `yaml:"ttl_min"`
	MaxReplaces     int     `yaml:"max_replaces"`
	CheckBatchSize  int     `yaml:"check_batch_size"`
	PaceMillis      int     `yaml:"pace_millis"` // sleep between order API calls
	MinPriceMove    float64 `yaml:"min_price_move"` // skip replace below this delta
}

// CalibrationConfig locates the pre-fit calibration artifact.
type CalibrationConfig struct {
	ArtifactPath    string  `yaml:"artifact_path"` // empty = built-in default
	ConfidenceLevel float64 `yaml:"confidence_level"`
}

// WalletConfig selects the merge wallet class. The private key comes only
// from the WALLET_PRIVATE_KEY env var, never from YAML.
type WalletConfig struct {
	Kind         string `yaml:"kind"` // eoa | proxy
	ProxyAddress string `yaml:"proxy_address"`
	PrivateKey   string `yaml:"-"`
}

// TelegramConfig enables the Telegram notifier. Token and chat id come
// from env (TELEGRAM_BOT_TOKEN, TELEGRAM_CHAT_ID).
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"-"`
	ChatID  string `yaml:"-"`
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

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// OrderTTL devuelve el TTL de órdenes como time.Duration.
func (c *Config) OrderTTL() time.Duration {
	return time.Duration(c.Orders.TTLMin) * time.Minute
}

// HedgeDelay devuelve el retraso del hedge como time.Duration.
func (c *Config) HedgeDelay() time.Duration {
	return time.Duration(c.Schedule.HedgeDelayMin) * time.Minute
}

// DCAMinInterval devuelve el intervalo mínimo entre entradas DCA.
func (c *Config) DCAMinInterval() time.Duration {
	return time.Duration(c.DCA.MinIntervalMin) * time.Minute
}

// DCACutoff devuelve el margen antes del tipoff donde se corta el DCA.
func (c *Config) DCACutoff() time.Duration {
	return time.Duration(c.DCA.CutoffMin) * time.Minute
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("COURTBOT_DB"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("COURTBOT_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("POLYGON_RPC_URL"); v != "" {
		cfg.API.RPCURL = v
	}
	cfg.Wallet.PrivateKey = os.Getenv("WALLET_PRIVATE_KEY")
	if v := os.Getenv("WALLET_KIND"); v != "" {
		cfg.Wallet.Kind = v
	}
	if v := os.Getenv("WALLET_PROXY_ADDRESS"); v != "" {
		cfg.Wallet.ProxyAddress = v
	}
	cfg.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.Telegram.ChatID = os.Getenv("TELEGRAM_CHAT_ID")
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.API.NBABase == "" {
		cfg.API.NBABase = "https://cdn.nba.com"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "courtbot.db"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "."
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	if cfg.Trading.FractionalKelly <= 0 {
		cfg.Trading.FractionalKelly = 0.25
	}
	if cfg.Trading.MaxPositionUSD <= 0 {
		cfg.Trading.MaxPositionUSD = 100
	}
	if cfg.Trading.CapitalRiskPct <= 0 {
		cfg.Trading.CapitalRiskPct = 0.02
	}
	if cfg.Trading.LiquidityFillPct <= 0 {
		cfg.Trading.LiquidityFillPct = 0.10
	}
	if cfg.Trading.MaxSpreadPct <= 0 {
		cfg.Trading.MaxSpreadPct = 0.10
	}
	if cfg.Trading.MinOrderUSD <= 0 {
		cfg.Trading.MinOrderUSD = 1
	}
	if cfg.Trading.PaperBankroll <= 0 {
		cfg.Trading.PaperBankroll = 1000
	}
	if cfg.Trading.MinBalanceUSD <= 0 {
		cfg.Trading.MinBalanceUSD = 10
	}
	if cfg.Trading.MaxDailyOrders <= 0 {
		cfg.Trading.MaxDailyOrders = 20
	}
	if cfg.Trading.MaxDailyExposure <= 0 {
		cfg.Trading.MaxDailyExposure = 500
	}
	if cfg.Trading.MaxTotalExposure <= 0 {
		cfg.Trading.MaxTotalExposure = 2000
	}
	if cfg.Trading.MaxGameExposure <= 0 {
		cfg.Trading.MaxGameExposure = 200
	}

	if cfg.Schedule.WindowHours <= 0 {
		cfg.Schedule.WindowHours = 8
	}
	if cfg.Schedule.MaxOrdersPerTick <= 0 {
		cfg.Schedule.MaxOrdersPerTick = 3
	}
	if cfg.Schedule.MaxRetries <= 0 {
		cfg.Schedule.MaxRetries = 3
	}
	if cfg.Schedule.HedgeDelayMin <= 0 {
		cfg.Schedule.HedgeDelayMin = 5
	}

	if cfg.DCA.MaxEntries <= 0 {
		cfg.DCA.MaxEntries = 5
	}
	if cfg.DCA.MinIntervalMin <= 0 {
		cfg.DCA.MinIntervalMin = 30
	}
	if cfg.DCA.MaxPriceSpread <= 0 {
		cfg.DCA.MaxPriceSpread = 0.15
	}
	if cfg.DCA.MinPriceDipPct <= 0 {
		cfg.DCA.MinPriceDipPct = 0.05
	}
	if cfg.DCA.DeferRisePct <= 0 {
		cfg.DCA.DeferRisePct = 0.10
	}
	if cfg.DCA.CapMult <= 0 {
		cfg.DCA.CapMult = 2.0
	}
	if cfg.DCA.CutoffMin <= 0 {
		cfg.DCA.CutoffMin = 30
	}

	if cfg.Bothside.MinProfitUSD <= 0 {
		cfg.Bothside.MinProfitUSD = 0.10
	}
	if cfg.Bothside.MinSharesFloor <= 0 {
		cfg.Bothside.MinSharesFloor = 10
	}
	if cfg.Bothside.FallbackGasUSD <= 0 {
		cfg.Bothside.FallbackGasUSD = 0.01
	}

	if cfg.Risk.DailyLossLimitPct <= 0 {
		cfg.Risk.DailyLossLimitPct = 0.03
	}
	if cfg.Risk.WeeklyLossLimitPct <= 0 {
		cfg.Risk.WeeklyLossLimitPct = 0.05
	}
	if cfg.Risk.MaxDrawdownLimitPct <= 0 {
		cfg.Risk.MaxDrawdownLimitPct = 0.15
	}
	if cfg.Risk.DriftThresholdSigma <= 0 {
		cfg.Risk.DriftThresholdSigma = 2
	}
	if cfg.Risk.ConsecLossLimit <= 0 {
		cfg.Risk.ConsecLossLimit = 5
	}

	if cfg.Orders.TTLMin <= 0 {
		cfg.Orders.TTLMin = 5
	}
	if cfg.Orders.MaxReplaces <= 0 {
		cfg.Orders.MaxReplaces = 3
	}
	if cfg.Orders.CheckBatchSize <= 0 {
		cfg.Orders.CheckBatchSize = 10
	}
	if cfg.Orders.PaceMillis <= 0 {
		cfg.Orders.PaceMillis = 500
	}
	if cfg.Orders.MinPriceMove <= 0 {
		cfg.Orders.MinPriceMove = 0.01
	}

	if cfg.Calibration.ConfidenceLevel <= 0 {
		cfg.Calibration.ConfidenceLevel = 0.90
	}
	if cfg.Wallet.Kind == "" {
		cfg.Wallet.Kind = "eoa"
	}
}

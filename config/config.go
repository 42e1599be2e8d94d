package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del motor de trading.
// Se resuelve UNA vez en el arranque; nunca se reconstruye por llamada.
type Config struct {
	Strategy  StrategyConfig  `yaml:"strategy"`
	Engine    EngineConfig    `yaml:"engine"`
	Venue     VenueConfig     `yaml:"venue"`
	Storage   StorageConfig   `yaml:"storage"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Log       LogConfig       `yaml:"log"`
}

// StrategyConfig contiene los parámetros de la política reactiva.
// Los valores numéricos pueden ser sobreescritos por la tabla `settings`
// al arrancar (ver domain.ResolveParams); después son inmutables.
type StrategyConfig struct {
	Name                 string  `yaml:"name"`
	BackStake            float64 `yaml:"back_stake"`
	TriggerMovePct       float64 `yaml:"trigger_move_pct"`       // salto relativo que dispara la entrada (0.30 = 30%)
	TriggerSettleSeconds int     `yaml:"trigger_settle_seconds"` // espera tras el trigger antes de entrar
	ConfirmWaitSeconds   int     `yaml:"confirm_wait_seconds"`   // espera de confirmación (reversals tipo VAR)
	CutoffMinute         int     `yaml:"cutoff_minute"`          // triggers después de este minuto no se tradean
	EntryBandMin         float64 `yaml:"entry_band_min"`
	EntryBandMax         float64 `yaml:"entry_band_max"`
	ProfitTargetPct      float64 `yaml:"profit_target_pct"` // objetivo del hedge (0.10 = 10%)
	RecoveryDriftPct     float64 `yaml:"recovery_drift_pct"`
	CommissionRate       float64 `yaml:"commission_rate"`
	MaxRecoveryRetries   int     `yaml:"max_recovery_retries"`
	BaselineWindow       int     `yaml:"baseline_window"`
	BaselineTolerancePct float64 `yaml:"baseline_tolerance_pct"`
}

// EngineConfig controla el scheduler y la verificación de órdenes.
type EngineConfig struct {
	ActivePollSeconds     int `yaml:"active_poll_seconds"`
	KickoffLeadMinutes    int `yaml:"kickoff_lead_minutes"`
	TrailingWindowMinutes int `yaml:"trailing_window_minutes"` // ventana post-kickoff en la que un trade scheduled sigue siendo activable
	TickWorkers           int `yaml:"tick_workers"`
	OrderVerifySeconds    int `yaml:"order_verify_seconds"`
	OrderPollMillis       int `yaml:"order_poll_millis"`
	ShadowWindowMinutes   int `yaml:"shadow_window_minutes"`
}

// VenueConfig contiene los endpoints y credenciales del exchange.
// Usuario y contraseña vienen SIEMPRE del entorno (.env), nunca del YAML.
type VenueConfig struct {
	BaseURL     string `yaml:"base_url"`
	LoginURL    string `yaml:"login_url"`
	AppKey      string `yaml:"app_key"`
	Username    string `yaml:"-"`
	Password    string `yaml:"-"`
	TimeoutSecs int    `yaml:"timeout_seconds"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// DashboardConfig controla la API read-only de estadísticas.
type DashboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
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

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// ActivePollInterval devuelve el intervalo del polling activo como time.Duration.
func (c *Config) ActivePollInterval() time.Duration {
	return time.Duration(c.Engine.ActivePollSeconds) * time.Second
}

// OrderVerifyWindow devuelve el tiempo máximo de verificación de una orden.
func (c *Config) OrderVerifyWindow() time.Duration {
	return time.Duration(c.Engine.OrderVerifySeconds) * time.Second
}

// OrderPollInterval devuelve el intervalo de polling durante la verificación.
func (c *Config) OrderPollInterval() time.Duration {
	return time.Duration(c.Engine.OrderPollMillis) * time.Millisecond
}

// ShadowWindow devuelve la ventana máxima de observación del shadow monitor.
func (c *Config) ShadowWindow() time.Duration {
	return time.Duration(c.Engine.ShadowWindowMinutes) * time.Minute
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("VENUE_APP_KEY"); v != "" {
		cfg.Venue.AppKey = v
	}
	cfg.Venue.Username = os.Getenv("VENUE_USERNAME")
	cfg.Venue.Password = os.Getenv("VENUE_PASSWORD")
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Strategy.Name == "" {
		cfg.Strategy.Name = "goal-hedge"
	}
	if cfg.Strategy.BackStake <= 0 {
		cfg.Strategy.BackStake = 50
	}
	if cfg.Strategy.TriggerMovePct <= 0 {
		cfg.Strategy.TriggerMovePct = 0.30
	}
	if cfg.Strategy.TriggerSettleSeconds <= 0 {
		cfg.Strategy.TriggerSettleSeconds = 75
	}
	if cfg.Strategy.ConfirmWaitSeconds <= 0 {
		cfg.Strategy.ConfirmWaitSeconds = 60
	}
	if cfg.Strategy.CutoffMinute <= 0 {
		cfg.Strategy.CutoffMinute = 45
	}
	if cfg.Strategy.EntryBandMin <= 0 {
		cfg.Strategy.EntryBandMin = 1.20
	}
	if cfg.Strategy.EntryBandMax <= 0 {
		cfg.Strategy.EntryBandMax = 12.0
	}
	if cfg.Strategy.ProfitTargetPct <= 0 {
		cfg.Strategy.ProfitTargetPct = 0.10
	}
	if cfg.Strategy.RecoveryDriftPct <= 0 {
		cfg.Strategy.RecoveryDriftPct = 0.05
	}
	if cfg.Strategy.CommissionRate <= 0 {
		cfg.Strategy.CommissionRate = 0.05
	}
	if cfg.Strategy.MaxRecoveryRetries <= 0 {
		cfg.Strategy.MaxRecoveryRetries = 3
	}
	if cfg.Strategy.BaselineWindow <= 0 {
		cfg.Strategy.BaselineWindow = 3
	}
	if cfg.Strategy.BaselineTolerancePct <= 0 {
		cfg.Strategy.BaselineTolerancePct = 0.02
	}
	if cfg.Engine.ActivePollSeconds <= 0 {
		cfg.Engine.ActivePollSeconds = 10
	}
	if cfg.Engine.KickoffLeadMinutes <= 0 {
		cfg.Engine.KickoffLeadMinutes = 5
	}
	if cfg.Engine.TrailingWindowMinutes <= 0 {
		cfg.Engine.TrailingWindowMinutes = 90
	}
	if cfg.Engine.TickWorkers <= 0 {
		cfg.Engine.TickWorkers = 4
	}
	if cfg.Engine.OrderVerifySeconds <= 0 {
		cfg.Engine.OrderVerifySeconds = 30
	}
	if cfg.Engine.OrderPollMillis <= 0 {
		cfg.Engine.OrderPollMillis = 2000
	}
	if cfg.Engine.ShadowWindowMinutes <= 0 {
		cfg.Engine.ShadowWindowMinutes = 45
	}
	if cfg.Venue.BaseURL == "" {
		cfg.Venue.BaseURL = "https://api.exchange.example.com/betting/rest/v1.0"
	}
	if cfg.Venue.LoginURL == "" {
		cfg.Venue.LoginURL = "https://identity.exchange.example.com/api/login"
	}
	if cfg.Venue.TimeoutSecs <= 0 {
		cfg.Venue.TimeoutSecs = 10
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "hedger.db"
	}
	if cfg.Dashboard.Listen == "" {
		cfg.Dashboard.Listen = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

package storage

// sqlite.go — persistencia del motor.
//
// Estrategia:
//   - `trades`: una fila por trade (strategy, event_id únicos). Mutada solo
//     por read-modify-write de fila única; los trades son agregados
//     independientes, no hacen falta transacciones cross-trade.
//   - `trade_events`: append-only, nunca se muta ni se borra.
//   - `fixtures` y `settings`: el motor solo las lee (las escribe el
//     colaborador de discovery / el operador).
//   - phase_state se guarda como envelope JSON {phase, state} para poder
//     reanudar un trade a mitad de ciclo tras un restart.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/oddsflow/hedger/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS fixtures (
    event_id     TEXT PRIMARY KEY,
    competition  TEXT NOT NULL DEFAULT '',
    name         TEXT NOT NULL DEFAULT '',
    kickoff_at   DATETIME NOT NULL,
    market_id    TEXT NOT NULL,
    selection_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
    strategy TEXT NOT NULL,
    key      TEXT NOT NULL,
    value    TEXT NOT NULL,
    PRIMARY KEY (strategy, key)
);

CREATE TABLE IF NOT EXISTS trades (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    strategy      TEXT NOT NULL,
    event_id      TEXT NOT NULL,
    competition   TEXT NOT NULL DEFAULT '',
    event_name    TEXT NOT NULL DEFAULT '',
    kickoff_at    DATETIME NOT NULL,
    market_id     TEXT NOT NULL,
    selection_id  INTEGER NOT NULL,
    status        TEXT NOT NULL,
    phase_state   TEXT NOT NULL,
    back_price    REAL NOT NULL DEFAULT 0,
    back_stake    REAL NOT NULL DEFAULT 0,
    back_matched  REAL NOT NULL DEFAULT 0,
    lay_price     REAL NOT NULL DEFAULT 0,
    lay_size      REAL NOT NULL DEFAULT 0,
    lay_matched   REAL NOT NULL DEFAULT 0,
    target_stake  REAL NOT NULL DEFAULT 0,
    realised_pnl  REAL NOT NULL DEFAULT 0,
    pnl_known     INTEGER NOT NULL DEFAULT 0,
    last_error    TEXT NOT NULL DEFAULT '',
    settled_at    DATETIME,
    created_at    DATETIME NOT NULL,
    updated_at    DATETIME NOT NULL,
    UNIQUE(strategy, event_id)
);

CREATE TABLE IF NOT EXISTS trade_events (
    id          TEXT PRIMARY KEY,
    trade_id    INTEGER NOT NULL,
    event_type  TEXT NOT NULL,
    payload     TEXT NOT NULL DEFAULT 'null',
    occurred_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_status   ON trades(status);
CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades(strategy);
CREATE INDEX IF NOT EXISTS idx_events_trade    ON trade_events(trade_id, occurred_at);
`

// SQLiteStore implementa ports.TradeStore usando SQLite (pure Go, sin CGo).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore abre (o crea) la base de datos en la ruta dada.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)
	return &SQLiteStore{db: db}, nil
}

// ApplySchema crea las tablas si no existen.
func (s *SQLiteStore) ApplySchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("storage.ApplySchema: %w", err)
	}
	return nil
}

// Close cierra la conexión limpiamente.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// UpsertFixture inserta o actualiza un fixture descubierto.
func (s *SQLiteStore) UpsertFixture(ctx context.Context, f domain.Fixture) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fixtures (event_id, competition, name, kickoff_at, market_id, selection_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			competition  = excluded.competition,
			name         = excluded.name,
			kickoff_at   = excluded.kickoff_at,
			market_id    = excluded.market_id,
			selection_id = excluded.selection_id`,
		f.EventID, f.Competition, f.Name, f.KickoffAt.UTC(), f.MarketID, f.SelectionID)
	if err != nil {
		return fmt.Errorf("storage.UpsertFixture %s: %w", f.EventID, err)
	}
	return nil
}

// ListFixtures devuelve todos los fixtures conocidos.
func (s *SQLiteStore) ListFixtures(ctx context.Context) ([]domain.Fixture, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, competition, name, kickoff_at, market_id, selection_id FROM fixtures ORDER BY kickoff_at`)
	if err != nil {
		return nil, fmt.Errorf("storage.ListFixtures: %w", err)
	}
	defer rows.Close()

	var fixtures []domain.Fixture
	for rows.Next() {
		var f domain.Fixture
		if err := rows.Scan(&f.EventID, &f.Competition, &f.Name, &f.KickoffAt, &f.MarketID, &f.SelectionID); err != nil {
			return nil, fmt.Errorf("storage.ListFixtures: scan: %w", err)
		}
		fixtures = append(fixtures, f)
	}
	return fixtures, rows.Err()
}

// LoadSettings devuelve los parámetros de la estrategia como key/value.
func (s *SQLiteStore) LoadSettings(ctx context.Context, strategy string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings WHERE strategy = ?`, strategy)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadSettings %s: %w", strategy, err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("storage.LoadSettings %s: scan: %w", strategy, err)
		}
		settings[k] = v
	}
	return settings, rows.Err()
}

// CreateTrade inserta un trade nuevo y asigna su ID.
func (s *SQLiteStore) CreateTrade(ctx context.Context, t *domain.Trade) error {
	phase, err := domain.EncodePhaseState(t.Phase)
	if err != nil {
		return fmt.Errorf("storage.CreateTrade: %w", err)
	}

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trades
			(strategy, event_id, competition, event_name, kickoff_at, market_id, selection_id,
			 status, phase_state, back_price, back_stake, back_matched, lay_price, lay_size,
			 lay_matched, target_stake, realised_pnl, pnl_known, last_error, settled_at,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Strategy, t.EventID, t.Competition, t.EventName, t.KickoffAt.UTC(), t.MarketID, t.SelectionID,
		string(t.Status), string(phase), t.BackPrice, t.BackStake, t.BackMatchedSize, t.LayPrice, t.LaySize,
		t.LayMatchedSize, t.TargetStake, t.RealisedPnL, boolToInt(t.PnLKnown), t.LastError, nullTime(t.SettledAt),
		now, now)
	if err != nil {
		return fmt.Errorf("storage.CreateTrade %s/%s: %w", t.Strategy, t.EventID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("storage.CreateTrade: last insert id: %w", err)
	}
	t.ID = id
	return nil
}

// UpdateTrade persiste los campos mutables de un trade (fila única).
func (s *SQLiteStore) UpdateTrade(ctx context.Context, t *domain.Trade) error {
	phase, err := domain.EncodePhaseState(t.Phase)
	if err != nil {
		return fmt.Errorf("storage.UpdateTrade: %w", err)
	}

	t.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE trades SET
			status = ?, phase_state = ?, back_price = ?, back_stake = ?, back_matched = ?,
			lay_price = ?, lay_size = ?, lay_matched = ?, target_stake = ?,
			realised_pnl = ?, pnl_known = ?, last_error = ?, settled_at = ?, updated_at = ?
		WHERE id = ?`,
		string(t.Status), string(phase), t.BackPrice, t.BackStake, t.BackMatchedSize,
		t.LayPrice, t.LaySize, t.LayMatchedSize, t.TargetStake,
		t.RealisedPnL, boolToInt(t.PnLKnown), t.LastError, nullTime(t.SettledAt), t.UpdatedAt,
		t.ID)
	if err != nil {
		return fmt.Errorf("storage.UpdateTrade %d: %w", t.ID, err)
	}
	return nil
}

const tradeColumns = `id, strategy, event_id, competition, event_name, kickoff_at, market_id,
	selection_id, status, phase_state, back_price, back_stake, back_matched, lay_price,
	lay_size, lay_matched, target_stake, realised_pnl, pnl_known, last_error, settled_at,
	created_at, updated_at`

// GetTrade devuelve un trade por ID.
func (s *SQLiteStore) GetTrade(ctx context.Context, id int64) (*domain.Trade, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
	t, err := scanTrade(row)
	if err != nil {
		return nil, fmt.Errorf("storage.GetTrade %d: %w", id, err)
	}
	return t, nil
}

// ListTrades devuelve todos los trades de una estrategia.
func (s *SQLiteStore) ListTrades(ctx context.Context, strategy string) ([]*domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE strategy = ? ORDER BY kickoff_at`, strategy)
	if err != nil {
		return nil, fmt.Errorf("storage.ListTrades %s: %w", strategy, err)
	}
	return collectTrades(rows)
}

// ListTradesByStatus devuelve los trades con el status dado.
func (s *SQLiteStore) ListTradesByStatus(ctx context.Context, status domain.TradeStatus) ([]*domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE status = ? ORDER BY kickoff_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("storage.ListTradesByStatus %s: %w", status, err)
	}
	return collectTrades(rows)
}

// AppendEvent añade una entrada inmutable al event log.
func (s *SQLiteStore) AppendEvent(ctx context.Context, e domain.TradeEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trade_events (id, trade_id, event_type, payload, occurred_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.TradeID, string(e.Type), string(e.Payload), e.OccurredAt.UTC())
	if err != nil {
		return fmt.Errorf("storage.AppendEvent %s: %w", e.ID, err)
	}
	return nil
}

// ListEvents devuelve el event log de un trade en orden cronológico.
func (s *SQLiteStore) ListEvents(ctx context.Context, tradeID int64) ([]domain.TradeEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trade_id, event_type, payload, occurred_at
		FROM trade_events WHERE trade_id = ? ORDER BY occurred_at, id`, tradeID)
	if err != nil {
		return nil, fmt.Errorf("storage.ListEvents %d: %w", tradeID, err)
	}
	defer rows.Close()

	var events []domain.TradeEvent
	for rows.Next() {
		var e domain.TradeEvent
		var typ, payload string
		if err := rows.Scan(&e.ID, &e.TradeID, &typ, &payload, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("storage.ListEvents %d: scan: %w", tradeID, err)
		}
		e.Type = domain.EventType(typ)
		e.Payload = json.RawMessage(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetStats agrega los trades de una estrategia para dashboard/report.
func (s *SQLiteStore) GetStats(ctx context.Context, strategy string) (domain.Stats, error) {
	stats := domain.Stats{Strategy: strategy}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'COMPLETED' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'SKIPPED' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'COMPLETED' AND pnl_known = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'COMPLETED' THEN back_matched ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'COMPLETED' AND pnl_known = 1 THEN realised_pnl ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'COMPLETED' AND pnl_known = 1 AND realised_pnl > 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'COMPLETED' AND pnl_known = 1 AND realised_pnl < 0 THEN 1 ELSE 0 END), 0),
		       MIN(settled_at), MAX(settled_at)
		FROM trades WHERE strategy = ?`, strategy)

	// MIN/MAX pierden el decltype DATETIME, así que el driver devuelve texto.
	var first, last sql.NullString
	if err := row.Scan(&stats.TotalTrades, &stats.Completed, &stats.Skipped, &stats.UnknownPnL,
		&stats.TotalStaked, &stats.TotalPnL, &stats.Wins, &stats.Losses, &first, &last); err != nil {
		return domain.Stats{}, fmt.Errorf("storage.GetStats %s: %w", strategy, err)
	}
	stats.FirstSettled = parseStoredTime(first)
	stats.LastSettled = parseStoredTime(last)
	return stats, nil
}

var storedTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

func parseStoredTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	for _, layout := range storedTimeLayouts {
		if t, err := time.Parse(layout, s.String); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// PnLByCompetition agrupa el P&L realizado por competición.
func (s *SQLiteStore) PnLByCompetition(ctx context.Context, strategy string) ([]domain.CompetitionPnL, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT competition, COUNT(*), COALESCE(SUM(back_matched), 0),
		       COALESCE(SUM(CASE WHEN pnl_known = 1 THEN realised_pnl ELSE 0 END), 0)
		FROM trades
		WHERE strategy = ? AND status = 'COMPLETED'
		GROUP BY competition
		ORDER BY 4 DESC`, strategy)
	if err != nil {
		return nil, fmt.Errorf("storage.PnLByCompetition %s: %w", strategy, err)
	}
	defer rows.Close()

	var out []domain.CompetitionPnL
	for rows.Next() {
		var c domain.CompetitionPnL
		if err := rows.Scan(&c.Competition, &c.Trades, &c.Staked, &c.PnL); err != nil {
			return nil, fmt.Errorf("storage.PnLByCompetition %s: scan: %w", strategy, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ExposureBuckets agrupa los trades settled por tiempo en riesgo
// (kickoff → settlement), en buckets del tamaño dado. El bucketing se hace
// en Go: SQLite no parsea de forma fiable los timestamps que escribe el driver.
func (s *SQLiteStore) ExposureBuckets(ctx context.Context, strategy string, bucket time.Duration) ([]domain.ExposureBucket, error) {
	if bucket <= 0 {
		bucket = 15 * time.Minute
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kickoff_at, settled_at FROM trades
		WHERE strategy = ? AND status = 'COMPLETED' AND settled_at IS NOT NULL AND back_matched > 0`,
		strategy)
	if err != nil {
		return nil, fmt.Errorf("storage.ExposureBuckets %s: %w", strategy, err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var kickoff, settled time.Time
		if err := rows.Scan(&kickoff, &settled); err != nil {
			return nil, fmt.Errorf("storage.ExposureBuckets %s: scan: %w", strategy, err)
		}
		exposure := settled.Sub(kickoff)
		if exposure < 0 {
			exposure = 0
		}
		counts[int(exposure/bucket)]++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	keys := make([]int, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	buckets := make([]domain.ExposureBucket, 0, len(keys))
	for _, k := range keys {
		buckets = append(buckets, domain.ExposureBucket{
			UpperBound: time.Duration(k+1) * bucket,
			Trades:     counts[k],
		})
	}
	return buckets, nil
}

// scanner abstrae sql.Row y sql.Rows para scanTrade.
type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(row scanner) (*domain.Trade, error) {
	var t domain.Trade
	var status, phaseJSON string
	var pnlKnown int
	var settledAt sql.NullTime

	err := row.Scan(&t.ID, &t.Strategy, &t.EventID, &t.Competition, &t.EventName, &t.KickoffAt,
		&t.MarketID, &t.SelectionID, &status, &phaseJSON, &t.BackPrice, &t.BackStake,
		&t.BackMatchedSize, &t.LayPrice, &t.LaySize, &t.LayMatchedSize, &t.TargetStake,
		&t.RealisedPnL, &pnlKnown, &t.LastError, &settledAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.Status = domain.TradeStatus(status)
	t.PnLKnown = pnlKnown == 1
	if settledAt.Valid {
		t.SettledAt = &settledAt.Time
	}

	phase, err := domain.DecodePhaseState([]byte(phaseJSON))
	if err != nil {
		return nil, fmt.Errorf("decode phase: %w", err)
	}
	t.Phase = phase
	return &t, nil
}

func collectTrades(rows *sql.Rows) ([]*domain.Trade, error) {
	defer rows.Close()
	var trades []*domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers "sqlite" driver

	"github.com/Strange-Jackle/meeting-monitor/internal/event"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrNotFound is returned when a session or hint does not exist
var ErrNotFound = errors.New("not found")

// Store persists session data to SQLite or PostgreSQL
type Store struct {
	db       *sql.DB
	postgres bool
	logger   *slog.Logger
}

// Open connects to the database for driver ("sqlite" or "postgres") and
// applies pending migrations
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		sqlDriver string
		dialect   goose.Dialect
	)
	switch driver {
	case "sqlite":
		sqlDriver, dialect = "sqlite", goose.DialectSQLite3
	case "postgres":
		sqlDriver, dialect = "pgx", goose.DialectPostgres
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store open: %w", err)
	}
	if driver == "sqlite" {
		// One connection keeps :memory: databases shared and serializes writers
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store ping: %w", err)
	}

	if err := migrate(ctx, db, dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("store migrate: %w", err)
	}

	logger.Info("Store opened", slog.String("driver", driver))

	return &Store{
		db:       db,
		postgres: driver == "postgres",
		logger:   logger.With(slog.String("component", "store")),
	}, nil
}

func migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect) error {
	migrations, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	provider, err := goose.NewProvider(dialect, db, migrations)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders as $n for PostgreSQL
func (s *Store) rebind(query string) string {
	if !s.postgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CreateSession inserts or refreshes the session row at start
func (s *Store) CreateSession(ctx context.Context, rec SessionRecord) error {
	_, err := s.exec(ctx,
		`INSERT INTO sessions (id, title, simulation, state, started_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET title = excluded.title, simulation = excluded.simulation,
		 state = excluded.state, started_at = excluded.started_at`,
		rec.ID, rec.Title, boolInt(rec.Simulation), string(rec.State), millis(rec.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("create session %s: %w", rec.ID, err)
	}
	return nil
}

// AppendEvent stores one accepted event. Battlecard events also upsert the
// battlecard row and status changes update the session state.
func (s *Store) AppendEvent(ctx context.Context, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %d: %w", ev.Seq, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO events (session_id, seq, type, at, payload) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (session_id, seq) DO NOTHING`),
		ev.SessionID, int64(ev.Seq), string(ev.Type), millis(ev.At), string(payload),
	); err != nil {
		return fmt.Errorf("insert event %d: %w", ev.Seq, err)
	}

	switch {
	case ev.Battlecard != nil:
		if err := s.upsertBattlecard(ctx, tx, ev.SessionID, ev.Battlecard); err != nil {
			return err
		}
	case ev.Status != nil && ev.Status.From != ev.Status.To:
		if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE sessions SET state = ? WHERE id = ?`),
			string(ev.Status.To), ev.SessionID); err != nil {
			return fmt.Errorf("update session state: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) upsertBattlecard(ctx context.Context, tx *sql.Tx, sessionID string, card *event.Battlecard) error {
	points, err := json.Marshal(card.Points)
	if err != nil {
		return fmt.Errorf("encode battlecard points: %w", err)
	}
	research := ""
	if card.Research != nil {
		data, err := json.Marshal(card.Research)
		if err != nil {
			return fmt.Errorf("encode battlecard research: %w", err)
		}
		research = string(data)
	}

	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO battlecards (id, session_id, competitor, points, research, revision, fallback, generated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (session_id, competitor) DO UPDATE SET id = excluded.id, points = excluded.points,
		 research = excluded.research, revision = excluded.revision, fallback = excluded.fallback,
		 generated_at = excluded.generated_at`),
		card.ID, sessionID, card.Competitor, string(points), research, card.Revision,
		boolInt(card.Fallback), millis(card.GeneratedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert battlecard %s: %w", card.Competitor, err)
	}
	return nil
}

// Finalize stores the final transcript, summary and counters
func (s *Store) Finalize(ctx context.Context, rec SessionRecord) error {
	stats, err := json.Marshal(rec.Stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}

	var endedAt int64
	if rec.EndedAt != nil {
		endedAt = millis(*rec.EndedAt)
	}

	res, err := s.exec(ctx,
		`UPDATE sessions SET state = ?, ended_at = ?, summary = ?, transcript = ?, segments = ?, stats = ?
		 WHERE id = ?`,
		string(rec.State), endedAt, rec.Summary, rec.Transcript, rec.Segments, string(stats), rec.ID,
	)
	if err != nil {
		return fmt.Errorf("finalize session %s: %w", rec.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finalize session %s: %w", rec.ID, ErrNotFound)
	}
	return nil
}

// SessionExists reports whether a session id was ever stored
func (s *Store) SessionExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM sessions WHERE id = ?`), id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup session %s: %w", id, err)
	}
	return n > 0, nil
}

// StarHint writes a starred hint for a known session. It is independent of
// the session lifecycle.
func (s *Store) StarHint(ctx context.Context, hint StarredHint) error {
	exists, err := s.SessionExists(ctx, hint.SessionID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("session %s: %w", hint.SessionID, ErrNotFound)
	}

	status := hint.Status
	if status == "" {
		status = HintPending
	}
	now := millis(time.Now())
	_, err = s.exec(ctx,
		`INSERT INTO starred_hints (id, session_id, insight_id, text, starred_at, status, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		hint.ID, hint.SessionID, hint.InsightID, hint.Text, millis(hint.StarredAt), status, now,
	)
	if err != nil {
		return fmt.Errorf("star hint: %w", err)
	}
	return nil
}

// SetHintStatus moves a starred hint to a new export status
func (s *Store) SetHintStatus(ctx context.Context, id, status string) error {
	switch status {
	case HintPending, HintExported, HintFailed:
	default:
		return fmt.Errorf("invalid hint status %q", status)
	}

	res, err := s.exec(ctx, `UPDATE starred_hints SET status = ?, updated_at = ? WHERE id = ?`,
		status, millis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set hint status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("hint %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecentSessions returns up to limit sessions, newest first
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, title, simulation, state, started_at, ended_at, summary, segments, stats
		 FROM sessions ORDER BY started_at DESC, id LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (SessionRecord, error) {
	var (
		rec        SessionRecord
		simulation int
		state      string
		startedAt  int64
		endedAt    sql.NullInt64
		stats      string
	)
	if err := row.Scan(&rec.ID, &rec.Title, &simulation, &state, &startedAt, &endedAt,
		&rec.Summary, &rec.Segments, &stats); err != nil {
		return rec, err
	}

	rec.Simulation = simulation != 0
	rec.State = event.State(state)
	rec.StartedAt = fromMillis(startedAt)
	if endedAt.Valid && endedAt.Int64 > 0 {
		t := fromMillis(endedAt.Int64)
		rec.EndedAt = &t
	}
	if stats != "" {
		if err := json.Unmarshal([]byte(stats), &rec.Stats); err != nil {
			return rec, fmt.Errorf("decode stats: %w", err)
		}
	}
	return rec, nil
}

// SessionHistory returns the stored record, transcript, starred hints and
// battlecards of a session
func (s *Store) SessionHistory(ctx context.Context, id string) (*History, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, title, simulation, state, started_at, ended_at, summary, segments, stats
		 FROM sessions WHERE id = ?`), id)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	h := &History{Session: rec}

	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT transcript FROM sessions WHERE id = ?`), id).
		Scan(&h.Session.Transcript); err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}

	if h.Transcript, h.Events, err = s.loadSegments(ctx, id); err != nil {
		return nil, err
	}
	if h.Hints, err = s.loadHints(ctx, id); err != nil {
		return nil, err
	}
	if h.Battlecards, err = s.loadBattlecards(ctx, id); err != nil {
		return nil, err
	}

	return h, nil
}

func (s *Store) loadSegments(ctx context.Context, id string) ([]event.TranscriptSegment, int, error) {
	var events int
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM events WHERE session_id = ?`), id).
		Scan(&events); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT payload FROM events WHERE session_id = ? AND type = ? ORDER BY seq`),
		id, string(event.TypeTranscriptSegment))
	if err != nil {
		return nil, 0, fmt.Errorf("load segments: %w", err)
	}
	defer rows.Close()

	var out []event.TranscriptSegment
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, 0, err
		}
		var ev event.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, 0, fmt.Errorf("decode event: %w", err)
		}
		if ev.Segment != nil {
			out = append(out, *ev.Segment)
		}
	}
	return out, events, rows.Err()
}

func (s *Store) loadHints(ctx context.Context, id string) ([]StarredHint, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, session_id, insight_id, text, starred_at, status
		 FROM starred_hints WHERE session_id = ? ORDER BY starred_at, id`), id)
	if err != nil {
		return nil, fmt.Errorf("load starred hints: %w", err)
	}
	defer rows.Close()

	var out []StarredHint
	for rows.Next() {
		var (
			h         StarredHint
			starredAt int64
		)
		if err := rows.Scan(&h.ID, &h.SessionID, &h.InsightID, &h.Text, &starredAt, &h.Status); err != nil {
			return nil, err
		}
		h.StarredAt = fromMillis(starredAt)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) loadBattlecards(ctx context.Context, id string) ([]event.Battlecard, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, competitor, points, research, revision, fallback, generated_at
		 FROM battlecards WHERE session_id = ? ORDER BY generated_at, competitor`), id)
	if err != nil {
		return nil, fmt.Errorf("load battlecards: %w", err)
	}
	defer rows.Close()

	var out []event.Battlecard
	for rows.Next() {
		var (
			card        event.Battlecard
			points      string
			research    string
			fallback    int
			generatedAt int64
		)
		if err := rows.Scan(&card.ID, &card.Competitor, &points, &research, &card.Revision, &fallback, &generatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(points), &card.Points); err != nil {
			return nil, fmt.Errorf("decode battlecard points: %w", err)
		}
		if research != "" {
			card.Research = &event.Research{}
			if err := json.Unmarshal([]byte(research), card.Research); err != nil {
				return nil, fmt.Errorf("decode battlecard research: %w", err)
			}
		}
		card.Fallback = fallback != 0
		card.GeneratedAt = fromMillis(generatedAt)
		out = append(out, card)
	}
	return out, rows.Err()
}

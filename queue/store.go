package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite"

	"herald/log"
	"herald/stream"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store is the SQLite-backed mutation queue. A mutation is only reported as
// accepted after its row is committed, so an enqueue that returned nil error
// survives a crash. All methods are safe for concurrent use; SQLite
// serializes the writes.
type Store struct {
	db     *sql.DB
	hub    *stream.Hub[Stats]
	events *stream.Hub[Event]
}

// Open opens (or creates) the queue database at path, applies the schema and
// rehydrates: any mutation left in flight by a previous run is demoted back
// to pending, since its outcome was never observed.
func Open(path string) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, SchemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply queue schema: %w", err)
	}

	res, err := db.ExecContext(ctx,
		`UPDATE mutations SET status = ?, updated_at = ? WHERE status = ?`,
		StatusPending, now(), StatusInFlight)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("demote in-flight mutations: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Mutation("rehydrate_demoted", "", "", string(StatusPending), int(n))
	}

	s := &Store{db: db, hub: stream.NewHub[Stats](), events: stream.NewHub[Event]()}
	s.publishStats()
	return s, nil
}

// openDB enforces WAL journal mode and a busy timeout, and pings before
// returning. A single connection is enough for this workload and keeps
// :memory: databases coherent in tests.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}
	return db, nil
}

func (s *Store) Close() error {
	s.hub.Close()
	s.events.Close()
	return s.db.Close()
}

// Updates streams queue statistics after every state change.
func (s *Store) Updates() (<-chan Stats, func()) { return s.hub.Subscribe() }

// Events streams per-mutation transitions: each state change carries the
// mutation as it now stands, removals carry its last snapshot.
func (s *Store) Events() (<-chan Event, func()) { return s.events.Subscribe() }

// Enqueue persists a new pending mutation and returns it. The returned
// mutation is durable: the row is committed before Enqueue returns.
func (s *Store) Enqueue(entityID string, op Operation, payload map[string]string, serverVersion *int64) (Mutation, error) {
	if entityID == "" {
		return Mutation{}, ErrEmptyEntityID
	}
	if payload == nil {
		payload = map[string]string{}
	}
	body, err := json.MarshalToString(payload)
	if err != nil {
		return Mutation{}, fmt.Errorf("encode payload: %w", err)
	}

	m := Mutation{
		ID:            newID(),
		EntityID:      entityID,
		Operation:     op,
		Payload:       payload,
		Origin:        OriginLocal,
		Status:        StatusPending,
		ServerVersion: serverVersion,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}

	_, err = s.db.Exec(
		`INSERT INTO mutations (id, entity_id, operation, payload, origin, status, attempt, server_version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		m.ID, m.EntityID, m.Operation, body, m.Origin, m.Status,
		nullableVersion(m.ServerVersion), stamp(m.CreatedAt), stamp(m.UpdatedAt))
	if err != nil {
		return Mutation{}, fmt.Errorf("enqueue mutation: %w", err)
	}

	log.Mutation("enqueued", m.ID, m.EntityID, string(m.Status), 0)
	s.publish(m, false)
	return m, nil
}

// Heads returns, for each entity, its oldest unresolved mutation, but only
// when that mutation is pending. An entity whose oldest unresolved mutation
// is in flight, conflicted or failed contributes nothing: later mutations
// for it must wait so the entity's changes apply in order.
func (s *Store) Heads() ([]Mutation, error) {
	rows, err := s.db.Query(
		`SELECT `+columns+` FROM mutations m
		 WHERE m.status = ?
		   AND m.seq = (SELECT MIN(seq) FROM mutations
		                WHERE entity_id = m.entity_id AND status IN (?, ?, ?, ?))
		 ORDER BY m.seq`,
		StatusPending, StatusPending, StatusInFlight, StatusConflicted, StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("query heads: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// MarkInFlight transitions a pending mutation to in flight and bumps its
// attempt counter.
func (s *Store) MarkInFlight(id string) (Mutation, error) {
	return s.transition(id, StatusPending, StatusInFlight, ErrNotPending, true)
}

// Confirm records a server acknowledgment: the entity's version baseline
// advances and the mutation leaves the queue. A confirmed change has nothing
// left to replay, so the row is deleted rather than kept. The returned
// snapshot carries the final confirmed state.
func (s *Store) Confirm(id string, serverVersion int64) (Mutation, error) {
	m, err := s.Get(id)
	if err != nil {
		return Mutation{}, err
	}
	if m.Status != StatusInFlight {
		return Mutation{}, fmt.Errorf("%w: %s is %s", ErrNotInFlight, id, m.Status)
	}

	if err := s.SetBaseline(m.EntityID, serverVersion); err != nil {
		return Mutation{}, err
	}
	if _, err := s.db.Exec(`DELETE FROM mutations WHERE id = ?`, id); err != nil {
		return Mutation{}, fmt.Errorf("confirm mutation %s: %w", id, err)
	}

	m.Status = StatusConfirmed
	m.ServerVersion = &serverVersion
	m.UpdatedAt = time.Now().UTC()
	log.Mutation("confirmed", id, m.EntityID, string(StatusConfirmed), m.Attempt)
	s.publish(m, true)
	return m, nil
}

// MarkConflicted records a version conflict reported by the server. The
// authoritative server version is stored so the conflict can be reconciled
// against it.
func (s *Store) MarkConflicted(id string, serverVersion int64) (Mutation, error) {
	m, err := s.Get(id)
	if err != nil {
		return Mutation{}, err
	}
	if m.Status != StatusInFlight {
		return Mutation{}, fmt.Errorf("%w: %s is %s", ErrNotInFlight, id, m.Status)
	}
	if _, err := s.db.Exec(
		`UPDATE mutations SET status = ?, server_version = ?, updated_at = ? WHERE id = ?`,
		StatusConflicted, serverVersion, now(), id); err != nil {
		return Mutation{}, fmt.Errorf("mark conflicted %s: %w", id, err)
	}
	out, err := s.Get(id)
	if err != nil {
		return Mutation{}, err
	}
	log.Mutation("conflicted", id, m.EntityID, string(StatusConflicted), m.Attempt)
	s.publish(out, false)
	return out, nil
}

// MarkFailed transitions an in-flight mutation to failed. The payload stays
// intact so the failure can be surfaced with the original change.
func (s *Store) MarkFailed(id string) (Mutation, error) {
	return s.transition(id, StatusInFlight, StatusFailed, ErrNotInFlight, false)
}

// Requeue demotes an in-flight mutation back to pending, used when the
// transport drops before any acknowledgment arrives.
func (s *Store) Requeue(id string) (Mutation, error) {
	return s.transition(id, StatusInFlight, StatusPending, ErrNotInFlight, false)
}

// Cancel removes a mutation that has not been sent yet. Anything past
// pending cannot be cancelled.
func (s *Store) Cancel(id string) error {
	m, err := s.Get(id)
	if err != nil {
		return err
	}
	if m.Status != StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, id, m.Status)
	}
	if _, err := s.db.Exec(`DELETE FROM mutations WHERE id = ? AND status = ?`, id, StatusPending); err != nil {
		return fmt.Errorf("cancel mutation %s: %w", id, err)
	}
	log.Mutation("cancelled", id, m.EntityID, "removed", m.Attempt)
	s.publish(m, true)
	return nil
}

// RetryFailed puts a failed mutation back at its position in the entity's
// sub-queue with a fresh attempt budget.
func (s *Store) RetryFailed(id string) (Mutation, error) {
	m, err := s.Get(id)
	if err != nil {
		return Mutation{}, err
	}
	if m.Status != StatusFailed {
		return Mutation{}, fmt.Errorf("%w: %s is %s", ErrNotFailed, id, m.Status)
	}
	if _, err := s.db.Exec(
		`UPDATE mutations SET status = ?, attempt = 0, updated_at = ? WHERE id = ?`,
		StatusPending, now(), id); err != nil {
		return Mutation{}, fmt.Errorf("retry mutation %s: %w", id, err)
	}
	out, err := s.Get(id)
	if err != nil {
		return Mutation{}, err
	}
	log.Mutation("retried", id, m.EntityID, string(StatusPending), 0)
	s.publish(out, false)
	return out, nil
}

// DiscardFailed drops a failed mutation, unblocking the entity's sub-queue.
func (s *Store) DiscardFailed(id string) error {
	m, err := s.Get(id)
	if err != nil {
		return err
	}
	if m.Status != StatusFailed {
		return fmt.Errorf("%w: %s is %s", ErrNotFailed, id, m.Status)
	}
	if _, err := s.db.Exec(`DELETE FROM mutations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("discard mutation %s: %w", id, err)
	}
	log.Mutation("discarded", id, m.EntityID, "removed", m.Attempt)
	s.publish(m, true)
	return nil
}

// RebuildConflicted re-targets a conflicted mutation at the authoritative
// server state: new payload, new version baseline, back to pending.
func (s *Store) RebuildConflicted(id string, payload map[string]string, serverVersion int64) (Mutation, error) {
	m, err := s.Get(id)
	if err != nil {
		return Mutation{}, err
	}
	if m.Status != StatusConflicted {
		return Mutation{}, fmt.Errorf("queue: mutation %s is %s, not conflicted", id, m.Status)
	}
	body, err := json.MarshalToString(payload)
	if err != nil {
		return Mutation{}, fmt.Errorf("encode payload: %w", err)
	}
	if _, err := s.db.Exec(
		`UPDATE mutations SET status = ?, payload = ?, server_version = ?, attempt = 0, updated_at = ? WHERE id = ?`,
		StatusPending, body, serverVersion, now(), id); err != nil {
		return Mutation{}, fmt.Errorf("rebuild mutation %s: %w", id, err)
	}
	out, err := s.Get(id)
	if err != nil {
		return Mutation{}, err
	}
	log.Mutation("rebuilt", id, m.EntityID, string(StatusPending), 0)
	s.publish(out, false)
	return out, nil
}

// DropConflicted abandons a conflicted mutation, accepting the server state.
func (s *Store) DropConflicted(id string) error {
	m, err := s.Get(id)
	if err != nil {
		return err
	}
	if m.Status != StatusConflicted {
		return fmt.Errorf("queue: mutation %s is %s, not conflicted", id, m.Status)
	}
	if _, err := s.db.Exec(`DELETE FROM mutations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("drop mutation %s: %w", id, err)
	}
	log.Mutation("dropped", id, m.EntityID, "removed", m.Attempt)
	s.publish(m, true)
	return nil
}

// HasActive reports whether the entity still has pending or in-flight
// mutations. Local entity state must not be deleted while this is true.
func (s *Store) HasActive(entityID string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM mutations WHERE entity_id = ? AND status IN (?, ?)`,
		entityID, StatusPending, StatusInFlight).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count active mutations: %w", err)
	}
	return n > 0, nil
}

// Get returns a mutation by id.
func (s *Store) Get(id string) (Mutation, error) {
	row := s.db.QueryRow(`SELECT `+columns+` FROM mutations m WHERE m.id = ?`, id)
	m, err := scan(row)
	if err == sql.ErrNoRows {
		return Mutation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return m, err
}

// ListByStatus returns all mutations in the given status, oldest first.
func (s *Store) ListByStatus(status Status) ([]Mutation, error) {
	rows, err := s.db.Query(
		`SELECT `+columns+` FROM mutations m WHERE m.status = ? ORDER BY m.seq`, status)
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// ListEntity returns the entity's full sub-queue, oldest first.
func (s *Store) ListEntity(entityID string) ([]Mutation, error) {
	rows, err := s.db.Query(
		`SELECT `+columns+` FROM mutations m WHERE m.entity_id = ? ORDER BY m.seq`, entityID)
	if err != nil {
		return nil, fmt.Errorf("list entity mutations: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// Baseline returns the last server-confirmed version for the entity.
func (s *Store) Baseline(entityID string) (int64, bool, error) {
	var v int64
	err := s.db.QueryRow(
		`SELECT server_version FROM baselines WHERE entity_id = ?`, entityID).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read baseline: %w", err)
	}
	return v, true, nil
}

// SetBaseline records the entity's server-confirmed version. Versions only
// move forward; a stale update is ignored.
func (s *Store) SetBaseline(entityID string, version int64) error {
	_, err := s.db.Exec(
		`INSERT INTO baselines (entity_id, server_version, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(entity_id) DO UPDATE SET server_version = excluded.server_version,
		     updated_at = excluded.updated_at
		 WHERE excluded.server_version > baselines.server_version`,
		entityID, version, now())
	if err != nil {
		return fmt.Errorf("set baseline: %w", err)
	}
	return nil
}

// Stats counts mutations per status.
func (s *Store) Stats() (Stats, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM mutations GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("count mutations: %w", err)
	}
	defer rows.Close()

	var st Stats
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, err
		}
		switch status {
		case StatusPending:
			st.Pending = n
		case StatusInFlight:
			st.InFlight = n
		case StatusConflicted:
			st.Conflicted = n
		case StatusFailed:
			st.Failed = n
		}
	}
	return st, rows.Err()
}

func (s *Store) transition(id string, from, to Status, errWrongState error, bumpAttempt bool) (Mutation, error) {
	m, err := s.Get(id)
	if err != nil {
		return Mutation{}, err
	}
	if m.Status != from {
		return Mutation{}, fmt.Errorf("%w: %s is %s", errWrongState, id, m.Status)
	}

	query := `UPDATE mutations SET status = ?, updated_at = ? WHERE id = ?`
	if bumpAttempt {
		query = `UPDATE mutations SET status = ?, updated_at = ?, attempt = attempt + 1 WHERE id = ?`
	}
	if _, err := s.db.Exec(query, to, now(), id); err != nil {
		return Mutation{}, fmt.Errorf("transition mutation %s: %w", id, err)
	}

	out, err := s.Get(id)
	if err != nil {
		return Mutation{}, err
	}
	log.Mutation("transition", id, m.EntityID, string(to), out.Attempt)
	s.publish(out, false)
	return out, nil
}

// publish fans a mutation change out to both observable streams.
func (s *Store) publish(m Mutation, removed bool) {
	s.events.Publish(Event{Mutation: m, Removed: removed})
	s.publishStats()
}

func (s *Store) publishStats() {
	st, err := s.Stats()
	if err != nil {
		return
	}
	s.hub.Publish(st)
}

const columns = `m.id, m.entity_id, m.operation, m.payload, m.origin, m.status, m.attempt, m.server_version, m.created_at, m.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scan(r rowScanner) (Mutation, error) {
	var m Mutation
	var body, created, updated string
	var version sql.NullInt64
	if err := r.Scan(&m.ID, &m.EntityID, &m.Operation, &body, &m.Origin,
		&m.Status, &m.Attempt, &version, &created, &updated); err != nil {
		return Mutation{}, err
	}
	if version.Valid {
		v := version.Int64
		m.ServerVersion = &v
	}
	if err := json.UnmarshalFromString(body, &m.Payload); err != nil {
		return Mutation{}, fmt.Errorf("decode payload: %w", err)
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return m, nil
}

func scanAll(rows *sql.Rows) ([]Mutation, error) {
	var out []Mutation
	for rows.Next() {
		m, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullableVersion(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func now() string { return stamp(time.Now()) }

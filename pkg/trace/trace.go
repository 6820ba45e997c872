// Package trace records the applied-operation history of a simulation run
// in SQLite and checks the one property the whole design exists for: every
// replica applied the same Writes in the same order.
//
// The trace is a verification artifact, not recovery state — replicas never
// read it back, and a nil recorder disables it entirely. SQLite in WAL mode
// tolerates all replicas' engines appending concurrently from one process.
package trace

import (
	"database/sql"
	"fmt"

	"github.com/guilhermelhr/TOBLamport/pkg/engine"
	"github.com/guilhermelhr/TOBLamport/pkg/model"

	_ "modernc.org/sqlite"
)

// Store records applied operations. It implements engine.Recorder.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the trace database and initializes the schema.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open trace db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate trace db: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS applied (
		replica  INTEGER NOT NULL,
		kv_key   TEXT NOT NULL,
		seq      INTEGER NOT NULL,
		counter  INTEGER NOT NULL,
		owner    INTEGER NOT NULL,
		action   TEXT NOT NULL,
		payload  INTEGER NOT NULL,
		PRIMARY KEY (replica, kv_key, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_applied_key ON applied(kv_key, replica, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordApplied appends one applied message for (replicaID, key) at apply
// position seq. Safe for concurrent use by all engines of a run.
func (s *Store) RecordApplied(replicaID int, key string, seq uint64, m model.Message) error {
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO applied (replica, kv_key, seq, counter, owner, action, payload)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			replicaID, key, seq, m.Clock.Counter, m.Clock.Owner, m.Action.String(), m.Payload,
		)
		return err
	})
}

// AppliedOp is one row of the trace.
type AppliedOp struct {
	Replica int    `json:"replica"`
	Key     string `json:"key"`
	Seq     uint64 `json:"seq"`
	Counter uint64 `json:"counter"`
	Owner   int    `json:"owner"`
	Action  string `json:"action"`
	Payload int64  `json:"payload"`
}

// Stamp rebuilds the operation's (counter, owner) pair for comparisons.
func (op AppliedOp) Stamp() (uint64, int) { return op.Counter, op.Owner }

// Replicas returns the distinct replica ids present in the trace.
func (s *Store) Replicas() ([]int, error) {
	rows, err := s.db.Query(`SELECT DISTINCT replica FROM applied ORDER BY replica`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Keys returns the distinct keys present in the trace.
func (s *Store) Keys() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT kv_key FROM applied ORDER BY kv_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// AppliedForReplica returns one replica's applied operations for key, in
// apply order.
func (s *Store) AppliedForReplica(replicaID int, key string) ([]AppliedOp, error) {
	rows, err := s.db.Query(
		`SELECT replica, kv_key, seq, counter, owner, action, payload
		 FROM applied WHERE replica = ? AND kv_key = ?
		 ORDER BY seq ASC`,
		replicaID, key,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOps(rows)
}

// writesForReplica is AppliedForReplica filtered to Writes, the only
// operations whose order must match across replicas.
func (s *Store) writesForReplica(replicaID int, key string) ([]AppliedOp, error) {
	rows, err := s.db.Query(
		`SELECT replica, kv_key, seq, counter, owner, action, payload
		 FROM applied WHERE replica = ? AND kv_key = ? AND action = ?
		 ORDER BY seq ASC`,
		replicaID, key, model.Write.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOps(rows)
}

func scanOps(rows *sql.Rows) ([]AppliedOp, error) {
	var ops []AppliedOp
	for rows.Next() {
		var op AppliedOp
		if err := rows.Scan(&op.Replica, &op.Key, &op.Seq, &op.Counter, &op.Owner,
			&op.Action, &op.Payload); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// Divergence is one disagreement between two replicas' applied Write
// sequences for a key.
type Divergence struct {
	Key      string `json:"key"`
	ReplicaA int    `json:"replica_a"`
	ReplicaB int    `json:"replica_b"`
	Index    int    `json:"index"`
	Detail   string `json:"detail"`
}

// VerifyAgreement checks, for every key and every pair of replicas in the
// trace, that both applied the same Writes in the same order. Sequences
// are compared over the shorter prefix: a replica that recorded fewer
// Writes may simply have been stopped mid-flight, which is not a
// disagreement — a different Write at the same position is.
func (s *Store) VerifyAgreement() ([]Divergence, error) {
	keys, err := s.Keys()
	if err != nil {
		return nil, err
	}
	replicas, err := s.Replicas()
	if err != nil {
		return nil, err
	}

	var divs []Divergence
	for _, key := range keys {
		seqs := make(map[int][]AppliedOp, len(replicas))
		for _, id := range replicas {
			ops, err := s.writesForReplica(id, key)
			if err != nil {
				return nil, err
			}
			seqs[id] = ops
		}
		for i := 0; i < len(replicas); i++ {
			for j := i + 1; j < len(replicas); j++ {
				a, b := replicas[i], replicas[j]
				divs = append(divs, compareWrites(key, a, b, seqs[a], seqs[b])...)
			}
		}
	}
	return divs, nil
}

func compareWrites(key string, ra, rb int, a, b []AppliedOp) []Divergence {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var divs []Divergence
	for i := 0; i < n; i++ {
		if a[i].Counter != b[i].Counter || a[i].Owner != b[i].Owner || a[i].Payload != b[i].Payload {
			divs = append(divs, Divergence{
				Key:      key,
				ReplicaA: ra,
				ReplicaB: rb,
				Index:    i,
				Detail: fmt.Sprintf("write %d: replica %d applied (%d,%d)=%d, replica %d applied (%d,%d)=%d",
					i, ra, a[i].Counter, a[i].Owner, a[i].Payload,
					rb, b[i].Counter, b[i].Owner, b[i].Payload),
			})
		}
	}
	return divs
}

// Compile-time check that *Store implements engine.Recorder.
var _ engine.Recorder = (*Store)(nil)

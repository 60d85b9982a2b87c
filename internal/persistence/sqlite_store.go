package persistence

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/petrijr/stepflow/pkg/api"
)

// SQLiteRunStore is a RunStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteRunStore struct {
	db *sql.DB
}

// Ensure SQLiteRunStore implements RunStore.
var _ RunStore = (*SQLiteRunStore)(nil)

// NewSQLiteRunStore initializes the required schema in the given database
// and returns a new SQLiteRunStore.
func NewSQLiteRunStore(db *sql.DB) (*SQLiteRunStore, error) {
	s := &SQLiteRunStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteRunStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			flow_name TEXT NOT NULL,
			status TEXT NOT NULL,
			current_step TEXT NOT NULL,
			artifacts BLOB,
			cards BLOB,
			error TEXT
		);`,
	)
	return err
}

func (s *SQLiteRunStore) SaveRun(run *api.Run) error {
	artifacts, cards, errStr, err := encodeRunColumns(run)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (id, flow_name, status, current_step, artifacts, cards, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		string(run.FlowName),
		string(run.Status),
		string(run.CurrentStep),
		artifacts,
		cards,
		errStr,
	)
	return err
}

func (s *SQLiteRunStore) UpdateRun(run *api.Run) error {
	artifacts, cards, errStr, err := encodeRunColumns(run)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE runs
		SET flow_name = ?, status = ?, current_step = ?, artifacts = ?, cards = ?, error = ?
		WHERE id = ?`,
		string(run.FlowName),
		string(run.Status),
		string(run.CurrentStep),
		artifacts,
		cards,
		errStr,
		run.ID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRunNotFound
	}

	return nil
}

func (s *SQLiteRunStore) GetRun(id string) (*api.Run, error) {
	row := s.db.QueryRow(`
		SELECT id, flow_name, status, current_step, artifacts, cards, error
		FROM runs
		WHERE id = ?`,
		id,
	)

	run, err := scanRun(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

func (s *SQLiteRunStore) ListRuns(filter RunFilter) ([]*api.Run, error) {
	query := `
		SELECT id, flow_name, status, current_step, artifacts, cards, error
		FROM runs`
	var args []any
	var clauses []string

	if filter.FlowName != "" {
		clauses = append(clauses, "flow_name = ?")
		args = append(args, string(filter.FlowName))
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}

	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*api.Run

	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

func encodeRunColumns(run *api.Run) (artifacts, cards []byte, errStr string, err error) {
	artifacts, err = EncodeArtifacts(run.Artifacts)
	if err != nil {
		return nil, nil, "", err
	}

	cards, err = EncodeCards(run.Cards)
	if err != nil {
		return nil, nil, "", err
	}

	if run.Err != nil {
		errStr = run.Err.Error()
	}
	return artifacts, cards, errStr, nil
}

func scanRun(scan func(dest ...any) error) (*api.Run, error) {
	var (
		run                   api.Run
		flowName, statusStr   string
		currentStep           string
		artifactsRaw, cardRaw []byte
		errStr                sql.NullString
	)

	if err := scan(&run.ID, &flowName, &statusStr, &currentStep, &artifactsRaw, &cardRaw, &errStr); err != nil {
		return nil, err
	}

	run.FlowName = api.Name(flowName)
	run.Status = api.Status(statusStr)
	run.CurrentStep = api.Name(currentStep)

	artifacts, err := DecodeArtifacts(artifactsRaw)
	if err != nil {
		return nil, err
	}
	run.Artifacts = artifacts

	cards, err := DecodeCards(cardRaw)
	if err != nil {
		return nil, err
	}
	run.Cards = cards

	if errStr.Valid && errStr.String != "" {
		run.Err = errors.New(errStr.String)
	}

	return &run, nil
}

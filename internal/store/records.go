package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/mutate/internal/ir"
)

// RecordKeyID is the record field holding its integer id.
const RecordKeyID = "id"

// ListOptions pages and orders ListRecords.
type ListOptions struct {
	// Offset and Limit page the result; Limit <= 0 means no limit.
	Offset int
	Limit  int

	// SortField orders by a top-level record field (default "id").
	// Records missing the field sort first.
	SortField string
	Desc      bool

	// Filter keeps records whose fields equal every given value.
	Filter ir.Object
}

// CreateRecord stores data under the next free id of resource (or under
// data["id"] when it is an integer) and returns the stored record.
func (s *Store) CreateRecord(ctx context.Context, resource string, data ir.Object) (ir.Object, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("create record: begin tx: %w", err)
	}
	defer tx.Rollback() // no-op once committed

	record := data.Clone()
	id, explicit := record[RecordKeyID].(ir.Int)
	if !explicit {
		var maxID sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			`SELECT MAX(id) FROM records WHERE resource = ?`, resource,
		).Scan(&maxID); err != nil {
			return nil, fmt.Errorf("create record: next id: %w", err)
		}
		id = ir.Int(maxID.Int64 + 1)
		record[RecordKeyID] = id
	}

	body, err := marshalObject(record)
	if err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO records (resource, id, data) VALUES (?, ?, ?)`,
		resource, int64(id), body,
	); err != nil {
		return nil, fmt.Errorf("create record %s/%d: %w", resource, id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("create record: commit: %w", err)
	}
	return record, nil
}

// GetRecord returns one record. Returns sql.ErrNoRows (wrapped) if absent.
func (s *Store) GetRecord(ctx context.Context, resource string, id int64) (ir.Object, error) {
	return getRecord(ctx, s.db, resource, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRecord(ctx context.Context, q queryRower, resource string, id int64) (ir.Object, error) {
	var body string
	err := q.QueryRowContext(ctx,
		`SELECT data FROM records WHERE resource = ? AND id = ?`, resource, id,
	).Scan(&body)
	if err != nil {
		return nil, fmt.Errorf("get record %s/%d: %w", resource, id, err)
	}
	return unmarshalObject(body)
}

// UpdateRecord shallow-merges patch into a record and returns the result.
// The id field cannot be changed. Returns sql.ErrNoRows (wrapped) if absent.
func (s *Store) UpdateRecord(ctx context.Context, resource string, id int64, patch ir.Object) (ir.Object, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("update record: begin tx: %w", err)
	}
	defer tx.Rollback()

	prev, err := getRecord(ctx, tx, resource, id)
	if err != nil {
		return nil, fmt.Errorf("update record: %w", err)
	}
	next := prev.Merge(patch)
	next[RecordKeyID] = ir.Int(id)

	body, err := marshalObject(next)
	if err != nil {
		return nil, fmt.Errorf("update record: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE records SET data = ? WHERE resource = ? AND id = ?`,
		body, resource, id,
	); err != nil {
		return nil, fmt.Errorf("update record %s/%d: %w", resource, id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("update record: commit: %w", err)
	}
	return next, nil
}

// DeleteRecord removes a record and returns it as it was.
// Returns sql.ErrNoRows (wrapped) if absent.
func (s *Store) DeleteRecord(ctx context.Context, resource string, id int64) (ir.Object, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("delete record: begin tx: %w", err)
	}
	defer tx.Rollback()

	prev, err := getRecord(ctx, tx, resource, id)
	if err != nil {
		return nil, fmt.Errorf("delete record: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM records WHERE resource = ? AND id = ?`, resource, id,
	); err != nil {
		return nil, fmt.Errorf("delete record %s/%d: %w", resource, id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("delete record: commit: %w", err)
	}
	return prev, nil
}

// ListRecords returns the page of records selected by opts and the total
// number of records matching the filter.
func (s *Store) ListRecords(ctx context.Context, resource string, opts ListOptions) ([]ir.Object, int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM records WHERE resource = ? ORDER BY id ASC`, resource,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var all []ir.Object
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, 0, fmt.Errorf("list records: scan: %w", err)
		}
		rec, err := unmarshalObject(body)
		if err != nil {
			return nil, 0, fmt.Errorf("list records: %w", err)
		}
		if matches(rec, opts.Filter) {
			all = append(all, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list records: iterate: %w", err)
	}

	field := opts.SortField
	if field == "" {
		field = RecordKeyID
	}
	sort.SliceStable(all, func(i, j int) bool {
		c := compareValues(all[i][field], all[j][field])
		if opts.Desc {
			return c > 0
		}
		return c < 0
	})

	total := int64(len(all))
	start := min(max(opts.Offset, 0), len(all))
	end := len(all)
	if opts.Limit > 0 {
		end = min(start+opts.Limit, len(all))
	}

	page := make([]ir.Object, 0, end-start)
	page = append(page, all[start:end]...)
	return page, total, nil
}

func matches(rec ir.Object, filter ir.Object) bool {
	for k, want := range filter {
		got, ok := rec[k]
		if !ok || compareValues(got, want) != 0 {
			return false
		}
	}
	return true
}

// compareValues orders scalars: absent < null < bool < int < string.
// Composite values compare by canonical JSON.
func compareValues(a, b ir.Value) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case ir.Bool:
		bv := b.(ir.Bool)
		switch {
		case av == bv:
			return 0
		case !bool(av):
			return -1
		}
		return 1
	case ir.Int:
		bv := b.(ir.Int)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case ir.String:
		return strings.Compare(string(av), string(b.(ir.String)))
	case ir.Array, ir.Object:
		ca, _ := ir.MarshalCanonical(a)
		cb, _ := ir.MarshalCanonical(b)
		return strings.Compare(string(ca), string(cb))
	}
	return 0
}

func rank(v ir.Value) int {
	switch v.(type) {
	case nil:
		return 0
	case ir.Null:
		return 1
	case ir.Bool:
		return 2
	case ir.Int:
		return 3
	case ir.String:
		return 4
	case ir.Array:
		return 5
	case ir.Object:
		return 6
	}
	return 7
}

// Package recordstore implements records.Store over database/sql for
// PostgreSQL and SQLite, driven by a records.Schema.
package recordstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/revisions/internal/common"
	"github.com/dmitrijs2005/revisions/internal/dbx"
	"github.com/dmitrijs2005/revisions/internal/records"
)

// SQLStore implements records.Store over a dbx.DBTX (*sql.DB or *sql.Tx).
type SQLStore struct {
	db      dbx.DBTX
	schema  *records.Schema
	dialect dialect
}

// NewPostgresStore returns a store speaking PostgreSQL.
func NewPostgresStore(db dbx.DBTX, schema *records.Schema) *SQLStore {
	return &SQLStore{db: db, schema: schema, dialect: postgresDialect}
}

// NewSQLiteStore returns a store speaking SQLite.
func NewSQLiteStore(db dbx.DBTX, schema *records.Schema) *SQLStore {
	return &SQLStore{db: db, schema: schema, dialect: sqliteDialect}
}

func (s *SQLStore) Relation(recordType, name string) (records.Relation, error) {
	return s.schema.Relation(recordType, name)
}

func (s *SQLStore) GetFields(ctx context.Context, ref records.Ref) (records.Fields, error) {
	t, err := s.schema.Table(ref.Type)
	if err != nil {
		return nil, err
	}
	return s.findByID(ctx, t.Name, ref.ID)
}

func (s *SQLStore) UpdateFields(ctx context.Context, ref records.Ref, fields records.Fields) error {
	t, err := s.schema.Table(ref.Type)
	if err != nil {
		return err
	}
	a := &args{d: s.dialect}
	set, ok, err := s.assignments(a, fields.Without(records.IDField))
	if err != nil {
		return fmt.Errorf("update %s: %w", ref, err)
	}
	if !ok {
		return nil
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s", quote(t.Name), set, quote(records.IDField), a.add(ref.ID))
	return s.execOne(ctx, query, a.vals, "update %s", ref)
}

func (s *SQLStore) ListRelated(ctx context.Context, ref records.Ref, relation string) ([]records.Fields, error) {
	rel, err := s.relation(ref, relation)
	if err != nil {
		return nil, err
	}
	a := &args{d: s.dialect}

	switch rel.Kind {
	case records.OneToOne, records.OneToMany:
		query := fmt.Sprintf("SELECT * FROM %s WHERE %s = %s ORDER BY %s ASC",
			quote(rel.Table), quote(rel.ForeignKey), a.add(ref.ID), quote(records.IDField))
		return s.query(ctx, query, a.vals...)

	case records.BelongsTo:
		owner, err := s.GetFields(ctx, ref)
		if err != nil {
			return nil, err
		}
		if owner[rel.ForeignKey] == nil {
			return []records.Fields{}, nil
		}
		parentID, err := records.ParseID(owner[rel.ForeignKey])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", ref, rel.ForeignKey, err)
		}
		query := fmt.Sprintf("SELECT * FROM %s WHERE %s = %s", quote(rel.Table), quote(records.IDField), a.add(parentID))
		return s.query(ctx, query, a.vals...)

	default: // ManyToMany
		query := fmt.Sprintf("SELECT r.* FROM %s r JOIN %s p ON p.%s = r.%s WHERE p.%s = %s ORDER BY r.%s ASC",
			quote(rel.Table), quote(rel.PivotTable), quote(rel.RelatedKey), quote(records.IDField),
			quote(rel.ForeignKey), a.add(ref.ID), quote(records.IDField))
		return s.query(ctx, query, a.vals...)
	}
}

func (s *SQLStore) FindRelated(ctx context.Context, ref records.Ref, relation string, id int64) (records.Fields, error) {
	rel, err := s.relation(ref, relation)
	if err != nil {
		return nil, err
	}
	return s.findByID(ctx, rel.Table, id)
}

func (s *SQLStore) CreateRelated(ctx context.Context, ref records.Ref, relation string, fields records.Fields) error {
	rel, err := s.relation(ref, relation)
	if err != nil {
		return err
	}
	row := fields.Clone()
	if row == nil {
		row = records.Fields{}
	}
	if rel.Kind == records.OneToOne || rel.Kind == records.OneToMany {
		row[rel.ForeignKey] = ref.ID
	}
	if err := s.insert(ctx, rel.Table, row); err != nil {
		return fmt.Errorf("create %s of %s: %w", relation, ref, err)
	}
	if _, explicit := row[records.IDField]; explicit && s.dialect.resyncSerial {
		return s.resyncSequence(ctx, rel.Table)
	}
	return nil
}

func (s *SQLStore) UpdateRelated(ctx context.Context, ref records.Ref, relation string, id int64, fields records.Fields) error {
	rel, err := s.relation(ref, relation)
	if err != nil {
		return err
	}
	a := &args{d: s.dialect}
	set, ok, err := s.assignments(a, fields.Without(records.IDField))
	if err != nil {
		return fmt.Errorf("update %s %d of %s: %w", relation, id, ref, err)
	}
	if !ok {
		return nil
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s", quote(rel.Table), set, quote(records.IDField), a.add(id))
	return s.execOne(ctx, query, a.vals, "update %s %d of %s", relation, id, ref)
}

func (s *SQLStore) DeleteRelated(ctx context.Context, ref records.Ref, relation string, id int64) error {
	rel, err := s.relation(ref, relation)
	if err != nil {
		return err
	}
	a := &args{d: s.dialect}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", quote(rel.Table), quote(records.IDField), a.add(id))
	if rel.Kind == records.OneToOne || rel.Kind == records.OneToMany {
		query += fmt.Sprintf(" AND %s = %s", quote(rel.ForeignKey), a.add(ref.ID))
	}
	return s.execOne(ctx, query, a.vals, "delete %s %d of %s", relation, id, ref)
}

func (s *SQLStore) ListPivots(ctx context.Context, ref records.Ref, relation string) ([]records.Fields, error) {
	rel, err := s.pivotRelation(ref, relation)
	if err != nil {
		return nil, err
	}
	a := &args{d: s.dialect}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = %s ORDER BY %s ASC",
		quote(rel.PivotTable), quote(rel.ForeignKey), a.add(ref.ID), quote(rel.RelatedKey))
	return s.query(ctx, query, a.vals...)
}

func (s *SQLStore) AttachPivot(ctx context.Context, ref records.Ref, relation string, relatedID int64, extra records.Fields) error {
	rel, err := s.pivotRelation(ref, relation)
	if err != nil {
		return err
	}
	row := rel.PivotExtras(extra)
	row[rel.ForeignKey] = ref.ID
	row[rel.RelatedKey] = relatedID
	if err := s.insert(ctx, rel.PivotTable, row); err != nil {
		return fmt.Errorf("attach %s %d to %s: %w", relation, relatedID, ref, err)
	}
	return nil
}

func (s *SQLStore) DetachPivot(ctx context.Context, ref records.Ref, relation string, relatedID int64) error {
	rel, err := s.pivotRelation(ref, relation)
	if err != nil {
		return err
	}
	a := &args{d: s.dialect}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s AND %s = %s",
		quote(rel.PivotTable), quote(rel.ForeignKey), a.add(ref.ID), quote(rel.RelatedKey), a.add(relatedID))
	return s.execOne(ctx, query, a.vals, "detach %s %d from %s", relation, relatedID, ref)
}

func (s *SQLStore) UpdatePivot(ctx context.Context, ref records.Ref, relation string, relatedID int64, extra records.Fields) error {
	rel, err := s.pivotRelation(ref, relation)
	if err != nil {
		return err
	}
	a := &args{d: s.dialect}
	set, ok, err := s.assignments(a, rel.PivotExtras(extra))
	if err != nil {
		return fmt.Errorf("update pivot %s %d of %s: %w", relation, relatedID, ref, err)
	}
	if !ok {
		return nil
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s AND %s = %s",
		quote(rel.PivotTable), set, quote(rel.ForeignKey), a.add(ref.ID), quote(rel.RelatedKey), a.add(relatedID))
	return s.execOne(ctx, query, a.vals, "update pivot %s %d of %s", relation, relatedID, ref)
}

func (s *SQLStore) relation(ref records.Ref, name string) (records.Relation, error) {
	rel, err := s.schema.Relation(ref.Type, name)
	if err != nil {
		return records.Relation{}, err
	}
	if !rel.Kind.Supported() {
		return records.Relation{}, fmt.Errorf("relation %q of %q has kind %q: %w", name, ref.Type, rel.Kind, common.ErrUnsupportedRelation)
	}
	return rel, nil
}

func (s *SQLStore) pivotRelation(ref records.Ref, name string) (records.Relation, error) {
	rel, err := s.relation(ref, name)
	if err != nil {
		return records.Relation{}, err
	}
	if rel.Kind != records.ManyToMany {
		return records.Relation{}, fmt.Errorf("relation %q of %q has no pivot table: %w", name, ref.Type, common.ErrUnsupportedRelation)
	}
	return rel, nil
}

func (s *SQLStore) findByID(ctx context.Context, table string, id int64) (records.Fields, error) {
	a := &args{d: s.dialect}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = %s", quote(table), quote(records.IDField), a.add(id))
	rows, err := s.query(ctx, query, a.vals...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s %d: %w", table, id, common.ErrorNotFound)
	}
	return rows[0], nil
}

// assignments renders "col = ?" pairs in key order; false when there is
// nothing to set.
func (s *SQLStore) assignments(a *args, fields records.Fields) (string, bool, error) {
	if len(fields) == 0 {
		return "", false, nil
	}
	parts := make([]string, 0, len(fields))
	for _, k := range fields.Keys() {
		v, err := columnValue(fields[k])
		if err != nil {
			return "", false, fmt.Errorf("column %s: %w", k, err)
		}
		parts = append(parts, quote(k)+" = "+a.add(v))
	}
	return strings.Join(parts, ", "), true, nil
}

func (s *SQLStore) insert(ctx context.Context, table string, row records.Fields) error {
	a := &args{d: s.dialect}
	keys := row.Keys()
	cols := make([]string, 0, len(keys))
	vals := make([]string, 0, len(keys))
	for _, k := range keys {
		v, err := columnValue(row[k])
		if err != nil {
			return fmt.Errorf("column %s: %w", k, err)
		}
		cols = append(cols, quote(k))
		vals = append(vals, a.add(v))
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(table), strings.Join(cols, ", "), strings.Join(vals, ", "))
	if _, err := s.db.ExecContext(ctx, query, a.vals...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *SQLStore) resyncSequence(ctx context.Context, table string) error {
	query := fmt.Sprintf("SELECT setval(pg_get_serial_sequence('%s', 'id'), GREATEST((SELECT MAX(%s) FROM %s), 1))",
		strings.ReplaceAll(table, "'", "''"), quote(records.IDField), quote(table))
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("resync id sequence of %s: %w", table, err)
	}
	return nil
}

// execOne runs a statement that must touch at least one row; otherwise the
// target is reported as not found.
func (s *SQLStore) execOne(ctx context.Context, query string, vals []any, format string, what ...any) error {
	res, err := s.db.ExecContext(ctx, query, vals...)
	if err != nil {
		return fmt.Errorf(format+": db error: %w", append(what, err)...)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf(format+": %w", append(what, common.ErrorNotFound)...)
	}
	return nil
}

func (s *SQLStore) query(ctx context.Context, query string, vals ...any) ([]records.Fields, error) {
	rows, err := s.db.QueryContext(ctx, query, vals...)
	if err != nil {
		return nil, fmt.Errorf("failed to select rows: %w", err)
	}
	defer rows.Close()
	return scanFields(rows)
}

func scanFields(rows *sql.Rows) ([]records.Fields, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	result := make([]records.Fields, 0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		item := make(records.Fields, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				item[c] = string(b)
				continue
			}
			item[c] = vals[i]
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// columnValue turns decoded JSON structures back into storable text.
func columnValue(v any) (any, error) {
	switch v.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return v, nil
	}
}

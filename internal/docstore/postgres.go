package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"qfs/pkg/errors"
	"qfs/pkg/logger"

	"github.com/jmoiron/sqlx"
)

// PostgresStore keeps every collection in a single documents table with a
// JSONB body. Apply runs each batch in one transaction with row locks, so a
// batch either commits entirely or not at all. Change events go out through
// the feed after commit.
type PostgresStore struct {
	db     *sqlx.DB
	feed   *RedisFeed
	logger logger.Logger
}

func NewPostgresStore(db *sqlx.DB, feed *RedisFeed, log logger.Logger) *PostgresStore {
	return &PostgresStore{db: db, feed: feed, logger: log}
}

type documentRow struct {
	ID        string       `db:"id"`
	Data      []byte       `db:"data"`
	CreatedAt sql.NullTime `db:"created_at"`
	UpdatedAt sql.NullTime `db:"updated_at"`
}

func (r *documentRow) toDocument(collection string) (*Document, error) {
	var body map[string]interface{}
	if err := json.Unmarshal(r.Data, &body); err != nil {
		return nil, errors.Wrap(err, "failed to decode document body")
	}
	doc := &Document{
		Collection: collection,
		ID:         r.ID,
		Data:       body,
	}
	if r.CreatedAt.Valid {
		doc.CreatedAt = r.CreatedAt.Time
	}
	if r.UpdatedAt.Valid {
		doc.UpdatedAt = r.UpdatedAt.Time
	}
	return doc, nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	var row documentRow
	query := `SELECT id, data, created_at, updated_at FROM documents WHERE collection = $1 AND id = $2`

	err := s.db.GetContext(ctx, &row, query, collection, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get document")
	}

	return row.toDocument(collection)
}

func (s *PostgresStore) Find(ctx context.Context, q Query) ([]*Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	query := `SELECT id, data, created_at, updated_at FROM documents WHERE collection = $1`
	args := []interface{}{q.Collection}

	for _, f := range q.Filters {
		args = append(args, fmt.Sprint(f.Value))
		query += fmt.Sprintf(` AND data->>%s = $%d`, quoteLiteral(f.Field), len(args))
	}

	switch q.OrderBy {
	case "":
	case "createdAt":
		query += ` ORDER BY created_at`
	case "updatedAt":
		query += ` ORDER BY updated_at`
	default:
		query += ` ORDER BY data->>` + quoteLiteral(q.OrderBy)
	}
	if q.OrderBy != "" && q.Descending {
		query += ` DESC`
	}

	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	var rows []documentRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to query documents")
	}

	docs := make([]*Document, 0, len(rows))
	for i := range rows {
		doc, err := rows[i].toDocument(q.Collection)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *PostgresStore) Apply(ctx context.Context, cmds ...Command) error {
	if err := validateAll(cmds); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	type change struct{ collection, id string }
	changes := make([]change, 0, len(cmds))

	for _, cmd := range cmds {
		collection, id := cmd.Target()

		var current map[string]interface{}
		var raw []byte
		err := tx.QueryRowContext(ctx,
			`SELECT data FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`,
			collection, id,
		).Scan(&raw)
		switch {
		case err == sql.ErrNoRows:
			current = nil
		case err != nil:
			return errors.Wrap(err, "failed to lock document")
		default:
			if err := json.Unmarshal(raw, &current); err != nil {
				return errors.Wrap(err, "failed to decode document body")
			}
		}

		next, err := nextBody(cmd, current)
		if err != nil {
			return err
		}

		encoded, err := json.Marshal(next)
		if err != nil {
			return errors.Wrap(err, "failed to encode document body")
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (collection, id, data, created_at, updated_at)
			VALUES ($1, $2, $3, NOW(), NOW())
			ON CONFLICT (collection, id)
			DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
		`, collection, id, encoded)
		if err != nil {
			return errors.Wrap(err, "failed to write document")
		}

		changes = append(changes, change{collection, id})
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit batch")
	}

	if s.feed != nil {
		for _, ch := range changes {
			s.feed.Publish(ctx, ch.collection, ch.id)
		}
	}
	return nil
}

func (s *PostgresStore) SubscribeDocument(ctx context.Context, collection, id string, fn func(*Document)) (Subscription, error) {
	if s.feed == nil {
		return nil, fmt.Errorf("change feed not configured")
	}

	// Initial snapshot, matching subscribe-then-observe semantics.
	if doc, err := s.Get(ctx, collection, id); err == nil {
		fn(doc)
	} else if err != ErrNotFound {
		return nil, err
	}

	return s.feed.Subscribe(collection, func(changedID string) {
		if changedID != id {
			return
		}
		doc, err := s.Get(context.Background(), collection, id)
		if err != nil {
			if err != ErrNotFound {
				s.logger.Error("Subscription refetch failed", map[string]interface{}{
					"collection": collection,
					"id":         id,
					"error":      err.Error(),
				})
			}
			return
		}
		fn(doc)
	})
}

func (s *PostgresStore) SubscribeQuery(ctx context.Context, q Query, fn func([]*Document)) (Subscription, error) {
	if s.feed == nil {
		return nil, fmt.Errorf("change feed not configured")
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	docs, err := s.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	fn(docs)

	// Any change in the collection re-runs the query; cheap enough for the
	// per-user queries this system issues.
	return s.feed.Subscribe(q.Collection, func(string) {
		docs, err := s.Find(context.Background(), q)
		if err != nil {
			s.logger.Error("Subscription requery failed", map[string]interface{}{
				"collection": q.Collection,
				"error":      err.Error(),
			})
			return
		}
		fn(docs)
	})
}

// quoteLiteral embeds a field name as a SQL string literal. Field names come
// from compiled-in query definitions, never from request input.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Package storage persists which items have been delivered. It is the only correctness-bearing state of the relay.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"github.com/0x0BSoD/feedRelay/internal/model"
)

// ErrAlreadyRecorded is returned by Commit when the item was recorded before, by this or a concurrent process.
var ErrAlreadyRecorded = errors.New("delivery already recorded")

var ErrNotRecorded = errors.New("delivery not recorded")

type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("delivery store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// filterChunk bounds the IN list of a single membership query.
const filterChunk = 500

type DeliveryStorage struct {
	db *sqlx.DB
}

func NewDeliveryStorage(db *sqlx.DB) *DeliveryStorage {
	return &DeliveryStorage{db: db}
}

// FilterNew returns the items that have no delivery record, preserving their order.
func (s *DeliveryStorage) FilterNew(ctx context.Context, feedID string, items []model.Item) ([]model.Item, error) {
	if len(items) == 0 {
		return nil, nil
	}

	delivered := make(map[string]struct{}, len(items))
	guids := lo.Map(items, func(item model.Item, _ int) string { return item.GUID })

	for _, chunk := range lo.Chunk(guids, filterChunk) {
		query, args, err := sqlx.In(`SELECT guid FROM deliveries WHERE feed_id = ? AND guid IN (?)`, feedID, chunk)
		if err != nil {
			return nil, &StoreError{Op: "filter", Err: err}
		}

		var found []string
		if err := s.db.SelectContext(ctx, &found, s.db.Rebind(query), args...); err != nil {
			return nil, &StoreError{Op: "filter", Err: err}
		}

		for _, guid := range found {
			delivered[guid] = struct{}{}
		}
	}

	return lo.Filter(items, func(item model.Item, _ int) bool {
		_, ok := delivered[item.GUID]
		return !ok
	}), nil
}

// Commit records a delivery. The insert is conditional on the (feed_id, guid) key, so the row is written at most
// once no matter how many callers race; losers get ErrAlreadyRecorded.
func (s *DeliveryStorage) Commit(ctx context.Context, feedID, guid string, deliveredAt time.Time) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO deliveries (feed_id, guid, delivered_at) VALUES (?, ?, ?) ON CONFLICT (feed_id, guid) DO NOTHING`),
		feedID, guid, deliveredAt.UTC(),
	)
	if err != nil {
		return &StoreError{Op: "commit", Err: err}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return &StoreError{Op: "commit", Err: err}
	}
	if n == 0 {
		return ErrAlreadyRecorded
	}

	return nil
}

// Record returns the delivery record of one item, or ErrNotRecorded when the item was never delivered.
func (s *DeliveryStorage) Record(ctx context.Context, feedID, guid string) (model.DeliveryRecord, error) {
	var rec model.DeliveryRecord
	err := s.db.GetContext(ctx, &rec,
		s.db.Rebind(`SELECT feed_id, guid, delivered_at FROM deliveries WHERE feed_id = ? AND guid = ?`),
		feedID, guid,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return model.DeliveryRecord{}, ErrNotRecorded
	case err != nil:
		return model.DeliveryRecord{}, &StoreError{Op: "record", Err: err}
	}

	return rec, nil
}

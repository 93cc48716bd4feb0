package handlers

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/sirupsen/logrus"

	"github.com/tradewatch/price-feed-backend/monitoring"
	"github.com/tradewatch/price-feed-backend/types"
)

// Datastore kinds for the persisted business entities.
const (
	PriceSnapshotKind = "PriceSnapshot"
	PricePointKind    = "PricePoint"
	EntityMetaKind    = "EntityMeta"
)

// putBatchSize bounds one PutMulti call; Datastore rejects larger batches.
const putBatchSize = 500

// DatastoreWriter persists price data and entity metadata, and serves the
// stored-price reads for the ops API.
type DatastoreWriter struct {
	client *datastore.Client
	logger *logrus.Logger
}

// NewDatastoreWriter creates a writer over the shared datastore client.
func NewDatastoreWriter(client *datastore.Client, logger *logrus.Logger) *DatastoreWriter {
	return &DatastoreWriter{
		client: client,
		logger: logger,
	}
}

// SavePriceSnapshots stores aggregate snapshots, keyed to deduplicate on
// (entity, interval, observation time).
func (w *DatastoreWriter) SavePriceSnapshots(ctx context.Context, snapshots []*types.PriceSnapshot) error {
	keys := make([]*datastore.Key, len(snapshots))
	for i, snap := range snapshots {
		name := fmt.Sprintf("%s|%s|%d", snap.EntityID, snap.Interval, snap.ObservedAt.Unix())
		keys[i] = datastore.NameKey(PriceSnapshotKind, name, nil)
	}
	return w.putBatched(ctx, "save_snapshots", keys, snapshots)
}

// SavePricePoints stores historical points, keyed to deduplicate on
// (entity, timestamp) so a re-scrape never doubles a day.
func (w *DatastoreWriter) SavePricePoints(ctx context.Context, points []*types.PricePoint) error {
	keys := make([]*datastore.Key, len(points))
	for i, point := range points {
		name := fmt.Sprintf("%s|%d", point.EntityID, point.Timestamp.Unix())
		keys[i] = datastore.NameKey(PricePointKind, name, nil)
	}
	return w.putBatched(ctx, "save_points", keys, points)
}

// SaveEntityMeta stores the entity metadata catalog.
func (w *DatastoreWriter) SaveEntityMeta(ctx context.Context, metas []*types.EntityMeta) error {
	keys := make([]*datastore.Key, len(metas))
	for i, meta := range metas {
		keys[i] = datastore.NameKey(EntityMetaKind, meta.EntityID, nil)
	}
	return w.putBatched(ctx, "save_meta", keys, metas)
}

// LatestPrices returns the most recent stored snapshots.
func (w *DatastoreWriter) LatestPrices(ctx context.Context, limit int) ([]*types.PriceSnapshot, error) {
	start := time.Now()
	q := datastore.NewQuery(PriceSnapshotKind).Order("-observed_at").Limit(limit)

	var snapshots []*types.PriceSnapshot
	_, err := w.client.GetAll(ctx, q, &snapshots)
	w.record("latest_prices", start, err)
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}

// EntityHistory returns stored history points for one entity, newest first.
func (w *DatastoreWriter) EntityHistory(ctx context.Context, entityID string, limit int) ([]*types.PricePoint, error) {
	start := time.Now()
	q := datastore.NewQuery(PricePointKind).
		FilterField("entity_id", "=", entityID).
		Order("-timestamp").
		Limit(limit)

	var points []*types.PricePoint
	_, err := w.client.GetAll(ctx, q, &points)
	w.record("entity_history", start, err)
	if err != nil {
		return nil, err
	}
	return points, nil
}

// putBatched writes keys/values in datastore-sized batches.
func (w *DatastoreWriter) putBatched(ctx context.Context, operation string, keys []*datastore.Key, values interface{}) error {
	start := time.Now()

	var err error
	switch src := values.(type) {
	case []*types.PriceSnapshot:
		for i := 0; i < len(keys); i += putBatchSize {
			end := min(i+putBatchSize, len(keys))
			if _, err = w.client.PutMulti(ctx, keys[i:end], src[i:end]); err != nil {
				break
			}
		}
	case []*types.PricePoint:
		for i := 0; i < len(keys); i += putBatchSize {
			end := min(i+putBatchSize, len(keys))
			if _, err = w.client.PutMulti(ctx, keys[i:end], src[i:end]); err != nil {
				break
			}
		}
	case []*types.EntityMeta:
		for i := 0; i < len(keys); i += putBatchSize {
			end := min(i+putBatchSize, len(keys))
			if _, err = w.client.PutMulti(ctx, keys[i:end], src[i:end]); err != nil {
				break
			}
		}
	default:
		err = fmt.Errorf("unsupported batch type %T", values)
	}

	w.record(operation, start, err)
	if err != nil {
		w.logger.WithFields(logrus.Fields{
			"operation": operation,
			"count":     len(keys),
			"error":     err.Error(),
		}).Error("Datastore batch write failed")
		return err
	}

	w.logger.WithFields(logrus.Fields{
		"operation": operation,
		"count":     len(keys),
	}).Debug("Datastore batch write completed")
	return nil
}

func (w *DatastoreWriter) record(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	monitoring.RecordDatastoreOperation(operation, status, time.Since(start).Seconds())
}

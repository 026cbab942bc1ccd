// Package sink stores what downstream teams act on: purchase requests for
// confirmed orders and quality reports for canceled ones.
package sink

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	procurementCollection = "procurement_requests"
	qualityCollection     = "quality_reports"
)

type ProcurementLine struct {
	ProductID   int64  `bson:"product_id"`
	ProductName string `bson:"product_name"`
	Quantity    int    `bson:"quantity"`
}

type ProcurementRequest struct {
	OrderID    string            `bson:"order_id"`
	EventID    string            `bson:"event_id,omitempty"`
	Comment    string            `bson:"comment,omitempty"`
	Items      []ProcurementLine `bson:"items"`
	ReceivedAt time.Time         `bson:"received_at"`
}

type QualityReport struct {
	OrderID      string    `bson:"order_id"`
	EventID      string    `bson:"event_id,omitempty"`
	Reason       string    `bson:"reason"`
	LostAmount   string    `bson:"lost_amount"`
	CustomerName string    `bson:"customer_name,omitempty"`
	ReceivedAt   time.Time `bson:"received_at"`
}

// Store records one document per order. Recording an order a second time is
// a no-op and reports false.
type Store interface {
	RecordProcurement(ctx context.Context, req ProcurementRequest) (bool, error)
	RecordQualityReport(ctx context.Context, report QualityReport) (bool, error)
}

type MongoStore struct {
	procurement *mongo.Collection
	quality     *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		procurement: db.Collection(procurementCollection),
		quality:     db.Collection(qualityCollection),
	}
}

func (s *MongoStore) RecordProcurement(ctx context.Context, req ProcurementRequest) (bool, error) {
	inserted, err := insertOnce(ctx, s.procurement, req.OrderID, req)
	if err != nil {
		return false, fmt.Errorf("failed to record procurement request: %w", err)
	}
	return inserted, nil
}

func (s *MongoStore) RecordQualityReport(ctx context.Context, report QualityReport) (bool, error) {
	inserted, err := insertOnce(ctx, s.quality, report.OrderID, report)
	if err != nil {
		return false, fmt.Errorf("failed to record quality report: %w", err)
	}
	return inserted, nil
}

// insertOnce upserts with $setOnInsert so a redelivered event leaves the
// first document untouched.
func insertOnce(ctx context.Context, coll *mongo.Collection, orderID string, doc any) (bool, error) {
	filter := bson.M{"order_id": orderID}
	update := bson.M{"$setOnInsert": doc}
	res, err := coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// lost a concurrent upsert race on the unique index
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return res.UpsertedCount == 1, nil
}

func (s *MongoStore) FindProcurement(ctx context.Context, orderID string) (*ProcurementRequest, error) {
	var req ProcurementRequest
	if err := s.procurement.FindOne(ctx, bson.M{"order_id": orderID}).Decode(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *MongoStore) FindQualityReport(ctx context.Context, orderID string) (*QualityReport, error) {
	var report QualityReport
	if err := s.quality.FindOne(ctx, bson.M{"order_id": orderID}).Decode(&report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (s *MongoStore) CreateIndexes(ctx context.Context) error {
	for _, coll := range []*mongo.Collection{s.procurement, s.quality} {
		_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "order_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		})
		if err != nil {
			return fmt.Errorf("failed to create index on %s: %w", coll.Name(), err)
		}
	}
	return nil
}

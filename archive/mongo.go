package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/orchestrator"
	"github.com/BaSui01/swarmflow/registry"
)

// mongoOpTimeout bounds the initial connect checks and the Close disconnect.
const mongoOpTimeout = 10 * time.Second

// Collection names used by the mongo backend. They match the SQL table names
// so operators see one vocabulary across drivers.
const (
	mongoTasksCollection     = "archived_tasks"
	mongoConsensusCollection = "consensus_records"
)

// MongoStore archives records in MongoDB collections.
type MongoStore struct {
	client    *mongo.Client
	tasks     *mongo.Collection
	consensus *mongo.Collection
	logger    *zap.Logger
}

// OpenMongo connects to the configured MongoDB deployment and prepares the
// archive collections.
func OpenMongo(cfg config.ArchiveConfig, logger *zap.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.URI == "" {
		return nil, errors.New("mongo archive requires a connection URI")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo archive: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo archive: %w", err)
	}

	name := cfg.Name
	if name == "" {
		name = "swarmflow"
	}
	db := client.Database(name)
	store := &MongoStore{
		client:    client,
		tasks:     db.Collection(mongoTasksCollection),
		consensus: db.Collection(mongoConsensusCollection),
		logger:    logger,
	}

	// Unique task ids back the SaveTask upsert.
	_, err = store.tasks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "task_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ensure mongo archive indexes: %w", err)
	}

	logger.Info("archive connected",
		zap.String("driver", DriverMongo),
		zap.String("database", name))
	return store, nil
}

// SaveTask archives one terminal task, overwriting any earlier record with
// the same task id.
func (s *MongoStore) SaveTask(ctx context.Context, task *registry.Task) error {
	if task == nil || task.TaskID == "" {
		return ErrInvalidRecord
	}
	rec := newTaskRecord(task)
	_, err := s.tasks.ReplaceOne(ctx,
		bson.D{{Key: "task_id", Value: task.TaskID}},
		rec,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("archive task %s: %w", task.TaskID, err)
	}
	return nil
}

// SaveConsensus appends one consensus tally snapshot.
func (s *MongoStore) SaveConsensus(ctx context.Context, result *orchestrator.ConsensusResult) error {
	if result == nil || result.VoteTopic == "" {
		return ErrInvalidRecord
	}
	rec := newConsensusRecord(result)
	if _, err := s.consensus.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("archive consensus %s/%s: %w", result.VoteTopic, result.TaskID, err)
	}
	return nil
}

// RecentTasks returns archived tasks, newest first.
func (s *MongoStore) RecentTasks(ctx context.Context, limit int) ([]TaskRecord, error) {
	cur, err := s.tasks.Find(ctx, bson.D{}, recentOpts("archived_at", limit))
	if err != nil {
		return nil, fmt.Errorf("list archived tasks: %w", err)
	}
	var recs []TaskRecord
	if err := cur.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("decode archived tasks: %w", err)
	}
	return recs, nil
}

// TaskByID retrieves one archived task.
func (s *MongoStore) TaskByID(ctx context.Context, taskID string) (*TaskRecord, error) {
	if taskID == "" {
		return nil, ErrInvalidRecord
	}
	var rec TaskRecord
	err := s.tasks.FindOne(ctx, bson.D{{Key: "task_id", Value: taskID}}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load archived task %s: %w", taskID, err)
	}
	return &rec, nil
}

// RecentConsensus returns consensus snapshots, newest first.
func (s *MongoStore) RecentConsensus(ctx context.Context, limit int) ([]ConsensusRecord, error) {
	cur, err := s.consensus.Find(ctx, bson.D{}, recentOpts("recorded_at", limit))
	if err != nil {
		return nil, fmt.Errorf("list consensus records: %w", err)
	}
	var recs []ConsensusRecord
	if err := cur.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("decode consensus records: %w", err)
	}
	return recs, nil
}

// Ping checks deployment connectivity.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects from the deployment.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// recentOpts sorts newest first with an id tiebreak and caps the result size.
func recentOpts(sortField string, limit int) options.Lister[options.FindOptions] {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	return options.Find().
		SetSort(bson.D{{Key: sortField, Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
}

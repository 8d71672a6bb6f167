package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"feedwatch/internal/watcher/events"
	"feedwatch/internal/watcher/filter"
	"feedwatch/internal/watcher/metrics"
)

// MongoSource opens change streams against a single MongoDB collection.
type MongoSource struct {
	coll     *mongo.Collection
	database string
	collName string
	logger   *slog.Logger
}

// NewMongoSource creates a Source over database/collection.
func NewMongoSource(client *mongo.Client, database, collection string, logger *slog.Logger) *MongoSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &MongoSource{
		coll:     client.Database(database).Collection(collection),
		database: database,
		collName: collection,
		logger:   logger.With("component", "feed", "database", database, "collection", collection),
	}
}

// Open implements Source. The returned EventSource is valid until closed or
// until the server terminates the stream.
func (s *MongoSource) Open(ctx context.Context, opts OpenOptions) (EventSource, error) {
	if err := opts.Filter.Validate(); err != nil {
		return nil, &ConnectError{Kind: KindInvalidFilter, Err: err}
	}

	// The looked-up document can differ from the one that produced the
	// event, so matching is repeated client-side via CEL.
	prg, err := opts.Filter.Program()
	if err != nil {
		return nil, &ConnectError{Kind: KindInvalidFilter, Err: err}
	}

	csOpts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	switch {
	case !opts.ResumeAfter.IsZero():
		csOpts.SetResumeAfter(bson.Raw(opts.ResumeAfter))
	case opts.FromStart:
		// T=1 asks for the oldest position the oplog still retains.
		csOpts.SetStartAtOperationTime(&primitive.Timestamp{T: 1, I: 0})
	}

	stream, err := s.coll.Watch(ctx, opts.Filter.Pipeline(), csOpts)
	if err != nil {
		return nil, Classify(err)
	}

	connID := uuid.NewString()
	s.logger.Info("change stream opened",
		"conn_id", connID,
		"resuming", !opts.ResumeAfter.IsZero(),
		"from_start", opts.FromStart,
	)

	return &mongoEventSource{
		stream:   stream,
		program:  prg,
		database: s.database,
		collName: s.collName,
		logger:   s.logger.With("conn_id", connID),
	}, nil
}

// mongoEventSource adapts a driver change stream to the pull-based
// EventSource contract.
type mongoEventSource struct {
	stream   *mongo.ChangeStream
	program  cel.Program
	database string
	collName string
	logger   *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// rawEvent mirrors the change stream document shape.
type rawEvent struct {
	OperationType string         `bson:"operationType"`
	FullDocument  map[string]any `bson:"fullDocument"`
	DocumentKey   struct {
		ID any `bson:"_id"`
	} `bson:"documentKey"`
	UpdateDescription *struct {
		UpdatedFields map[string]any `bson:"updatedFields"`
		RemovedFields []string       `bson:"removedFields"`
	} `bson:"updateDescription"`
	ClusterTime primitive.Timestamp `bson:"clusterTime"`
	NS          struct {
		DB   string `bson:"db"`
		Coll string `bson:"coll"`
	} `bson:"ns"`
}

// Next implements EventSource. Events failing the client-side filter check
// are skipped, not surfaced.
func (s *mongoEventSource) Next(ctx context.Context) (*events.ChangeEvent, error) {
	for s.stream.Next(ctx) {
		var raw rawEvent
		if err := s.stream.Decode(&raw); err != nil {
			metrics.DecodeErrors.Inc()
			s.logger.Error("failed to decode change event, dropping", "error", err)
			continue
		}

		evt := s.toChangeEvent(&raw)

		if evt.Payload != nil && s.program != nil {
			match, err := filter.Evaluate(s.program, evt.Payload)
			if err != nil {
				s.logger.Debug("client-side filter evaluation failed, skipping event",
					"error", err, "doc_key", evt.DocumentKey)
				continue
			}
			if !match {
				continue
			}
		}

		return evt, nil
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err := s.stream.Err(); err != nil {
		return nil, Classify(err)
	}
	return nil, ErrEndOfStream
}

func (s *mongoEventSource) toChangeEvent(raw *rawEvent) *events.ChangeEvent {
	evt := &events.ChangeEvent{
		Operation:   events.ParseOperation(raw.OperationType),
		Database:    raw.NS.DB,
		Collection:  raw.NS.Coll,
		DocumentKey: formatDocumentKey(raw.DocumentKey.ID),
		Payload:     raw.FullDocument,
		ClusterTime: events.ClusterTimeFromPrimitive(raw.ClusterTime),
		Timestamp:   time.Now().UnixMilli(),
		Token:       events.ResumeToken(s.stream.ResumeToken()).Clone(),
	}
	if evt.Database == "" {
		evt.Database = s.database
	}
	if evt.Collection == "" {
		evt.Collection = s.collName
	}
	if raw.UpdateDescription != nil {
		evt.UpdateDesc = &events.UpdateDescription{
			UpdatedFields: raw.UpdateDescription.UpdatedFields,
			RemovedFields: raw.UpdateDescription.RemovedFields,
		}
	}
	return evt
}

// Close implements EventSource.
func (s *mongoEventSource) Close() error {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeErr = s.stream.Close(ctx)
	})
	return s.closeErr
}

func formatDocumentKey(id any) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	case nil:
		return ""
	default:
		return bsonValueString(v)
	}
}

func bsonValueString(v any) string {
	// Extended JSON keeps non-string keys unambiguous in log output.
	b, err := bson.MarshalExtJSON(bson.M{"k": v}, false, false)
	if err != nil {
		return ""
	}
	s := string(b)
	// Strip the {"k": ...} wrapper.
	const prefix = `{"k":`
	if len(s) > len(prefix)+1 {
		return s[len(prefix) : len(s)-1]
	}
	return s
}

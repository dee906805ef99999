package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rapidworks/expertdesk/internal/logging"
	"github.com/rapidworks/expertdesk/internal/model"
)

const (
	taskCollection    = "taskRequests"
	messageCollection = "taskMessages"

	// codeIllegalOperation is returned by standalone servers for
	// transactional commands.
	codeIllegalOperation = 20
)

// MongoStore implements the Store interface on MongoDB. Task documents hold
// the request fields plus a messageSeq counter; messages live one document
// per message in a separate collection.
//
// UpdateTask runs in a multi-document transaction on replica sets and
// sharded clusters. Standalone servers reject transactions; there the task
// write commits first and is undone if a message write fails.
type MongoStore struct {
	client   *mongo.Client
	tasks    *mongo.Collection
	messages *mongo.Collection
	log      *logrus.Entry

	noTxn atomic.Bool
}

// NewMongoStore connects to uri, verifies the connection and ensures the
// indexes the store relies on.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:   client,
		tasks:    db.Collection(taskCollection),
		messages: db.Collection(messageCollection),
		log:      logging.Discard(),
	}
	if err := s.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "taskId", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "taskId", Value: 1}, {Key: "clientId", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"clientId": bson.M{"$exists": true}}),
		},
	})
	if err != nil {
		return fmt.Errorf("creating message indexes: %w", err)
	}

	_, err = s.tasks.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}}},
		{Keys: bson.D{{Key: "expertEmail", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating task indexes: %w", err)
	}
	return nil
}

// SetLogger sets the logger used for transaction fallbacks and failed
// compensations.
func (s *MongoStore) SetLogger(log *logrus.Entry) {
	s.log = log.WithField("component", "mongo_store")
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// CreateTask inserts a new task request document.
func (s *MongoStore) CreateTask(ctx context.Context, task *model.TaskRequest) error {
	task.Revision = 1
	if task.Files == nil {
		task.Files = []model.FileRef{}
	}
	if _, err := s.tasks.InsertOne(ctx, task); err != nil {
		return fmt.Errorf("inserting task %s: %w", task.ID, err)
	}
	return nil
}

// GetTask retrieves a single task and its messages.
func (s *MongoStore) GetTask(ctx context.Context, id string) (*model.TaskRequest, error) {
	var task model.TaskRequest
	err := s.tasks.FindOne(ctx, bson.M{"_id": id}).Decode(&task)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("getting task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting task %s: %w", id, err)
	}

	msgs, err := s.findMessages(ctx, bson.M{"taskId": id})
	if err != nil {
		return nil, err
	}
	task.Messages = msgs
	return &task, nil
}

func (s *MongoStore) findMessages(ctx context.Context, filter bson.M) ([]model.Message, error) {
	cur, err := s.messages.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	msgs := []model.Message{}
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("decoding messages: %w", err)
	}
	return msgs, nil
}

// ListTasks retrieves tasks matching the provided filter options.
func (s *MongoStore) ListTasks(ctx context.Context, opts TaskFilter) ([]model.TaskRequest, error) {
	filter := bson.M{}
	if opts.UserID != nil {
		filter["userId"] = *opts.UserID
	}
	if opts.ExpertEmail != nil {
		filter["expertEmail"] = bson.M{"$regex": "^" + regexp.QuoteMeta(*opts.ExpertEmail) + "$", "$options": "i"}
	}
	if opts.Status != nil {
		filter["status"] = string(*opts.Status)
	}
	if opts.Query != nil && *opts.Query != "" {
		q := bson.M{"$regex": regexp.QuoteMeta(*opts.Query), "$options": "i"}
		filter["$or"] = bson.A{bson.M{"taskName": q}, bson.M{"taskDescription": q}}
	}

	sortFields := map[string]string{
		"task_name":  "taskName",
		"status":     "status",
		"created_at": "createdAt",
		"updated_at": "updatedAt",
	}
	sortBy, ok := sortFields[opts.SortBy]
	if !ok {
		sortBy = "updatedAt"
	}
	direction := 1
	if opts.SortDesc {
		direction = -1
	}

	findOpts := options.Find().SetSort(bson.D{{Key: sortBy, Value: direction}, {Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cur, err := s.tasks.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	tasks := []model.TaskRequest{}
	if err := cur.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("decoding tasks: %w", err)
	}
	if len(tasks) == 0 {
		return tasks, nil
	}

	ids := make([]string, len(tasks))
	index := make(map[string]int, len(tasks))
	for i := range tasks {
		ids[i] = tasks[i].ID
		index[tasks[i].ID] = i
		tasks[i].Messages = []model.Message{}
	}
	msgs, err := s.findMessages(ctx, bson.M{"taskId": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		i := index[m.TaskID]
		tasks[i].Messages = append(tasks[i].Messages, m)
	}
	return tasks, nil
}

// UpdateTask writes the mutable fields if the revision still matches, then
// rewrites and appends the update's messages. Either all of it lands or none
// of it does.
func (s *MongoStore) UpdateTask(ctx context.Context, u TaskUpdate) (int64, error) {
	if !s.noTxn.Load() {
		rev, err := s.updateInTransaction(ctx, u)
		if !transactionsUnsupported(err) {
			return rev, err
		}
		s.noTxn.Store(true)
		s.log.WithError(err).Warn("mongodb deployment has no transactions, task updates use compensation")
	}
	return s.updateCompensated(ctx, u)
}

func (s *MongoStore) updateInTransaction(ctx context.Context, u TaskUpdate) (int64, error) {
	session, err := s.client.StartSession()
	if err != nil {
		return 0, fmt.Errorf("starting session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if err := s.swapTask(sc, u); err != nil {
			return nil, err
		}
		return nil, s.writeMessages(sc, u)
	})
	if err != nil {
		return 0, err
	}
	return u.ExpectedRevision + 1, nil
}

// updateCompensated snapshots the task and the rewritten messages, applies
// the update and restores the snapshot if a message write fails.
func (s *MongoStore) updateCompensated(ctx context.Context, u TaskUpdate) (int64, error) {
	var before bson.M
	err := s.tasks.FindOne(ctx, bson.M{"_id": u.ID, "revision": u.ExpectedRevision}).Decode(&before)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, fmt.Errorf("loading task %s: %w", u.ID, err)
	}
	original := make(map[string]string, len(u.Rewrite))
	for _, m := range u.Rewrite {
		var prev model.Message
		err := s.messages.FindOne(ctx, bson.M{"_id": m.ID, "taskId": u.ID}).Decode(&prev)
		if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
			return 0, fmt.Errorf("loading message %s: %w", m.ID, err)
		}
		if err == nil {
			original[m.ID] = prev.Content
		}
	}

	if err := s.swapTask(ctx, u); err != nil {
		return 0, err
	}
	if err := s.writeMessages(ctx, u); err != nil {
		s.restore(ctx, u, before, original)
		return 0, err
	}
	return u.ExpectedRevision + 1, nil
}

// restore undoes a partially applied update. It only touches the task while
// nothing else has written it since.
func (s *MongoStore) restore(ctx context.Context, u TaskUpdate, before bson.M, original map[string]string) {
	log := s.log.WithFields(logrus.Fields{"task_id": u.ID, "revision": u.ExpectedRevision})

	res, err := s.tasks.ReplaceOne(ctx, bson.M{"_id": u.ID, "revision": u.ExpectedRevision + 1}, before)
	if err != nil || res.MatchedCount == 0 {
		log.WithError(err).Error("task update left partially applied")
		return
	}

	seq := before["messageSeq"]
	if seq == nil {
		seq = 0
	}
	if _, err := s.messages.DeleteMany(ctx, bson.M{"taskId": u.ID, "seq": bson.M{"$gt": seq}}); err != nil {
		log.WithError(err).Error("removing messages of failed task update")
	}
	for id, content := range original {
		_, err := s.messages.UpdateOne(ctx,
			bson.M{"_id": id, "taskId": u.ID},
			bson.M{"$set": bson.M{"content": content}})
		if err != nil {
			log.WithError(err).WithField("message_id", id).Error("restoring rewritten message")
		}
	}
}

func (s *MongoStore) swapTask(ctx context.Context, u TaskUpdate) error {
	set := bson.M{
		"status":          string(u.Status),
		"estimate":        u.Estimate,
		"invoice":         u.Invoice,
		"declineFeedback": u.DeclineFeedback,
		"updatedAt":       u.UpdatedAt,
		"completedAt":     u.CompletedAt,
	}
	res, err := s.tasks.UpdateOne(ctx,
		bson.M{"_id": u.ID, "revision": u.ExpectedRevision},
		bson.M{"$set": set, "$inc": bson.M{"revision": 1}},
	)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", u.ID, err)
	}
	if res.MatchedCount == 0 {
		if err := s.exists(ctx, u.ID); err != nil {
			return fmt.Errorf("updating task %s: %w", u.ID, err)
		}
		return fmt.Errorf("updating task %s at revision %d: %w", u.ID, u.ExpectedRevision, ErrConflict)
	}
	return nil
}

func (s *MongoStore) writeMessages(ctx context.Context, u TaskUpdate) error {
	for _, m := range u.Rewrite {
		_, err := s.messages.UpdateOne(ctx,
			bson.M{"_id": m.ID, "taskId": u.ID},
			bson.M{"$set": bson.M{"content": m.Content}})
		if err != nil {
			return fmt.Errorf("rewriting message %s: %w", m.ID, err)
		}
	}
	for _, m := range u.Append {
		if _, _, err := s.append(ctx, u.ID, m, false); err != nil {
			return err
		}
	}
	return nil
}

func transactionsUnsupported(err error) bool {
	var se mongo.ServerError
	return errors.As(err, &se) && se.HasErrorCode(codeIllegalOperation)
}

// AppendMessage stores msg at the next sequence position of the task.
func (s *MongoStore) AppendMessage(ctx context.Context, taskID string, msg model.Message) (model.Message, bool, error) {
	return s.append(ctx, taskID, msg, true)
}

func (s *MongoStore) append(ctx context.Context, taskID string, msg model.Message, bumpRevision bool) (model.Message, bool, error) {
	if msg.ClientID != "" {
		existing, err := s.findByClientID(ctx, taskID, msg.ClientID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return model.Message{}, false, fmt.Errorf("checking client id %s: %w", msg.ClientID, err)
		}
	}

	inc := bson.M{"messageSeq": 1}
	update := bson.M{"$inc": inc}
	if bumpRevision {
		inc["revision"] = 1
		update["$set"] = bson.M{"updatedAt": msg.CreatedAt}
	}

	var counter struct {
		MessageSeq int64 `bson:"messageSeq"`
	}
	err := s.tasks.FindOneAndUpdate(ctx, bson.M{"_id": taskID}, update,
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{"messageSeq": 1}),
	).Decode(&counter)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Message{}, false, fmt.Errorf("appending to task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return model.Message{}, false, fmt.Errorf("allocating seq for task %s: %w", taskID, err)
	}

	msg.TaskID = taskID
	msg.Seq = counter.MessageSeq
	if _, err := s.messages.InsertOne(ctx, msg); err != nil {
		if mongo.IsDuplicateKeyError(err) && msg.ClientID != "" {
			existing, findErr := s.findByClientID(ctx, taskID, msg.ClientID)
			if findErr == nil {
				return existing, false, nil
			}
		}
		return model.Message{}, false, fmt.Errorf("inserting message %s: %w", msg.ID, err)
	}
	return msg, true, nil
}

func (s *MongoStore) findByClientID(ctx context.Context, taskID, clientID string) (model.Message, error) {
	var m model.Message
	err := s.messages.FindOne(ctx, bson.M{"taskId": taskID, "clientId": clientID}).Decode(&m)
	return m, err
}

// MarkRead flips unread messages from sender to read.
func (s *MongoStore) MarkRead(ctx context.Context, taskID string, sender model.Sender) (int, error) {
	if err := s.exists(ctx, taskID); err != nil {
		return 0, fmt.Errorf("marking task %s read: %w", taskID, err)
	}

	res, err := s.messages.UpdateMany(ctx,
		bson.M{"taskId": taskID, "sender": string(sender), "read": false},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return 0, fmt.Errorf("marking messages read for task %s: %w", taskID, err)
	}
	if res.ModifiedCount == 0 {
		return 0, nil
	}

	if _, err := s.tasks.UpdateOne(ctx, bson.M{"_id": taskID}, bson.M{"$inc": bson.M{"revision": 1}}); err != nil {
		return 0, fmt.Errorf("bumping revision for task %s: %w", taskID, err)
	}
	return int(res.ModifiedCount), nil
}

// Revisions returns the current revision for each of the given task ids.
func (s *MongoStore) Revisions(ctx context.Context, ids []string) (map[string]int64, error) {
	out := make(map[string]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	cur, err := s.tasks.Find(ctx, bson.M{"_id": bson.M{"$in": ids}},
		options.Find().SetProjection(bson.M{"revision": 1}))
	if err != nil {
		return nil, fmt.Errorf("querying revisions: %w", err)
	}
	var rows []struct {
		ID       string `bson:"_id"`
		Revision int64  `bson:"revision"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decoding revisions: %w", err)
	}
	for _, r := range rows {
		out[r.ID] = r.Revision
	}
	return out, nil
}

func (s *MongoStore) exists(ctx context.Context, id string) error {
	n, err := s.tasks.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("checking task %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

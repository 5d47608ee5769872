package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AnshRaj112/shadowmatch-backend/internal/database"
	"github.com/AnshRaj112/shadowmatch-backend/internal/models"
	"github.com/AnshRaj112/shadowmatch-backend/internal/services"
)

// Mongo holds chat sessions and moderation reports.
type Mongo struct {
	sessions *mongo.Collection
	reports  *mongo.Collection
}

func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{
		sessions: db.Collection(database.SessionsCollection),
		reports:  db.Collection(database.ReportsCollection),
	}
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return services.ErrNotFound
	}
	return err
}

// --- sessions ---

func (m *Mongo) CreateSession(ctx context.Context, s *models.ChatSession) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := m.sessions.InsertOne(ctx, s)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

func (m *Mongo) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var s models.ChatSession
	if err := m.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&s); err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// UpdateSession is an optimistic read-modify-write: the replace only applies
// while the status is still the one fn saw.
func (m *Mongo) UpdateSession(ctx context.Context, id string, fn func(*models.ChatSession) error) (*models.ChatSession, error) {
	for attempt := 0; attempt < 3; attempt++ {
		s, err := m.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		seen := s.Status
		if err := fn(s); err != nil {
			return nil, err
		}

		qctx, cancel := context.WithTimeout(ctx, queryTimeout)
		res, err := m.sessions.ReplaceOne(qctx, bson.M{"_id": id, "status": seen}, s)
		cancel()
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 1 {
			return s, nil
		}
	}
	return nil, services.ErrInvalidTransition
}

func (m *Mongo) SessionsByUser(ctx context.Context, userKey string) ([]*models.ChatSession, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cursor, err := m.sessions.Find(ctx, bson.M{"participants.user_key": userKey}, options.Find().SetSort(bson.M{"started_at": 1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []*models.ChatSession
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Mongo) DeleteSessionsByUser(ctx context.Context, userKey string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := m.sessions.DeleteMany(ctx, bson.M{"participants.user_key": userKey})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// --- reports ---

func (m *Mongo) CreateReport(ctx context.Context, r *models.ModerationReport) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if r.EvidenceURLs == nil {
		r.EvidenceURLs = []string{}
	}
	_, err := m.reports.InsertOne(ctx, r)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

func (m *Mongo) GetReport(ctx context.Context, id string) (*models.ModerationReport, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var r models.ModerationReport
	if err := m.reports.FindOne(ctx, bson.M{"_id": id}).Decode(&r); err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

// ResolveReport only matches pending reports, so a review is applied once.
func (m *Mongo) ResolveReport(ctx context.Context, id string, status models.ReportStatus, action models.ModerationAction, reviewer string, at time.Time) (*models.ModerationReport, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	set := bson.M{
		"status":      status,
		"reviewed_by": reviewer,
		"reviewed_at": at,
	}
	if action != "" {
		set["action"] = action
	}

	var r models.ModerationReport
	err := m.reports.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": models.ReportPending},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, getErr := m.GetReport(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, services.ErrReportImmutable
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (m *Mongo) AddEvidence(ctx context.Context, id, url string) (*models.ModerationReport, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var r models.ModerationReport
	err := m.reports.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$addToSet": bson.M{"evidence_urls": url}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&r)
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (m *Mongo) ListReports(ctx context.Context, status models.ReportStatus, limit int) ([]*models.ModerationReport, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	findOptions := options.Find().SetSort(bson.M{"created_at": -1})
	if limit > 0 {
		findOptions.SetLimit(int64(limit))
	}

	cursor, err := m.reports.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []*models.ModerationReport
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Mongo) CountReportsAgainst(ctx context.Context, userKey string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	return m.reports.CountDocuments(ctx, bson.M{
		"reported_user_key": userKey,
		"status":            bson.M{"$ne": models.ReportDismissed},
	})
}

func (m *Mongo) ScrubReporter(ctx context.Context, userKey string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := m.reports.UpdateMany(ctx,
		bson.M{"reporter_key": userKey},
		bson.M{"$unset": bson.M{"reporter_key": ""}},
	)
	return err
}

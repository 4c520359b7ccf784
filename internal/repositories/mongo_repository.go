package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"campuspay/internal/models"
)

const (
	usersCollection = "users"
	otpsCollection  = "otps"
)

type MongoUserRepository struct {
	col *mongo.Collection
}

func NewMongoUserRepository(db *mongo.Database) *MongoUserRepository {
	return &MongoUserRepository{col: db.Collection(usersCollection)}
}

// EnsureIndexes creates the unique email index that backs duplicate detection.
func (r *MongoUserRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("users indexes: %w", err)
	}
	return nil
}

func (r *MongoUserRepository) Create(ctx context.Context, user *models.User) error {
	if _, err := r.col.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("user create: %w", err)
	}
	return nil
}

func (r *MongoUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *MongoUserRepository) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	err := r.col.FindOne(ctx, filter).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user find: %w", err)
	}
	return &u, nil
}

func (r *MongoUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	n, err := r.col.CountDocuments(ctx, bson.M{"email": email}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("user exists: %w", err)
	}
	return n > 0, nil
}

// MongoOTPRepository uses the identifier as _id, which gives the one-challenge-per-
// identifier guarantee without an extra index.
type MongoOTPRepository struct {
	col *mongo.Collection
}

func NewMongoOTPRepository(db *mongo.Database) *MongoOTPRepository {
	return &MongoOTPRepository{col: db.Collection(otpsCollection)}
}

// EnsureIndexes installs a TTL index on issued_at so the server reaps stale
// challenges even when the sweeper is off. The index fires well after ttl;
// deciding expiry stays with the caller.
func (r *MongoOTPRepository) EnsureIndexes(ctx context.Context, ttl time.Duration) error {
	_, err := r.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "issued_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(retentionFor(ttl) / time.Second)),
	})
	if err != nil {
		return fmt.Errorf("otps indexes: %w", err)
	}
	return nil
}

func (r *MongoOTPRepository) Upsert(ctx context.Context, ch *models.OTPChallenge) error {
	doc := models.OTPChallenge{Identifier: ch.Identifier, Code: ch.Code, IssuedAt: ch.IssuedAt}
	_, err := r.col.ReplaceOne(ctx, bson.M{"_id": ch.Identifier}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("otp upsert: %w", err)
	}
	return nil
}

func (r *MongoOTPRepository) Get(ctx context.Context, identifier string) (*models.OTPChallenge, error) {
	var ch models.OTPChallenge
	err := r.col.FindOne(ctx, bson.M{"_id": identifier}).Decode(&ch)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("otp get: %w", err)
	}
	return &ch, nil
}

func (r *MongoOTPRepository) MarkVerified(ctx context.Context, identifier, code string) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": identifier, "code": code},
		bson.M{"$set": bson.M{"verified": true}})
	if err != nil {
		return fmt.Errorf("otp mark verified: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoOTPRepository) IncrementAttempts(ctx context.Context, identifier, code string) (int, error) {
	var ch models.OTPChallenge
	err := r.col.FindOneAndUpdate(ctx,
		bson.M{"_id": identifier, "code": code},
		bson.M{"$inc": bson.M{"attempts": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&ch)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("otp increment attempts: %w", err)
	}
	return ch.Attempts, nil
}

func (r *MongoOTPRepository) Delete(ctx context.Context, identifier string) error {
	if _, err := r.col.DeleteOne(ctx, bson.M{"_id": identifier}); err != nil {
		return fmt.Errorf("otp delete: %w", err)
	}
	return nil
}

func (r *MongoOTPRepository) DeleteIssuedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.col.DeleteMany(ctx, bson.M{"issued_at": bson.M{"$lte": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("otp sweep: %w", err)
	}
	return res.DeletedCount, nil
}

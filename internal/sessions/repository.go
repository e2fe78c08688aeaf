package sessions

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cyhinverse/YiBu-sub004/internal/models"
)

// Repository provides refresh-token record persistence keyed by account id.
// Append and Replace must be atomic per account so concurrent refreshes never
// interleave a read-modify-write on the token sequence.
type Repository interface {
	// Replace resets the account's record to a one-element token sequence.
	Replace(ctx context.Context, userID, token string) error
	// Get returns the record for the account, or nil when none exists.
	Get(ctx context.Context, userID string) (*models.RefreshTokenRecord, error)
	// Append pushes a token onto the sequence, evicting from the front so the
	// length never exceeds cap.
	Append(ctx context.Context, userID, token string, cap int) error
	// DeleteAll removes every record for the account.
	DeleteAll(ctx context.Context, userID string) error
}

// MongoRepository implements Repository using a Mongo collection
type MongoRepository struct {
	col *mongo.Collection
}

func NewMongoRepository(col *mongo.Collection) *MongoRepository {
	return &MongoRepository{col: col}
}

func (r *MongoRepository) Replace(ctx context.Context, userID, token string) error {
	now := time.Now().UTC()
	_, err := r.col.UpdateOne(ctx,
		bson.M{"userId": userID},
		bson.M{
			"$set":         bson.M{"tokens": []string{token}, "updatedAt": now},
			"$setOnInsert": bson.M{"createdAt": now},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *MongoRepository) Get(ctx context.Context, userID string) (*models.RefreshTokenRecord, error) {
	// decode tokens loosely: legacy records stored a single string instead of
	// an array and are treated as a one-element sequence
	var doc struct {
		ID        primitive.ObjectID `bson:"_id,omitempty"`
		UserID    string             `bson:"userId"`
		Tokens    interface{}        `bson:"tokens"`
		CreatedAt time.Time          `bson:"createdAt"`
		UpdatedAt time.Time          `bson:"updatedAt"`
	}
	if err := r.col.FindOne(ctx, bson.M{"userId": userID}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	rec := &models.RefreshTokenRecord{
		ID:        doc.ID,
		UserID:    doc.UserID,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	rec.Tokens = tokensFromBSON(doc.Tokens)
	return rec, nil
}

// tokensFromBSON normalizes the stored tokens field. Current records hold an
// array; legacy records stored a single string, which reads as a one-element
// sequence.
func tokensFromBSON(v interface{}) []string {
	switch t := v.(type) {
	case primitive.A:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{t}
	}
	return nil
}

func (r *MongoRepository) Append(ctx context.Context, userID, token string, cap int) error {
	// single conditional push-and-trim; no read-modify-write in application code
	_, err := r.col.UpdateOne(ctx,
		bson.M{"userId": userID},
		bson.M{
			"$push": bson.M{"tokens": bson.M{"$each": []string{token}, "$slice": -cap}},
			"$set":  bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	return err
}

func (r *MongoRepository) DeleteAll(ctx context.Context, userID string) error {
	_, err := r.col.DeleteMany(ctx, bson.M{"userId": userID})
	return err
}

package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/cyhinverse/YiBu-sub004/pkg/logger"
)

// Entry is one audit log record.
type Entry struct {
	ID        string    `bson:"_id" json:"id"`
	UserID    string    `bson:"userId,omitempty" json:"userId,omitempty"`
	Action    string    `bson:"action" json:"action"`
	Detail    string    `bson:"detail,omitempty" json:"detail,omitempty"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// Logger writes audit entries to a Mongo collection. Writes are best-effort:
// a failed audit insert is logged but never fails the calling operation.
type Logger struct {
	col *mongo.Collection
}

// NewLogger creates an audit logger. A nil collection disables auditing.
func NewLogger(col *mongo.Collection) *Logger {
	return &Logger{col: col}
}

// Record inserts an audit entry.
func (l *Logger) Record(ctx context.Context, userID, action, detail string) {
	if l == nil || l.col == nil {
		return
	}
	e := Entry{
		ID:        uuid.New().String(),
		UserID:    userID,
		Action:    action,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := l.col.InsertOne(ctx, e); err != nil {
		logger.Warnf("audit: failed to record %s for %s: %v", action, userID, err)
	}
}

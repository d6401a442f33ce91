package simplebanners

import (
	"context"

	"github.com/google/uuid"
)

// LogWriter persists publication membership.
type LogWriter interface {
	AddToPublicationLog(ctx context.Context, publicationID uuid.UUID, snapshotIDs []uuid.UUID) error
}

// PublicationLog is the append-only membership relation between a
// publication and every snapshot that was ever part of it. There is no
// removal: membership is history.
type PublicationLog struct {
	w LogWriter
}

// NewPublicationLog returns a log writing through w.
func NewPublicationLog(w LogWriter) *PublicationLog {
	return &PublicationLog{w: w}
}

// Add unions snapshotIDs into the publication's membership. Repeated ids,
// within the call or already stored, are no-ops.
func (l *PublicationLog) Add(ctx context.Context, publicationID uuid.UUID, snapshotIDs ...uuid.UUID) error {
	ids := uniqueIDs(snapshotIDs)
	if len(ids) == 0 {
		return nil
	}
	return l.w.AddToPublicationLog(ctx, publicationID, ids)
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

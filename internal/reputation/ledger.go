package reputation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrUserNotFound is returned by a Store when the user does not exist
var ErrUserNotFound = errors.New("user not found")

// Store persists reputation. AddReputation must apply the delta and the
// derived level atomically with respect to other updates of the same user.
type Store interface {
	AddReputation(ctx context.Context, userID uuid.UUID, delta int, levelFor func(int) int) (score int, level int, err error)
}

// Ledger applies reputation deltas. Failures never reach the caller:
// reputation is a side effect of the action that earned it.
type Ledger struct {
	store  Store
	logger logrus.FieldLogger
}

// NewLedger creates a new ledger
func NewLedger(store Store, logger logrus.FieldLogger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// ApplyDelta adds amount to the user's score and recomputes the level
func (l *Ledger) ApplyDelta(ctx context.Context, userID uuid.UUID, amount int) {
	if amount == 0 {
		return
	}

	log := l.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"delta":   amount,
	})

	score, level, err := l.store.AddReputation(ctx, userID, amount, LevelFor)
	if err != nil {
		deltas.WithLabelValues("error").Inc()
		if errors.Is(err, ErrUserNotFound) {
			log.Warn("reputation update skipped, user not found")
			return
		}
		log.WithError(err).Error("failed to update reputation")
		return
	}

	deltas.WithLabelValues("ok").Inc()
	log.WithFields(logrus.Fields{
		"score": score,
		"level": level,
	}).Debug("reputation updated")
}

// Apply awards the points for action to the user
func (l *Ledger) Apply(ctx context.Context, userID uuid.UUID, action ActionName) {
	amount, ok := Points(action)
	if !ok {
		l.logger.WithField("action", action).Error("unknown reputation action")
		return
	}
	l.ApplyDelta(ctx, userID, amount)
}

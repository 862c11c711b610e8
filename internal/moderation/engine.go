package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/theorogram/server/internal/reputation"
)

const (
	MinTitleLength = 10
	MaxTitleLength = 200
	MinBodyLength  = 50
)

// ResultClassifier is the classification surface the engine needs
type ResultClassifier interface {
	Classify(ctx context.Context, title, body string) Result
	ClassifyStrict(ctx context.Context, title, body string) (Result, error)
}

// TheoryStore persists theories. GetTheory returns nil, nil when the
// theory does not exist. UpdateModerationStatus only applies when the
// current status equals from, and reports whether it did.
type TheoryStore interface {
	CreateTheory(ctx context.Context, t *Theory) error
	GetTheory(ctx context.Context, id uuid.UUID) (*Theory, error)
	UpdateModerationStatus(ctx context.Context, id uuid.UUID, from, to PublicationState) (bool, error)
}

// LogStore is the append-only system moderation trail
type LogStore interface {
	AppendLog(ctx context.Context, e *LogEntry) error
}

// ReputationAwarder credits users for actions
type ReputationAwarder interface {
	Apply(ctx context.Context, userID uuid.UUID, action reputation.ActionName)
}

// EngineConfig holds decision policy toggles
type EngineConfig struct {
	// FailClosed refuses submissions while the classifier is unavailable
	FailClosed bool
	// RewardShadowbanned awards creation points for shadowbanned theories too
	RewardShadowbanned bool
}

// DefaultEngineConfig returns default configuration
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		FailClosed:         false,
		RewardShadowbanned: true,
	}
}

// Engine decides the publication state of submitted theories and
// records every decision in the moderation log.
type Engine struct {
	classifier ResultClassifier
	theories   TheoryStore
	logs       LogStore
	rep        ReputationAwarder
	cfg        EngineConfig
	logger     logrus.FieldLogger
	now        func() time.Time
}

// NewEngine creates a new decision engine
func NewEngine(classifier ResultClassifier, theories TheoryStore, logs LogStore, rep ReputationAwarder, cfg EngineConfig, logger logrus.FieldLogger) *Engine {
	return &Engine{
		classifier: classifier,
		theories:   theories,
		logs:       logs,
		rep:        rep,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Decide maps a classification to the state and action for a new submission
func Decide(c Classification) (PublicationState, Action) {
	switch c {
	case ClassUnsafe:
		return StatusUnsafe, ActionBlocked
	case ClassNSFW:
		return StatusShadowbanned, ActionShadowbanned
	default:
		return StatusSafe, ActionPublished
	}
}

// RescanDecide maps a rescan classification to a state change. A safe
// verdict means no change.
func RescanDecide(c Classification) (PublicationState, Action, bool) {
	switch c {
	case ClassNSFW, ClassUnsafe:
		return StatusShadowbanned, ActionShadowbannedRescan, true
	default:
		return StatusSafe, "", false
	}
}

// ValidateSubmission checks lengths in characters, not bytes
func ValidateSubmission(title, body string) error {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(body) == "" {
		return &ValidationError{Field: "title", Message: "Title and body are required"}
	}
	if n := utf8.RuneCountInString(title); n < MinTitleLength || n > MaxTitleLength {
		return &ValidationError{
			Field:   "title",
			Message: fmt.Sprintf("Title must be between %d and %d characters", MinTitleLength, MaxTitleLength),
		}
	}
	if utf8.RuneCountInString(body) < MinBodyLength {
		return &ValidationError{
			Field:   "body",
			Message: fmt.Sprintf("Body must be at least %d characters", MinBodyLength),
		}
	}
	return nil
}

// Submit classifies and stores a new theory. Unsafe content is never
// stored and yields a *RejectedError.
func (e *Engine) Submit(ctx context.Context, sub Submission) (*Decision, error) {
	if err := ValidateSubmission(sub.Title, sub.Body); err != nil {
		return nil, err
	}

	var res Result
	if e.cfg.FailClosed {
		var err error
		res, err = e.classifier.ClassifyStrict(ctx, sub.Title, sub.Body)
		if err != nil {
			e.logger.WithError(err).Warn("refusing submission, classifier unavailable")
			return nil, err
		}
	} else {
		res = e.classifier.Classify(ctx, sub.Title, sub.Body)
	}

	state, action := Decide(res.Classification)
	log := e.logger.WithFields(logrus.Fields{
		"author_id":      sub.AuthorID,
		"classification": res.Classification,
		"confidence":     res.Confidence,
		"action":         action,
	})

	if action == ActionBlocked {
		entry := e.newEntry(nil, res, action)
		if err := e.logs.AppendLog(ctx, entry); err != nil {
			log.WithError(err).Error("failed to record blocked submission")
		}
		decisions.WithLabelValues(string(action)).Inc()
		log.Info("theory submission blocked")
		return nil, &RejectedError{Reasoning: res.Reasoning, Entry: entry}
	}

	now := e.now()
	theory := &Theory{
		ID:               uuid.New(),
		UserID:           sub.AuthorID,
		Title:            sub.Title,
		Body:             sub.Body,
		Refs:             sub.Refs,
		ModerationStatus: state,
		ComplexityScore:  ComplexityScore(sub.Body),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.theories.CreateTheory(ctx, theory); err != nil {
		log.WithError(err).Error("failed to store theory")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	entry := e.newEntry(&theory.ID, res, action)

	// the theory is stored; its log entry and award must not depend on the caller staying connected
	sideCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := e.logs.AppendLog(sideCtx, entry); err != nil {
			log.WithError(err).WithField("theory_id", theory.ID).Error("failed to append moderation log")
		}
	}()
	if state == StatusSafe || e.cfg.RewardShadowbanned {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.rep.Apply(sideCtx, sub.AuthorID, reputation.CreateTheory)
		}()
	}
	wg.Wait()

	decisions.WithLabelValues(string(action)).Inc()
	log.WithField("theory_id", theory.ID).Info("theory submission accepted")

	msg := MessagePublished
	if state == StatusShadowbanned {
		msg = MessageFlagged
	}
	return &Decision{
		Theory:  theory,
		State:   state,
		Action:  action,
		Result:  res,
		Entry:   entry,
		Message: msg,
	}, nil
}

// Rescan re-evaluates a published theory. Only theories currently in the
// safe state are considered; anything else is skipped. A classifier
// failure is returned as an error and leaves the theory untouched.
func (e *Engine) Rescan(ctx context.Context, id uuid.UUID) (RescanOutcome, error) {
	theory, err := e.theories.GetTheory(ctx, id)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("load theory %s: %w", id, err)
	}
	if theory == nil || theory.ModerationStatus != StatusSafe {
		return OutcomeSkipped, nil
	}

	res, err := e.classifier.ClassifyStrict(ctx, theory.Title, theory.Body)
	if err != nil {
		return OutcomeFailed, err
	}

	to, action, changed := RescanDecide(res.Classification)
	if !changed {
		return OutcomeUnchanged, nil
	}

	updated, err := e.theories.UpdateModerationStatus(ctx, id, StatusSafe, to)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("demote theory %s: %w", id, err)
	}
	if !updated {
		// status changed underneath us
		return OutcomeSkipped, nil
	}

	entry := e.newEntry(&theory.ID, res, action)
	if err := e.logs.AppendLog(context.WithoutCancel(ctx), entry); err != nil {
		e.logger.WithError(err).WithField("theory_id", id).Error("failed to append rescan log entry")
	}
	decisions.WithLabelValues(string(action)).Inc()
	e.logger.WithFields(logrus.Fields{
		"theory_id":      id,
		"classification": res.Classification,
	}).Info("theory shadowbanned by rescan")

	return OutcomeDemoted, nil
}

func (e *Engine) newEntry(theoryID *uuid.UUID, res Result, action Action) *LogEntry {
	return &LogEntry{
		ID:             uuid.New(),
		TheoryID:       theoryID,
		Classification: res.Classification,
		Confidence:     res.Confidence,
		Action:         action,
		Reasoning:      res.Reasoning,
		Actor:          ActorClassifier,
		CreatedAt:      e.now(),
	}
}

// IsRejected reports whether err is a content-policy rejection
func IsRejected(err error) bool {
	var rej *RejectedError
	return errors.As(err, &rej)
}

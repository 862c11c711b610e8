package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/sirupsen/logrus"
)

// FallbackReasoning is attached to results produced without a classifier verdict
const FallbackReasoning = "AI moderation unavailable - flagged for potential manual review"

// FallbackConfidence marks fallback results as low confidence
const FallbackConfidence = 0.3

// Generator produces free text for a prompt. Satisfied by llm.Generator.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ClassifierConfig holds classifier configuration
type ClassifierConfig struct {
	Timeout time.Duration
	// Breaker opens after BreakerFailures failures within BreakerWindow calls
	BreakerFailures uint
	BreakerWindow   uint
	BreakerDelay    time.Duration
}

// DefaultClassifierConfig returns default configuration
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		Timeout:         20 * time.Second,
		BreakerFailures: 5,
		BreakerWindow:   10,
		BreakerDelay:    30 * time.Second,
	}
}

// Classifier labels theory content as safe, nsfw or unsafe
type Classifier struct {
	gen     Generator
	cfg     ClassifierConfig
	breaker circuitbreaker.CircuitBreaker[string]
	logger  logrus.FieldLogger
}

// NewClassifier creates a classifier backed by gen
func NewClassifier(gen Generator, cfg ClassifierConfig, logger logrus.FieldLogger) *Classifier {
	def := DefaultClassifierConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BreakerWindow == 0 {
		cfg.BreakerWindow = def.BreakerWindow
	}
	if cfg.BreakerFailures == 0 || cfg.BreakerFailures > cfg.BreakerWindow {
		cfg.BreakerFailures = cfg.BreakerWindow
	}
	if cfg.BreakerDelay <= 0 {
		cfg.BreakerDelay = def.BreakerDelay
	}

	breaker := circuitbreaker.NewBuilder[string]().
		WithFailureThresholdRatio(cfg.BreakerFailures, cfg.BreakerWindow).
		WithDelay(cfg.BreakerDelay).
		WithSuccessThreshold(1).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			breakerState.Set(stateValue(event.NewState))
			logger.WithFields(logrus.Fields{
				"from_state": stateName(event.OldState),
				"to_state":   stateName(event.NewState),
			}).Warn("classifier circuit breaker state change")
		}).
		Build()

	return &Classifier{
		gen:     gen,
		cfg:     cfg,
		breaker: breaker,
		logger:  logger,
	}
}

// FallbackResult is returned by Classify whenever no verdict could be obtained
func FallbackResult() Result {
	return Result{
		Classification: ClassSafe,
		Confidence:     FallbackConfidence,
		Reasoning:      FallbackReasoning,
	}
}

// Classify never fails: any error, timeout or malformed response
// degrades to FallbackResult.
func (c *Classifier) Classify(ctx context.Context, title, body string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithField("panic", r).Error("classifier panicked, using fallback result")
			classifierCalls.WithLabelValues("panic").Inc()
			res = FallbackResult()
		}
	}()

	res, err := c.ClassifyStrict(ctx, title, body)
	if err != nil {
		c.logger.WithError(err).Warn("content classification failed, using fallback result")
		return FallbackResult()
	}
	return res
}

// ClassifyStrict is like Classify but surfaces failures. Errors wrap
// ErrClassifierUnavailable.
func (c *Classifier) ClassifyStrict(ctx context.Context, title, body string) (Result, error) {
	start := time.Now()
	defer func() {
		classifierDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	prompt := BuildPrompt(title, body)
	raw, err := failsafe.With(c.breaker).Get(func() (string, error) {
		return c.generate(ctx, prompt)
	})
	if err != nil {
		outcome := "error"
		switch {
		case errors.Is(err, circuitbreaker.ErrOpen):
			outcome = "breaker_open"
		case errors.Is(err, context.DeadlineExceeded):
			outcome = "timeout"
		}
		classifierCalls.WithLabelValues(outcome).Inc()
		return Result{}, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}

	res, err := ParseResult(raw)
	if err != nil {
		classifierCalls.WithLabelValues("malformed").Inc()
		return Result{}, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}

	classifierCalls.WithLabelValues("ok").Inc()
	return res, nil
}

// generate runs the generator but stops waiting once ctx is done, so a
// generator that ignores its context still cannot stall the caller.
func (c *Classifier) generate(ctx context.Context, prompt string) (string, error) {
	type reply struct {
		text string
		err  error
	}
	ch := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- reply{err: fmt.Errorf("generator panic: %v", r)}
			}
		}()
		text, err := c.gen.Generate(ctx, prompt)
		ch <- reply{text: text, err: err}
	}()

	select {
	case r := <-ch:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// BuildPrompt renders the classification instructions for one theory
func BuildPrompt(title, body string) string {
	return fmt.Sprintf(`You are a content moderator for a platform where users share theories and speculative ideas.
Analyze the following theory and classify it into exactly one category:

- "safe": acceptable discussion, including controversial or unconventional ideas
- "nsfw": sexual content, graphic violence or disturbing material that should not be shown publicly
- "unsafe": illegal content, incitement to violence, harassment, hate speech or threats

Title: %s

Content: %s

Respond with only a JSON object in this exact format:
{"classification": "safe" | "nsfw" | "unsafe", "confidence": <number between 0 and 1>, "reasoning": "<brief explanation>"}`, title, body)
}

func stateValue(s circuitbreaker.State) float64 {
	switch s {
	case circuitbreaker.OpenState:
		return 2
	case circuitbreaker.HalfOpenState:
		return 1
	default:
		return 0
	}
}

func stateName(s circuitbreaker.State) string {
	switch s {
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	default:
		return "closed"
	}
}

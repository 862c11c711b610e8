package admin

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/theorogram/server/pkg/models"
)

// ComplexitySummary describes the distribution of theory complexity scores
type ComplexitySummary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Stats feeds the admin dashboard
type Stats struct {
	Users      *models.UserCounts   `json:"users"`
	Theories   *models.TheoryCounts `json:"theories"`
	Comments   int                  `json:"comments"`
	Votes      int                  `json:"votes"`
	Complexity ComplexitySummary    `json:"complexity"`
}

// Summarize computes the distribution summary of scores. An empty input
// yields a zero summary.
func Summarize(scores []float64) ComplexitySummary {
	if len(scores) == 0 {
		return ComplexitySummary{}
	}
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)

	mean, std := stat.MeanStdDev(sorted, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return ComplexitySummary{
		Count:  len(sorted),
		Mean:   mean,
		StdDev: std,
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P90:    stat.Quantile(0.9, stat.Empirical, sorted, nil),
		Min:    floats.Min(sorted),
		Max:    floats.Max(sorted),
	}
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	now := s.now()
	users, err := s.stores.Users.CountUsers(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	theories, err := s.stores.Theories.CountTheories(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("count theories: %w", err)
	}
	comments, votes, err := s.stores.Comments.CountInteractions(ctx)
	if err != nil {
		return nil, fmt.Errorf("count interactions: %w", err)
	}
	scores, err := s.stores.Theories.ComplexityScores(ctx)
	if err != nil {
		return nil, fmt.Errorf("complexity scores: %w", err)
	}
	return &Stats{
		Users:      users,
		Theories:   theories,
		Comments:   comments,
		Votes:      votes,
		Complexity: Summarize(scores),
	}, nil
}

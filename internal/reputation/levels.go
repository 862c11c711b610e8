package reputation

import (
	"fmt"
	"math"
	"strconv"
)

// Threshold is the minimum reputation for a level title
type Threshold struct {
	MinRep int
	Title  string
}

// Levels is ordered by MinRep; level N is Levels[N-1].
var Levels = []Threshold{
	{MinRep: 0, Title: "INITIATE"},
	{MinRep: 100, Title: "THEORIST"},
	{MinRep: 400, Title: "SCHOLAR"},
	{MinRep: 900, Title: "ORACLE"},
	{MinRep: 1600, Title: "SAGE"},
	{MinRep: 2500, Title: "ARCHITECT"},
	{MinRep: 4000, Title: "LUMINARY"},
	{MinRep: 6000, Title: "SOVEREIGN"},
}

// topTierSpan is the synthetic width of the last level
const topTierSpan = 1000

// LevelInfo describes where a score sits on the level ladder
type LevelInfo struct {
	Level           int    `json:"level"`
	Title           string `json:"title"`
	CurrentRep      int    `json:"currentRep"`
	RepForNextLevel int    `json:"repForNextLevel"`
	Progress        int    `json:"progress"`
}

// GetLevelInfo computes level, title and progress for a score.
// Scores below zero stay at level 1 with zero progress.
func GetLevelInfo(score int) LevelInfo {
	idx := 0
	for i, t := range Levels {
		if score >= t.MinRep {
			idx = i
		}
	}

	current := Levels[idx].MinRep
	next := current + topTierSpan
	if idx+1 < len(Levels) {
		next = Levels[idx+1].MinRep
	}

	progress := int(math.Floor(float64(score-current) / float64(next-current) * 100))
	if progress > 100 {
		progress = 100
	}
	if progress < 0 {
		progress = 0
	}

	return LevelInfo{
		Level:           idx + 1,
		Title:           Levels[idx].Title,
		CurrentRep:      score,
		RepForNextLevel: next,
		Progress:        progress,
	}
}

// LevelFor returns just the level number for a score
func LevelFor(score int) int {
	return GetLevelInfo(score).Level
}

// FormatReputation renders scores of 1000 and above as e.g. "12.4k"
func FormatReputation(score int) string {
	if score >= 1000 {
		return fmt.Sprintf("%.1fk", float64(score)/1000)
	}
	return strconv.Itoa(score)
}

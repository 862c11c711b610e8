package api

import (
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/theorogram/server/internal/reputation"
	"github.com/theorogram/server/pkg/models"
)

const minCommentLength = 10

var voteActions = map[models.VoteType]reputation.ActionName{
	models.Upvote:   reputation.ReceiveUpvote,
	models.Downvote: reputation.ReceiveDownvote,
}

var stanceActions = map[models.StanceType]reputation.ActionName{
	models.StanceFor:     reputation.ReceiveForStance,
	models.StanceAgainst: reputation.ReceiveAgainstStance,
}

// handleVote records or changes the caller's vote on a theory. The author
// is credited for new votes; a changed vote first reverses the credit of
// the old one. Self-votes earn nothing.
func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req struct {
		TheoryID string          `json:"theory_id"`
		VoteType models.VoteType `json:"vote_type"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TheoryID == "" || req.VoteType == "" {
		respondError(w, http.StatusBadRequest, "theory_id and vote_type are required")
		return
	}
	award, valid := voteActions[req.VoteType]
	if !valid {
		respondError(w, http.StatusBadRequest, `vote_type must be "upvote" or "downvote"`)
		return
	}
	theoryID, err := uuid.Parse(req.TheoryID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid theory ID format")
		return
	}

	theory, ok := s.publishedTheory(w, r, theoryID)
	if !ok {
		return
	}

	prev, err := s.deps.Repos.Interactions.UpsertVote(r.Context(), &models.Vote{
		UserID:   user.ID,
		TheoryID: theoryID,
		VoteType: req.VoteType,
	})
	if err != nil {
		s.logger.WithError(err).WithField("theory_id", theoryID).Error("record vote failed")
		respondError(w, http.StatusInternalServerError, "Failed to record vote")
		return
	}

	if prev != req.VoteType && theory.UserID != user.ID {
		if prevAward, had := voteActions[prev]; had {
			points, _ := reputation.Points(prevAward)
			s.deps.Awarder.ApplyDelta(r.Context(), theory.UserID, -points)
		}
		s.deps.Awarder.Apply(r.Context(), theory.UserID, award)
	}
	s.theoryChanged(r.Context(), theoryID)

	respondJSON(w, http.StatusOK, map[string]string{"message": "Vote recorded successfully"})
}

func (s *Server) handleGetVote(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	theoryID, ok := uuidParam(w, r, "theoryID", "theory")
	if !ok {
		return
	}

	vote, err := s.deps.Repos.Interactions.GetVote(r.Context(), user.ID, theoryID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	var voteType *models.VoteType
	if vote != nil {
		voteType = &vote.VoteType
	}
	respondJSON(w, http.StatusOK, map[string]any{"vote_type": voteType})
}

func (s *Server) handleGetStance(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	theoryID, ok := uuidParam(w, r, "theoryID", "theory")
	if !ok {
		return
	}

	stance, err := s.deps.Repos.Interactions.GetStance(r.Context(), user.ID, theoryID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	var stanceType *models.StanceType
	if stance != nil {
		stanceType = &stance.StanceType
	}
	respondJSON(w, http.StatusOK, map[string]any{"stance_type": stanceType})
}

// handleStance records the caller's stance. Only the first stance on a
// theory earns reputation; changing sides later earns nothing.
func (s *Server) handleStance(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req struct {
		TheoryID   string            `json:"theory_id"`
		StanceType models.StanceType `json:"stance_type"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TheoryID == "" || req.StanceType == "" {
		respondError(w, http.StatusBadRequest, "theory_id and stance_type are required")
		return
	}
	theoryID, err := uuid.Parse(req.TheoryID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid theory ID format")
		return
	}
	received, valid := stanceActions[req.StanceType]
	if !valid {
		respondError(w, http.StatusBadRequest, `stance_type must be "for" or "against"`)
		return
	}

	theory, ok := s.publishedTheory(w, r, theoryID)
	if !ok {
		return
	}

	prev, err := s.deps.Repos.Interactions.UpsertStance(r.Context(), &models.Stance{
		UserID:     user.ID,
		TheoryID:   theoryID,
		StanceType: req.StanceType,
	})
	if err != nil {
		s.logger.WithError(err).WithField("theory_id", theoryID).Error("record stance failed")
		respondError(w, http.StatusInternalServerError, "Failed to record stance")
		return
	}

	if prev == "" {
		s.deps.Awarder.Apply(r.Context(), user.ID, reputation.TakeStance)
		if theory.UserID != user.ID {
			s.deps.Awarder.Apply(r.Context(), theory.UserID, received)
		}
	}
	s.theoryChanged(r.Context(), theoryID)

	respondJSON(w, http.StatusOK, map[string]string{"message": "Stance recorded successfully"})
}

func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	if reason := user.PostingBlockReason(time.Now()); reason != "" {
		respondJSON(w, http.StatusForbidden, map[string]string{
			"error":  "Posting is not allowed",
			"reason": reason,
		})
		return
	}

	var req struct {
		TheoryID string `json:"theory_id"`
		Body     string `json:"body"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	body := strings.TrimSpace(req.Body)
	if req.TheoryID == "" || body == "" {
		respondError(w, http.StatusBadRequest, "theory_id and body are required")
		return
	}
	theoryID, err := uuid.Parse(req.TheoryID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid theory ID format")
		return
	}
	if utf8.RuneCountInString(body) < minCommentLength {
		respondError(w, http.StatusBadRequest, "Comment must be at least 10 characters")
		return
	}

	if _, ok := s.publishedTheory(w, r, theoryID); !ok {
		return
	}

	comment := &models.Comment{TheoryID: theoryID, UserID: user.ID, Body: body}
	if err := s.deps.Repos.Interactions.CreateComment(r.Context(), comment); err != nil {
		s.logger.WithError(err).WithField("theory_id", theoryID).Error("create comment failed")
		respondError(w, http.StatusInternalServerError, "Failed to create comment")
		return
	}
	comment.Author = &models.Author{ID: user.ID, Username: user.Username, Level: user.Level}

	s.deps.Awarder.Apply(r.Context(), user.ID, reputation.PostComment)
	s.theoryChanged(r.Context(), theoryID)

	respondJSON(w, http.StatusCreated, map[string]any{"comment": comment})
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	theoryID, ok := uuidParam(w, r, "theoryID", "theory")
	if !ok {
		return
	}
	limit, offset := pagination(r)

	comments, err := s.deps.Repos.Interactions.ListComments(r.Context(), theoryID, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch comments")
		return
	}
	if comments == nil {
		comments = []*models.Comment{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"comments": comments})
}

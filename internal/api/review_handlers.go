package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/chorusfm/moderation-server/internal/domain"
	"github.com/chorusfm/moderation-server/internal/service"
)

func (s *Server) registerReviewRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listReviewQueue",
		Method:      http.MethodGet,
		Path:        "/api/v1/review/queue",
		Summary:     "List review queue",
		Description: "Returns review cases, pending first, with scan context",
		Tags:        []string{"Review"},
		Security:    []map[string][]string{{"moderationKey": {}}},
	}, s.handleListReviewQueue)

	huma.Register(s.api, huma.Operation{
		OperationID: "resolveReviewCase",
		Method:      http.MethodPost,
		Path:        "/api/v1/review/cases/{id}/resolve",
		Summary:     "Resolve review case",
		Description: "Applies a human verdict; clearing verdicts negate the label",
		Tags:        []string{"Review"},
		Security:    []map[string][]string{{"moderationKey": {}}},
	}, s.handleResolveReviewCase)
}

// === DTOs ===

type ListReviewQueueInput struct {
	XModerationKey string `header:"X-Moderation-Key"`
	Limit          int    `query:"limit" doc:"Maximum cases to return, default 50"`
}

type ReviewQueueResponse struct {
	Entries []service.QueueEntry `json:"entries" doc:"Cases with scan context, pending first"`
}

type ReviewQueueOutput struct {
	Body ReviewQueueResponse
}

type ResolveCaseRequest struct {
	Resolution string `json:"resolution" validate:"required" doc:"Verdict: violation, false_positive, or original_artist"`
	ResolvedBy string `json:"resolvedBy" validate:"required" doc:"Reviewer identity"`
	Notes      string `json:"notes,omitempty" doc:"Free-form reviewer rationale"`
}

type ResolveCaseInput struct {
	XModerationKey string `header:"X-Moderation-Key"`
	ID             string `path:"id" doc:"Case ID"`
	Body           ResolveCaseRequest
}

type ResolveCaseOutput struct {
	Body domain.ReviewCase
}

// === Handlers ===

func (s *Server) handleListReviewQueue(ctx context.Context, input *ListReviewQueueInput) (*ReviewQueueOutput, error) {
	if err := s.authenticate(input.XModerationKey); err != nil {
		return nil, err
	}

	limit := input.Limit
	if limit <= 0 {
		limit = 50
	}

	entries, err := s.reviewService.Queue(ctx, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []service.QueueEntry{}
	}

	return &ReviewQueueOutput{Body: ReviewQueueResponse{Entries: entries}}, nil
}

func (s *Server) handleResolveReviewCase(ctx context.Context, input *ResolveCaseInput) (*ResolveCaseOutput, error) {
	if err := s.authenticate(input.XModerationKey); err != nil {
		return nil, err
	}
	if err := s.validator.Validate(input.Body); err != nil {
		return nil, err
	}

	reviewCase, err := s.reviewService.Resolve(ctx, input.ID, domain.Resolution(input.Body.Resolution), input.Body.ResolvedBy, input.Body.Notes)
	if err != nil {
		return nil, err
	}

	return &ResolveCaseOutput{Body: *reviewCase}, nil
}

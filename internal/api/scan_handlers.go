package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/chorusfm/moderation-server/internal/domain"
	"github.com/chorusfm/moderation-server/internal/scan"
)

func (s *Server) registerScanRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "submitScan",
		Method:        http.MethodPost,
		Path:          "/api/v1/scans",
		Summary:       "Submit content for scanning",
		Description:   "Queues an asynchronous recognition scan for uploaded content",
		Tags:          []string{"Scans"},
		Security:      []map[string][]string{{"moderationKey": {}}},
		DefaultStatus: http.StatusAccepted,
	}, s.handleSubmitScan)

	huma.Register(s.api, huma.Operation{
		OperationID: "getScanResult",
		Method:      http.MethodGet,
		Path:        "/api/v1/scans/{subjectId}",
		Summary:     "Get scan result",
		Description: "Returns the latest scan verdict for a subject",
		Tags:        []string{"Scans"},
		Security:    []map[string][]string{{"moderationKey": {}}},
	}, s.handleGetScanResult)
}

// === DTOs ===

type SubmitScanRequest struct {
	SubjectID   string `json:"subjectId" validate:"required" doc:"Content identifier"`
	SubjectURI  string `json:"subjectUri" validate:"required" doc:"Content URI, e.g. chorus://track/abc"`
	AudioURL    string `json:"audioUrl" validate:"required,url" doc:"Fetchable audio URL for recognition"`
	Fingerprint string `json:"fingerprint,omitempty" doc:"Content hash to pin labels to"`
	DurationMS  int64  `json:"durationMs,omitempty" validate:"omitempty,min=0" doc:"Content duration in milliseconds"`
}

type SubmitScanInput struct {
	XModerationKey string `header:"X-Moderation-Key"`
	Body           SubmitScanRequest
}

type SubmitScanResponse struct {
	SubjectID string `json:"subjectId" doc:"Content identifier"`
	Status    string `json:"status" doc:"Queue status"`
}

type SubmitScanOutput struct {
	Body SubmitScanResponse
}

type GetScanResultInput struct {
	XModerationKey string `header:"X-Moderation-Key"`
	SubjectID      string `path:"subjectId" doc:"Content identifier"`
}

type ScanResultOutput struct {
	Body domain.ScanResult
}

// === Handlers ===

func (s *Server) handleSubmitScan(ctx context.Context, input *SubmitScanInput) (*SubmitScanOutput, error) {
	if err := s.authenticate(input.XModerationKey); err != nil {
		return nil, err
	}
	if err := s.validator.Validate(input.Body); err != nil {
		return nil, err
	}

	err := s.orchestrator.Submit(ctx, scan.SubmitRequest{
		SubjectID:   input.Body.SubjectID,
		SubjectURI:  input.Body.SubjectURI,
		AudioURL:    input.Body.AudioURL,
		Fingerprint: input.Body.Fingerprint,
		Duration:    time.Duration(input.Body.DurationMS) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}

	return &SubmitScanOutput{Body: SubmitScanResponse{
		SubjectID: input.Body.SubjectID,
		Status:    "queued",
	}}, nil
}

func (s *Server) handleGetScanResult(ctx context.Context, input *GetScanResultInput) (*ScanResultOutput, error) {
	if err := s.authenticate(input.XModerationKey); err != nil {
		return nil, err
	}

	result, err := s.store.GetScanResult(ctx, input.SubjectID)
	if err != nil {
		return nil, err
	}

	return &ScanResultOutput{Body: *result}, nil
}

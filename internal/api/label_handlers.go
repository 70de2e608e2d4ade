package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/chorusfm/moderation-server/internal/domain"
	"github.com/chorusfm/moderation-server/internal/errors"
	"github.com/chorusfm/moderation-server/internal/store"
)

func (s *Server) registerLabelRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "queryLabels",
		Method:      http.MethodGet,
		Path:        "/xrpc/com.atproto.label.queryLabels",
		Summary:     "Query labels",
		Description: "Returns labels matching URI patterns, in ascending seq order",
		Tags:        []string{"Labels"},
	}, s.handleQueryLabels)

	huma.Register(s.api, huma.Operation{
		OperationID: "ackLabels",
		Method:      http.MethodPost,
		Path:        "/xrpc/com.atproto.label.ackLabels",
		Summary:     "Acknowledge labels",
		Description: "Records the highest seq a subscriber has durably processed",
		Tags:        []string{"Labels"},
	}, s.handleAckLabels)

	huma.Register(s.api, huma.Operation{
		OperationID: "getSigningKey",
		Method:      http.MethodGet,
		Path:        "/api/v1/labeler/keys/{version}",
		Summary:     "Get verification key",
		Description: "Returns the public key for a signing key version",
		Tags:        []string{"Labels"},
	}, s.handleGetSigningKey)
}

// === DTOs ===

type QueryLabelsInput struct {
	URIPatterns string `query:"uriPatterns" doc:"Comma-separated URI patterns, exact or prefix ending in *"`
	Sources     string `query:"sources" doc:"Comma-separated issuer DIDs to filter by"`
	Cursor      string `query:"cursor" doc:"Seq cursor from a previous page"`
	Limit       int    `query:"limit" doc:"Page size, 1-250, default 50"`
}

type QueryLabelsResponse struct {
	Cursor string         `json:"cursor,omitempty" doc:"Cursor for the next page, empty when exhausted"`
	Labels []domain.Label `json:"labels" doc:"Labels in ascending seq order"`
}

type QueryLabelsOutput struct {
	Body QueryLabelsResponse
}

type AckLabelsRequest struct {
	SubscriberID string `json:"subscriberId" validate:"required" doc:"Stable subscriber identity"`
	Seq          int64  `json:"seq" validate:"required,min=1" doc:"Highest seq durably processed"`
}

type AckLabelsInput struct {
	Body AckLabelsRequest
}

type AckLabelsResponse struct {
	SubscriberID string `json:"subscriberId" doc:"Subscriber identity"`
	Seq          int64  `json:"seq" doc:"Recorded cursor after the ack"`
}

type AckLabelsOutput struct {
	Body AckLabelsResponse
}

type GetSigningKeyInput struct {
	Version string `path:"version" doc:"Signing key version"`
}

type SigningKeyResponse struct {
	Version   string `json:"version" doc:"Signing key version"`
	Algorithm string `json:"algorithm" doc:"Signature algorithm"`
	PublicKey string `json:"publicKey" doc:"PEM-encoded public key"`
	Issuer    string `json:"issuer" doc:"Issuer DID"`
}

type SigningKeyOutput struct {
	Body SigningKeyResponse
}

// === Handlers ===

func (s *Server) handleQueryLabels(ctx context.Context, input *QueryLabelsInput) (*QueryLabelsOutput, error) {
	cursor, err := parseCursor(input.Cursor)
	if err != nil {
		return nil, err
	}

	labels, nextCursor, err := s.store.QueryLabels(ctx, store.LabelQuery{
		URIPatterns: splitCSV(input.URIPatterns),
		Sources:     splitCSV(input.Sources),
		Cursor:      cursor,
		Limit:       input.Limit,
	})
	if err != nil {
		return nil, err
	}

	resp := QueryLabelsResponse{Labels: labels}
	if resp.Labels == nil {
		resp.Labels = []domain.Label{}
	}
	if nextCursor > 0 {
		resp.Cursor = strconv.FormatInt(nextCursor, 10)
	}

	return &QueryLabelsOutput{Body: resp}, nil
}

func (s *Server) handleAckLabels(ctx context.Context, input *AckLabelsInput) (*AckLabelsOutput, error) {
	if err := s.validator.Validate(input.Body); err != nil {
		return nil, err
	}

	if err := s.store.UpsertSubscriberCursor(ctx, input.Body.SubscriberID, input.Body.Seq); err != nil {
		return nil, err
	}

	// Cursors are forward-only, so the recorded seq can exceed a stale ack.
	seq, err := s.store.GetSubscriberCursor(ctx, input.Body.SubscriberID)
	if err != nil {
		return nil, err
	}

	return &AckLabelsOutput{Body: AckLabelsResponse{
		SubscriberID: input.Body.SubscriberID,
		Seq:          seq,
	}}, nil
}

func (s *Server) handleGetSigningKey(_ context.Context, input *GetSigningKeyInput) (*SigningKeyOutput, error) {
	pem, err := s.authority.PublicKeyPEM(input.Version)
	if err != nil {
		return nil, err
	}

	return &SigningKeyOutput{Body: SigningKeyResponse{
		Version:   input.Version,
		Algorithm: "ES256",
		PublicKey: pem,
		Issuer:    s.authority.Issuer(),
	}}, nil
}

// parseCursor parses a seq cursor query value; empty means start at the head.
func parseCursor(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || cursor < 0 {
		return 0, errors.Validation("cursor must be a non-negative integer")
	}
	return cursor, nil
}

// splitCSV splits a comma-separated query value, dropping empty entries.
func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

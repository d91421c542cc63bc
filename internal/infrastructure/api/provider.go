package api

import (
	"context"
	"net/http"

	"github.com/clinicroom/waiting-room/internal/core/domain"
)

type providerClient struct {
	c *Client
}

type queueListResponse struct {
	Success bool                 `json:"success"`
	Data    domain.QueueSnapshot `json:"data"`
}

type pickupRequest struct {
	VisitorID int `json:"visitor_id"`
}

func (p *providerClient) QueueList(ctx context.Context) (*domain.QueueSnapshot, error) {
	var out queueListResponse
	if err := p.c.do(ctx, http.MethodGet, "/api/provider/queue/list", nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (p *providerClient) PickupVisitor(ctx context.Context, visitorID int) error {
	return p.c.do(ctx, http.MethodPost, "/api/provider/queue/pickup", pickupRequest{VisitorID: visitorID}, nil)
}

func (p *providerClient) CompleteExamination(ctx context.Context, visitorID int) error {
	return p.c.do(ctx, http.MethodPost, "/api/provider/examination/complete", pickupRequest{VisitorID: visitorID}, nil)
}

func (p *providerClient) Examination(ctx context.Context) (*domain.ExaminationDetail, error) {
	var out examinationResponse
	if err := p.c.do(ctx, http.MethodGet, "/api/provider/examination", nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

package api

import (
	"context"
	"net/http"

	"github.com/clinicroom/waiting-room/internal/core/domain"
	"github.com/clinicroom/waiting-room/internal/core/ports"
)

type visitorClient struct {
	c *Client
}

type queueItemResponse struct {
	Success bool             `json:"success"`
	Data    domain.QueueItem `json:"data"`
}

type examinationResponse struct {
	Success bool                     `json:"success"`
	Data    domain.ExaminationDetail `json:"data"`
}

func (v *visitorClient) JoinQueue(ctx context.Context, input ports.JoinQueueInput) (*domain.QueueItem, error) {
	var out queueItemResponse
	if err := v.c.do(ctx, http.MethodPost, "/api/visitor/queue", input, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (v *visitorClient) ExitQueue(ctx context.Context) error {
	return v.c.do(ctx, http.MethodDelete, "/api/visitor/queue", nil, nil)
}

func (v *visitorClient) QueueItem(ctx context.Context) (*domain.QueueItem, error) {
	var out queueItemResponse
	if err := v.c.do(ctx, http.MethodGet, "/api/visitor/queue/item", nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (v *visitorClient) Examination(ctx context.Context) (*domain.ExaminationDetail, error) {
	var out examinationResponse
	if err := v.c.do(ctx, http.MethodGet, "/api/visitor/examination", nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (v *visitorClient) CompleteExamination(ctx context.Context) error {
	return v.c.do(ctx, http.MethodPost, "/api/visitor/examination/complete", nil, nil)
}

package service

import (
	"errors"

	"github.com/clinicroom/waiting-room/internal/core/domain"
	"github.com/clinicroom/waiting-room/internal/metrics"
)

// classifyError converts a failed action into a dismissible Notice and records
// it. ErrUnauthorized gets no Notice: the REST adapter has already torn the
// session down and the guard will redirect to login.
func classifyError(err error) *domain.Notice {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrUnauthorized):
		metrics.APIErrorsTotal.WithLabelValues("auth").Inc()
		return nil
	case errors.Is(err, domain.ErrQueueRejected):
		metrics.APIErrorsTotal.WithLabelValues("queue_rejected").Inc()
		return domain.NewNotice(err.Error())
	case errors.Is(err, domain.ErrValidation):
		metrics.APIErrorsTotal.WithLabelValues("validation").Inc()
		return domain.NewNotice(err.Error())
	case errors.Is(err, domain.ErrUnavailable):
		metrics.APIErrorsTotal.WithLabelValues("unavailable").Inc()
		return domain.NewNotice("Network error, the action was not applied. Please try again.")
	default:
		metrics.APIErrorsTotal.WithLabelValues("other").Inc()
		return domain.NewNotice(err.Error())
	}
}

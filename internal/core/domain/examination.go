package domain

import "time"

// Examination lifecycle states reported by the server.
const (
	ExaminationInProgress = "in_progress"
	ExaminationCompleted  = "completed"
)

// ExaminationStatus is either side's view of its active examination. The zero
// value means "no active examination".
type ExaminationStatus struct {
	Active           bool      `json:"active"`
	ExaminationID    int       `json:"examination_id,omitempty"`
	CounterpartyID   int       `json:"counterparty_id,omitempty"`
	CounterpartyName string    `json:"counterparty_name,omitempty"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	Duration         string    `json:"duration,omitempty"`
	Reason           string    `json:"reason,omitempty"`
}

// ExaminationDetail is the wire shape of the examination endpoint, carrying
// both parties so the same payload serves visitors and providers.
type ExaminationDetail struct {
	ExaminationID int       `json:"examination_id"`
	ProviderID    int       `json:"provider_id"`
	ProviderName  string    `json:"provider_name"`
	VisitorID     int       `json:"visitor_id"`
	VisitorName   string    `json:"visitor_name"`
	Status        string    `json:"status"`
	StartedAt     time.Time `json:"started_at"`
	Duration      string    `json:"duration"`
	Reason        string    `json:"reason,omitempty"`
}

// InProgress reports whether the examination is still running.
func (d ExaminationDetail) InProgress() bool {
	return d.Status == ExaminationInProgress
}

// StatusFor projects the detail into the given role's ExaminationStatus,
// picking the opposite party as counterparty.
func (d ExaminationDetail) StatusFor(role Role) ExaminationStatus {
	st := ExaminationStatus{
		Active:        d.InProgress(),
		ExaminationID: d.ExaminationID,
		StartedAt:     d.StartedAt,
		Duration:      d.Duration,
		Reason:        d.Reason,
	}
	if role == RoleVisitor {
		st.CounterpartyID = d.ProviderID
		st.CounterpartyName = d.ProviderName
	} else {
		st.CounterpartyID = d.VisitorID
		st.CounterpartyName = d.VisitorName
	}
	return st
}

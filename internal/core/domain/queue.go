package domain

import "time"

// QueueStatus is the visitor's own view of queue membership. The zero value
// means "not in queue".
type QueueStatus struct {
	InQueue           bool      `json:"in_queue"`
	Position          int       `json:"position,omitempty"`
	JoinedAt          time.Time `json:"joined_at,omitempty"`
	WaitedTime        string    `json:"waited_time,omitempty"`
	EstimatedWaitTime string    `json:"estimated_wait_time,omitempty"`
	TotalVisitors     int       `json:"total_visitors,omitempty"`
}

// QueueItem is the snapshot returned by the visitor's queue-item endpoint.
type QueueItem struct {
	Position          int       `json:"position"`
	JoinedAt          time.Time `json:"joined_at"`
	WaitedTime        string    `json:"waited_time"`
	EstimatedWaitTime string    `json:"estimated_wait_time"`
	TotalVisitors     int       `json:"total_visitors"`
}

// Status converts the snapshot into an in-queue QueueStatus.
func (q QueueItem) Status() QueueStatus {
	return QueueStatus{
		InQueue:           true,
		Position:          q.Position,
		JoinedAt:          q.JoinedAt,
		WaitedTime:        q.WaitedTime,
		EstimatedWaitTime: q.EstimatedWaitTime,
		TotalVisitors:     q.TotalVisitors,
	}
}

// QueueVisitor is one waiting visitor as seen by a provider.
type QueueVisitor struct {
	Position    int    `json:"position"`
	VisitorID   int    `json:"visitor_id"`
	VisitorName string `json:"visitor_name"`
	Reason      string `json:"reason,omitempty"`
	Email       string `json:"email,omitempty"`
	WaitingTime string `json:"waiting_time"`
}

// QueueSnapshot is the provider's full waiting-list view. Snapshots replace
// local state wholesale; the client never merges deltas into them.
type QueueSnapshot struct {
	Total    int            `json:"total"`
	Visitors []QueueVisitor `json:"visitors"`
}

// Contains reports whether the snapshot includes the given visitor.
func (s QueueSnapshot) Contains(visitorID int) bool {
	for _, v := range s.Visitors {
		if v.VisitorID == visitorID {
			return true
		}
	}
	return false
}

package domain

import "time"

// ActivityRecord is the audit entry for one completed or aborted gateway
// request. Emitted once, best effort; owned by the external log sink.
type ActivityRecord struct {
	RequestID  string    `json:"request_id"`
	CallerID   *uint64   `json:"caller_id"`
	Endpoint   string    `json:"endpoint"`
	Method     string    `json:"method"`
	StatusCode int       `json:"status_code"`
	TargetURL  string    `json:"target_url"`
	ProxyID    *uint64   `json:"proxy_id"`
	Timestamp  time.Time `json:"timestamp"`
}

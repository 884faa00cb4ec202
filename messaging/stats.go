package messaging

import (
	"fmt"
	"strings"
	"time"
)

// HandlerStats is a snapshot of one handler's counters, or the sum of several
type HandlerStats struct {
	Name                          string     `json:"name"`
	TotalMessagesProcessed        int64      `json:"totalMessagesProcessed"`
	TotalMessagesFailed           int64      `json:"totalMessagesFailed"`
	TotalRetries                  int64      `json:"totalRetries"`
	TotalNormalMessagesReceived   int64      `json:"totalNormalMessagesReceived"`
	TotalPriorityMessagesReceived int64      `json:"totalPriorityMessagesReceived"`
	LastMessageProcessed          *time.Time `json:"lastMessageProcessed,omitempty"`
}

// Add accumulates other into s, keeping the most recent processing time
func (s *HandlerStats) Add(other HandlerStats) {
	s.TotalMessagesProcessed += other.TotalMessagesProcessed
	s.TotalMessagesFailed += other.TotalMessagesFailed
	s.TotalRetries += other.TotalRetries
	s.TotalNormalMessagesReceived += other.TotalNormalMessagesReceived
	s.TotalPriorityMessagesReceived += other.TotalPriorityMessagesReceived

	if other.LastMessageProcessed != nil &&
		(s.LastMessageProcessed == nil || other.LastMessageProcessed.After(*s.LastMessageProcessed)) {
		last := *other.LastMessageProcessed
		s.LastMessageProcessed = &last
	}
}

// TotalMessagesReceived is the number of envelopes taken off In and Priority queues
func (s HandlerStats) TotalMessagesReceived() int64 {
	return s.TotalNormalMessagesReceived + s.TotalPriorityMessagesReceived
}

func (s HandlerStats) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "STATS for %s:\n", s.Name)
	fmt.Fprintf(&sb, "  TotalNormalMessagesReceived:    %d\n", s.TotalNormalMessagesReceived)
	fmt.Fprintf(&sb, "  TotalPriorityMessagesReceived:  %d\n", s.TotalPriorityMessagesReceived)
	fmt.Fprintf(&sb, "  TotalProcessed:                 %d\n", s.TotalMessagesProcessed)
	fmt.Fprintf(&sb, "  TotalRetries:                   %d\n", s.TotalRetries)
	fmt.Fprintf(&sb, "  TotalFailed:                    %d\n", s.TotalMessagesFailed)
	if s.LastMessageProcessed != nil {
		fmt.Fprintf(&sb, "  LastMessageProcessed:           %s\n", s.LastMessageProcessed.Format(time.RFC3339))
	} else {
		sb.WriteString("  LastMessageProcessed:           never\n")
	}
	return sb.String()
}

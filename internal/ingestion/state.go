package ingestion

import "github.com/Skynetiks/skydesk/internal/domain"

// State is a step of the ingestion state machine.
type State string

const (
	StateStart     State = "START"
	StateExtracted State = "EXTRACTED"
	StateMatched   State = "MATCHED"
	StateUnmatched State = "UNMATCHED"

	// Terminal states.
	StateAppended  State = "APPENDED"
	StateDuplicate State = "DUPLICATE"
	StateRejected  State = "REJECTED"
	StateFailed    State = "FAILED"
	StateCreated   State = "CREATED"
)

// Terminal reports whether s ends an ingestion run.
func (s State) Terminal() bool {
	switch s {
	case StateAppended, StateDuplicate, StateRejected, StateFailed, StateCreated:
		return true
	}
	return false
}

// Outcome is the result of Pipeline.Ingest.
type Outcome struct {
	State    State
	Source   domain.Source
	Envelope domain.Envelope
	Ticket   *domain.Ticket
	Message  *domain.TicketMessage
	// Strategy names the correlation strategy that matched, if any.
	Strategy string
	IsReply  bool
}

// TicketID returns the affected ticket ID or "" when there is none.
func (o Outcome) TicketID() string {
	if o.Ticket == nil {
		return ""
	}
	return o.Ticket.ID
}

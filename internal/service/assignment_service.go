package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Skynetiks/skydesk/internal/config"
	"github.com/Skynetiks/skydesk/internal/domain"
	"github.com/Skynetiks/skydesk/internal/repository"
)

// ErrNoAssignee is returned when the policy cannot pick anyone.
var ErrNoAssignee = errors.New("no eligible assignee")

// AssignmentService picks an assignee for newly created tickets.
type AssignmentService struct {
	tickets repository.TicketRepository
	staff   repository.StaffRepository
	policy  string
	// defaultEmail is used by the "default" policy.
	defaultEmail string
	logger       *zap.Logger
}

// AssignmentDependencies bundles repositories.
type AssignmentDependencies struct {
	TicketRepo repository.TicketRepository
	StaffRepo  repository.StaffRepository
	Config     config.IngestionConfig
	Logger     *zap.Logger
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentService{
		tickets:      deps.TicketRepo,
		staff:        deps.StaffRepo,
		policy:       deps.Config.AssignmentPolicy,
		defaultEmail: deps.Config.DefaultAssigneeEmail,
		logger:       logger.Named("assignment"),
	}
}

// Policy returns the configured policy name.
func (s *AssignmentService) Policy() string {
	return s.policy
}

// AutoAssign assigns ticket according to the policy and returns the chosen
// staff member. It returns (nil, nil) under the "none" policy.
func (s *AssignmentService) AutoAssign(ctx context.Context, ticket *domain.Ticket) (*domain.StaffMember, error) {
	var (
		assignee *domain.StaffMember
		err      error
	)
	switch s.policy {
	case config.AssignmentNone, "":
		return nil, nil
	case config.AssignmentDefault:
		assignee, err = s.pickDefault(ctx)
	case config.AssignmentRoundRobin:
		assignee, err = s.pickLeastLoaded(ctx)
	default:
		return nil, fmt.Errorf("unknown assignment policy %q", s.policy)
	}
	if err != nil {
		return nil, err
	}
	if err := s.tickets.Assign(ctx, ticket.ID, assignee.ID); err != nil {
		return nil, fmt.Errorf("assign ticket %s: %w", ticket.ID, err)
	}
	id := assignee.ID
	ticket.AssigneeID = &id
	s.logger.Debug("ticket assigned",
		zap.String("ticket_id", ticket.ID),
		zap.String("assignee_id", assignee.ID),
		zap.String("policy", s.policy))
	return assignee, nil
}

func (s *AssignmentService) pickDefault(ctx context.Context) (*domain.StaffMember, error) {
	member, err := s.staff.GetByEmail(ctx, strings.ToLower(s.defaultEmail))
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, fmt.Errorf("%w: default assignee %s not found", ErrNoAssignee, s.defaultEmail)
		}
		return nil, err
	}
	if !member.Assignable() {
		return nil, fmt.Errorf("%w: default assignee %s is not assignable", ErrNoAssignee, s.defaultEmail)
	}
	return member, nil
}

// pickLeastLoaded returns the assignable member with the fewest active
// tickets. Ties go to the longest-standing member.
func (s *AssignmentService) pickLeastLoaded(ctx context.Context) (*domain.StaffMember, error) {
	staffList, err := s.staff.ListAssignable(ctx)
	if err != nil {
		return nil, err
	}
	if len(staffList) == 0 {
		return nil, ErrNoAssignee
	}
	load, err := s.tickets.CountActiveByAssignee(ctx)
	if err != nil {
		return nil, err
	}
	best := 0
	for i := 1; i < len(staffList); i++ {
		if load[staffList[i].ID] < load[staffList[best].ID] {
			best = i
		}
	}
	chosen := staffList[best]
	return &chosen, nil
}

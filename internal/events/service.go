// Package events is the read-side service layer over synthesized Events
// (§4.4). Synthesis and persistence already happen inline in
// internal/pipeline as each position is processed; this package exposes
// the query/recipient-filtering surface internal/api calls, following
// the teacher's internal/tracking.Service shape (a thin struct wrapping
// the store plus an external access-control collaborator).
package events

import (
	"context"

	"github.com/traxcore/telemetry-core/internal/store"
	"github.com/traxcore/telemetry-core/pkg/apperrors"
	"github.com/traxcore/telemetry-core/pkg/models"
)

// AccessControl is the external collaborator that knows which devices a
// user may see. internal/events only ever calls it; it never implements
// or extends it.
type AccessControl interface {
	DevicesVisibleTo(ctx context.Context, userRef string) ([]string, error)
}

// Service is the event query/dispatch surface internal/api depends on.
type Service struct {
	store  store.Store
	access AccessControl
}

// NewService wires an event service against its collaborators.
func NewService(st store.Store, access AccessControl) *Service {
	return &Service{store: st, access: access}
}

// Query runs filter scoped to the devices userRef may see (§4.4's
// recipient-filtering rule: a user never receives an event for a device
// outside their fleet, regardless of what the filter itself asks for).
func (s *Service) Query(ctx context.Context, userRef string, filter store.EventFilter) ([]*models.Event, error) {
	visible, err := s.access.DevicesVisibleTo(ctx, userRef)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to resolve visible devices")
	}
	if filter.DeviceRef != "" && !contains(visible, filter.DeviceRef) {
		return nil, apperrors.NewForbiddenError("device is outside the caller's fleet")
	}

	if filter.DeviceRef == "" {
		return s.queryAcrossFleet(ctx, visible, filter)
	}

	events, err := s.store.QueryEvents(ctx, filter)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to query events")
	}
	return events, nil
}

// queryAcrossFleet runs filter once per visible device, since the Store
// contract only narrows by a single DeviceRef at a time (§4.8).
func (s *Service) queryAcrossFleet(ctx context.Context, visible []string, filter store.EventFilter) ([]*models.Event, error) {
	var all []*models.Event
	for _, deviceRef := range visible {
		scoped := filter
		scoped.DeviceRef = deviceRef
		events, err := s.store.QueryEvents(ctx, scoped)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to query events")
		}
		all = append(all, events...)
	}
	return all, nil
}

func contains(refs []string, ref string) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}

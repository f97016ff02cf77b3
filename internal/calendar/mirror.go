// Package calendar mirrors reminder schedules as recurring events in an
// external calendar.
package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/tazhate/healthreminders/internal/clients/caldav"
	"github.com/tazhate/healthreminders/internal/domain"
	"github.com/tazhate/healthreminders/internal/logger"
	"github.com/tazhate/healthreminders/internal/recurrence"
)

const eventDuration = 15 * time.Minute

// EventStore is the part of the CalDAV client the mirror writes through.
type EventStore interface {
	PutEvent(ctx context.Context, event *caldav.Event) error
	DeleteEvent(ctx context.Context, uid string) error
}

// NameResolver looks up the variable a schedule is about.
type NameResolver interface {
	VariableNameForLink(ctx context.Context, userVariableID int64) (string, error)
}

// Mirror keeps one recurring event per active schedule.
type Mirror struct {
	events EventStore
	names  NameResolver
	log    *logger.Logger
}

func NewMirror(events EventStore, names NameResolver, log *logger.Logger) *Mirror {
	return &Mirror{events: events, names: names, log: log}
}

func (m *Mirror) Name() string { return "calendar" }

// Announce satisfies service.Announcer by syncing synchronously.
func (m *Mirror) Announce(ctx context.Context, sc *domain.Schedule) error {
	return m.Sync(ctx, sc)
}

// Sync writes the schedule's event, or removes it when the schedule is
// inactive or its rule has no occurrences left.
func (m *Mirror) Sync(ctx context.Context, sc *domain.Schedule) error {
	uid := EventUID(sc.ID)
	if !sc.IsActive {
		return m.remove(ctx, sc, uid)
	}

	name, err := m.names.VariableNameForLink(ctx, sc.UserVariableID)
	if err != nil {
		return fmt.Errorf("resolve variable name: %w", err)
	}
	event, err := BuildEvent(sc, name)
	if err != nil {
		return err
	}
	if event == nil {
		return m.remove(ctx, sc, uid)
	}

	if err := m.events.PutEvent(ctx, event); err != nil {
		return err
	}
	m.log.WithSchedule(sc.ID, sc.UserID).WithField("uid", uid).Debug("Calendar event written")
	return nil
}

func (m *Mirror) remove(ctx context.Context, sc *domain.Schedule, uid string) error {
	if err := m.events.DeleteEvent(ctx, uid); err != nil {
		return err
	}
	m.log.WithSchedule(sc.ID, sc.UserID).WithField("uid", uid).Debug("Calendar event removed")
	return nil
}

// EventUID is the stable calendar identity of a schedule.
func EventUID(scheduleID int64) string {
	return fmt.Sprintf("schedule-%d@healthreminders", scheduleID)
}

// BuildEvent renders a schedule as a recurring event starting at the
// first occurrence of its rule. It returns nil if the rule never fires.
func BuildEvent(sc *domain.Schedule, variableName string) (*caldav.Event, error) {
	rule, err := recurrence.NewRule(sc.Spec)
	if err != nil {
		return nil, fmt.Errorf("compile schedule %d rule: %w", sc.ID, err)
	}

	anchor, err := time.ParseInLocation(domain.DateLayout, sc.Spec.AnchorDate, rule.Location())
	if err != nil {
		return nil, fmt.Errorf("parse anchor date: %w", err)
	}
	first := rule.NextFrom(anchor)
	if first == nil {
		return nil, nil
	}

	return &caldav.Event{
		UID:         EventUID(sc.ID),
		Summary:     domain.Render(sc.TitleTemplate, variableName, sc.DefaultValue),
		Description: domain.Render(sc.MessageTemplate, variableName, sc.DefaultValue),
		StartTime:   *first,
		Location:    rule.Location(),
		Duration:    eventDuration,
		RRule:       rule.RRule(),
		Stamp:       sc.UpdatedAt,
	}, nil
}

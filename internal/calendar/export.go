package calendar

import (
	"context"
	"fmt"

	"github.com/tazhate/healthreminders/internal/clients/caldav"
	"github.com/tazhate/healthreminders/internal/domain"
)

// Export renders the active schedules as one iCalendar document.
func Export(ctx context.Context, schedules []*domain.Schedule, names NameResolver) (string, error) {
	var events []*caldav.Event
	for _, sc := range schedules {
		if !sc.IsActive {
			continue
		}
		name, err := names.VariableNameForLink(ctx, sc.UserVariableID)
		if err != nil {
			return "", fmt.Errorf("resolve variable name: %w", err)
		}
		event, err := BuildEvent(sc, name)
		if err != nil {
			return "", err
		}
		if event != nil {
			events = append(events, event)
		}
	}
	return caldav.SerializeCalendar(caldav.EventsCalendar(events))
}

package application

import (
	"context"

	"gearshare/internal/booking/application/events"
	"gearshare/internal/eventing"
)

// NotificationEnvelopes converts notification requests into outbox envelopes,
// propagating the correlation id carried by ctx.
func NotificationEnvelopes(ctx context.Context, notifications []events.NotificationRequested) ([]eventing.Envelope, error) {
	if len(notifications) == 0 {
		return nil, nil
	}
	meta := eventing.MetaFromContext(ctx)
	envelopes := make([]eventing.Envelope, 0, len(notifications))
	for _, n := range notifications {
		env, err := n.Envelope(meta)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, nil
}

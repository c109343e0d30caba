/*
Package event provides the in-process pub/sub bus the worker core uses to fan
notifications out to its listeners.

The bus sits on watermill's gochannel for infrastructure and calls
subscribers directly, so notification order and Go types are preserved.

# Event Types

  - notification.state: a throttled SessionState snapshot
  - notification.error: a human-readable request failure
  - notification.complete: the core is closing its connections
  - state.persisted: a persistence save finished (core-internal)

The first three carry a types.Notification in Data; ForNotification and
Event.Notification convert between the two.

# Usage

	bus := event.NewBus()
	defer bus.Close()

	unsubscribe := bus.Subscribe(event.StateChanged, func(e event.Event) {
		n, _ := e.Notification()
		port.Send(n)
	})
	defer unsubscribe()

	bus.PublishSync(event.ForNotification(types.StateNotification(snapshot)))

# Subscriber Safety

PublishSync calls subscribers in the publisher's goroutine. Subscribers must
return quickly, use non-blocking channel sends, and never publish from inside
a subscriber. A panicking subscriber is logged and skipped.
*/
package event

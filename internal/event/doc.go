// Package event defines the debounced presence events greeter reacts to and
// the plumbing that moves them around.
//
// An [Event] is an immutable value: one of [Recognized], [Unknown],
// [Departed] or [NoSubjects], stamped with the batch time and cycle that
// produced it. The tracker publishes events on a [Bus] and records them in a
// [History] ring.
//
// # Delivery
//
// [Bus.Publish] is synchronous. Handlers run on the publisher's goroutine in
// the order they were registered, whether they subscribed to a single kind or
// to all kinds. Each call is isolated: a handler that returns an error or
// panics is logged and counted, and the remaining handlers still run.
// Handlers that need to block should hand the event off to their own
// goroutine.
//
//	bus := event.NewBus(logger)
//	id := bus.Subscribe(event.Recognized, func(e event.Event) error {
//	    fmt.Println("hello", e.Subject)
//	    return nil
//	})
//	defer bus.Unsubscribe(id)
package event

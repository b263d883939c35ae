/*
Package events provides an in-memory broker for persisted timeline events.

The state tracker publishes every event after it has been stored; the API
relays them to dashboard clients over server-sent events. Publish never
blocks: the broker queue holds 100 events and each subscriber buffers 50,
and anything beyond that is dropped for the slow party only. Stop closes
every subscription.

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	for ev := range sub {
		...
	}
*/
package events

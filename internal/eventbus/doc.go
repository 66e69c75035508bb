// Package eventbus fans conversation and plugin events out to every
// switchboard process.
//
// Three drivers share the Bus contract:
//
//   - RedisBus uses Redis pub/sub with one publisher client and one
//     dedicated subscriber connection per process.
//   - NATSBus uses core NATS subjects.
//   - LocalBus delivers in-process only and is used when no shared cache is
//     configured.
//
// Every driver demultiplexes incoming payloads through a single in-process
// handler map, so any number of local handlers can share one broker
// subscription. Delivery is best-effort: events carry notifications, the
// persisted state stays the source of truth.
//
// Payloads are normally an Envelope encoded as JSON:
//
//	env, _ := eventbus.NewEnvelope(eventbus.EventMessageCreated, orgID, convID, msg)
//	_ = bus.Publish(ctx, eventbus.ConversationChannel(convID), env)
package eventbus

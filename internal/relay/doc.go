// Package relay forwards event bus messages to WebSocket clients.
//
// A client connects for one organization and optionally one conversation.
// Its connection subscribes to the matching bus channels and receives every
// envelope published there as a text frame. Clients that cannot keep up are
// disconnected rather than slowing down the bus.
package relay

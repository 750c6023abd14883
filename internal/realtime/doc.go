// Package realtime is a client for the backend platform's realtime
// service: Phoenix channels carried as JSON frames over one websocket.
//
// A Client owns the socket. Channels are created with Client.Channel,
// given row-change bindings with On, and joined with Subscribe:
//
//	ch := client.Channel("marketplace-changes").
//		On(realtime.EventSpec{Event: realtime.EventInsert, Table: "jobs"}, onChange)
//	err := ch.Subscribe(ctx, func(status realtime.Status, err error) { ... })
//
// Subscribe only reports errors that kept the join from being sent.
// Everything after that (join accepted, join rejected, join timeout,
// server-side channel error or close, socket loss) arrives through the
// status callback. Socket loss errors every joined channel; the next
// Subscribe redials.
//
// RemoveChannel silences a channel's callbacks before it returns, sends
// phx_leave when the channel was joined, and closes the socket once no
// channels remain.
package realtime

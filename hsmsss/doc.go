// Package hsmsss provides an implementation of HSMS-SS (High-Speed SECS Message Services - Single Session)
// according to the SEMI E37.1 standard.
//
// A Connection is a communicator bound to one remote entity. It acquires TCP connections
// in one of three roles, runs the HSMS-SS state machine on each of them and hands the
// traffic to registered listeners.
//
// Key Features:
//   - Connection roles: active (connects and selects), passive (keeps a listener bound) and
//     passive-rebind (re-binds the listener after every session).
//   - State machine: NOT_CONNECTED, NOT_SELECTED and SELECTED with the T5, T6, T7 and T8 timers.
//   - Transactions: data messages wait T3 for their reply, control requests wait T6.
//   - Linktest: optional periodic linktest while selected; a failed linktest closes the connection.
//   - Listeners: received messages, log events, communicatable changes and three message
//     pass-through channels, each delivered in order from its own queue.
//   - Metrics: atomic counters in ConnectionMetrics, exported through NewMetricsCollector.
//
// Connection Establishment:
//   - Create a ConnectionConfig with NewConnectionConfig and functional options.
//   - Create the communicator with NewConnection.
//   - Call Open, or OpenAndWaitUntilCommunicating to block until the session is selected.
//
// Usage Example:
//
//	cfg, err := hsmsss.NewConnectionConfig("127.0.0.1", 5000,
//	    hsmsss.WithActive(),
//	    hsmsss.WithHostRole(),
//	    hsmsss.WithSessionID(10),
//	    hsmsss.WithT3Timeout(30*time.Second),
//	)
//	// ... handle error ...
//
//	conn, err := hsmsss.NewConnection(ctx, cfg)
//	// ... handle error ...
//	defer conn.Close()
//
//	conn.AddMessageReceivedBiListener(func(msg *hsms.Message, c *hsmsss.Connection) {
//	    if msg.WaitBit() {
//	        _ = c.ReplyDataMessage(ctx, msg, msg.Body())
//	    }
//	})
//
//	err = conn.OpenAndWaitUntilCommunicating(ctx)
//	// ... handle error ...
//
//	reply, err := conn.SendDataMessage(ctx, 1, 1, true, nil)
//	// ... handle error and reply ...
package hsmsss

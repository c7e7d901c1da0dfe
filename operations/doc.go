package operations

// operations is the API applications use: table administration, reads,
// writes and scans against whatever connection the connection package
// currently provides. It checks arguments before touching the store, checks
// that tables exist where that matters, and reports every failure through a
// returned error.

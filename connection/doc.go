package connection

// connection owns the store connection that every operation shares. It
// builds the connection the first time one is needed and, when credentials
// expire, periodically builds a replacement and swaps it in. A replaced
// connection is not closed right away: it waits in a RetirementQueue for one
// more renewal period so that operations already running against it can
// finish.

package userconfig

// userconfig turns the user's YAML configuration into validated settings, and
// turns those settings into a Snapshot each time a connection is built. A
// Snapshot is where the Kerberos login happens, so building one is the first
// step of every connection renewal.

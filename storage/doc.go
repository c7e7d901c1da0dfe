package storage

// storage contains the Store interface, which is the small set of client
// primitives we need from a column-family store (table administration, get,
// put, delete and scan), as well as three implementations: HBaseStore, which
// talks to an HBase cluster through gohbase, BadgerDB, an embedded stand-in
// for local development and tests, and NoOpDB, which refuses to read or write.
//
// Note that the storage package deals only in opaque binary row keys and
// values. Encoding typed row keys is up to the rowkey package, and deciding
// whether an operation makes sense (e.g., whether a table must exist first)
// is up to the operations package.

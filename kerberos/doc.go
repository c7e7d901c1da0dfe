package kerberos

// kerberos logs in to a KDC with a keytab and hands back an Identity. HBase
// clusters secured with Kerberos expect the client's ticket to be refreshed
// before it expires, so callers are expected to log in again on a schedule
// and throw the old Identity away once nothing uses it.

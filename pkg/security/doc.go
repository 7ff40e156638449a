/*
Package security provides the control plane's certificate authority.

A single root CA, persisted encrypted alongside the coordination store's
bbolt database, issues short-lived (24h) operator certificates: one per
container-host address that pkg/hostclient's Pool dials, authenticating
its mutual-TLS connection to that host's docker-proxy API. There is no
longer-lived node identity to issue, since every tarantoolctl process is
a one-shot CLI run rather than a standing daemon.

The root key never leaves the process that generated it; SaveToStore and
LoadFromStore encrypt and decrypt it with a key derived from the
coordination store's own identity (DeriveKeyFromClusterID).
*/
package security

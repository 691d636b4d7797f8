// Package canonical provides the deterministic encoding used for every
// content-addressed identity in strata: directory nodes, rule graph
// fingerprints, and action cache keys.
//
// Values are restricted to a small sealed set (string, int, bool, array,
// object) so that the same logical value always serializes to the same
// bytes. Encoding follows RFC 8785: object keys sorted by UTF-16 code units,
// no HTML escaping, strings NFC normalized, no floats and no null.
//
// This package imports nothing internal.
package canonical

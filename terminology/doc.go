// Package terminology provides the external terminology server client
// and a caching layer over code validation.
//
// The Client speaks the FHIR $validate-code operation. Results are
// cached by a sharded TTL cache so bulk runs do not hammer the server
// with the same (system, code) pairs.
package terminology

// Package ws implements the PV monitor stream served at /ws/stream.
//
// On connect a client receives the current snapshot. After that it receives
// one "update" event per committed record and a full "snapshot" event every
// broadcast interval.
//
//	{"event": "snapshot", "data": { /* same schema as GET /api/v1/snapshot */ }}
//	{"event": "update",   "data": { /* one record, as GET /api/v1/pvs/{name} */ }}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level.
package ws

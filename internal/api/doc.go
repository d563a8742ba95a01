// Package api implements the IOC's REST endpoints.
//
//	GET /api/v1/health         per-channel status of the last image update
//	GET /api/v1/pvs            all process variables, sorted by name
//	GET /api/v1/pvs/{name}     one process variable
//	PUT /api/v1/pvs/{name}     write a process variable; body {"value": ...}
//	GET /api/v1/alarms         firing and recently resolved alarms
//	GET /api/v1/snapshot       all PVs plus channel status in one document
//
// Writes go through the same put path as any other client, so a PUT to an
// image path PV runs the analysis before the response is written.
package api

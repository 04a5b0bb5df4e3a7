// Package api is the REST client for the session service.
//
// Endpoints used:
//   - GET /user/sessions/          sessions owned by the authenticated user
//   - GET /sessions/{id}/photos    photos uploaded to one session
//
// Both are read-only. The daemon uses them to choose which channels to hold
// open and to poll channels whose live connection is down.
package api

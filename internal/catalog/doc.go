// Package catalog keeps the set of open channels in step with the user's
// session list.
//
// On start it fetches GET /user/sessions/, keeps active, unexpired sessions,
// orders them newest first and reconciles the session manager to that list.
// A background loop repeats the fetch and reconciles again whenever the
// desired list changes.
package catalog

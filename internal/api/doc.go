// Package api is the HTTP adapter over the mail core. Every route is scoped
// to an organization; handlers map the core error taxonomy onto statuses.
package api

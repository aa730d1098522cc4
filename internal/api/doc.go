// Package api exposes campaign dispatch over HTTP: campaign creation and
// recipient attachment, the queue/start/halt/cancel lifecycle, live progress,
// and the send-log audit trail as JSON or CSV.
package api

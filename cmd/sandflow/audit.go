package main

import (
	"github.com/sandflow/sandflow/journal"
)

// auditEvent appends one lifecycle mutation to the audit journal.
// Failures are logged and swallowed: losing an audit line must never
// fail the command that did the work.
func auditEvent(app *app, entryType journal.EntryType, provider, resourceID string, data interface{}) {
	cfg := journal.DefaultConfig()
	cfg.RetentionDays = app.cfg.Journal.RetentionDays

	j, err := journal.Open(journalDir(app), cfg)
	if err != nil {
		app.logger.Warn().Err(err).Msg("journal unavailable, skipping audit entry")
		return
	}
	defer func() { _ = j.Close() }()

	if err := j.Append(entryType, provider, resourceID, data); err != nil {
		app.logger.Warn().Err(err).Str("resource_id", resourceID).Msg("audit append failed")
	}
}

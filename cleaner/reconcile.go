package cleaner

import (
	"context"
	"sort"
	"time"

	"github.com/sandflow/sandflow/journal"
	"github.com/sandflow/sandflow/providers"
)

// reconcileUntracked diffs remote resources against local tracking
// and deletes remote leftovers older than the safety margin. Remote
// resources with an unknown creation time are never deleted.
func (c *Cleaner) reconcileUntracked(ctx context.Context, result *SweepResult) {
	remote, err := c.target.ListRemote(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("remote list failed, skipping reconciliation")
		return
	}

	tracked := c.trackedIDs()
	now := c.now()

	for _, res := range remote {
		if _, ok := tracked[res.ID]; ok {
			continue
		}
		if res.CreatedAt.IsZero() {
			c.logger.Warn().
				Str("resource_id", res.ID).
				Msg("untracked remote resource with unknown age, leaving alone")
			continue
		}

		age := now.Sub(res.CreatedAt)
		if age < c.config.UntrackedSafetyMargin {
			continue
		}

		if err := c.target.DeleteRemote(ctx, res.ID); err != nil {
			c.logger.Error().Err(err).
				Str("resource_id", res.ID).
				Float64("age_hours", age.Hours()).
				Msg("failed to delete untracked remote resource")
			result.Failed = append(result.Failed, providers.BatchFailure{
				ResourceID: res.ID,
				Error:      err.Error(),
			})
			c.journalError(journal.EntryFailed, res.ID, sweepEvent{AgeHours: age.Hours(), Action: "reconcile"}, err)
			continue
		}

		c.logger.Info().
			Str("resource_id", res.ID).
			Float64("age_hours", age.Hours()).
			Msg("deleted untracked remote resource")
		result.Reconciled++
		c.journalEvent(journal.EntryCleaned, res.ID, sweepEvent{AgeHours: age.Hours(), Action: "reconcile"})
	}
}

// ForceCleanupAll deletes every remote resource for the provider
// regardless of age and clears all local tracking. Operator escape
// hatch, never part of the normal tick.
func (c *Cleaner) ForceCleanupAll(ctx context.Context) providers.BatchResult {
	var result providers.BatchResult

	remote, err := c.target.ListRemote(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("remote list failed during force cleanup")
		result.Failed = append(result.Failed, providers.BatchFailure{
			ResourceID: "*",
			Error:      err.Error(),
		})
		return result
	}

	seen := make(map[string]bool, len(remote))
	for _, res := range remote {
		seen[res.ID] = true
		c.forceDelete(ctx, res.ID, &result)
	}

	// Tracked records whose remote side is already gone still need
	// their tracking cleared.
	for id := range c.trackedIDs() {
		if seen[id] {
			continue
		}
		c.forceDelete(ctx, id, &result)
	}

	sort.Strings(result.Succeeded)
	c.logger.Info().
		Int("succeeded", len(result.Succeeded)).
		Int("failed", len(result.Failed)).
		Msg("force cleanup completed")
	return result
}

// forceDelete clears the lifecycle entry, then the remote side, then
// local tracking. The remote delete treats not-found as success, so a
// lifecycle delete that already reached the backend is harmless.
func (c *Cleaner) forceDelete(ctx context.Context, id string, result *providers.BatchResult) {
	if err := c.forceDeleteOne(ctx, id); err != nil {
		result.Failed = append(result.Failed, providers.BatchFailure{
			ResourceID: id,
			Error:      err.Error(),
		})
		c.journalError(journal.EntryFailed, id, sweepEvent{Action: "force"}, err)
		return
	}
	result.Succeeded = append(result.Succeeded, id)
	c.journalEvent(journal.EntryCleaned, id, sweepEvent{Action: "force"})
}

func (c *Cleaner) forceDeleteOne(ctx context.Context, id string) error {
	if err := c.target.DeleteResource(ctx, id); err != nil {
		return err
	}
	if err := c.target.DeleteRemote(ctx, id); err != nil {
		return err
	}
	if _, ok := c.tracker.Record(id); ok {
		if _, err := c.tracker.Untrack(id); err != nil {
			c.logger.Warn().Err(err).Str("resource_id", id).Msg("untrack after force delete failed")
		}
	}
	return nil
}

// trackedIDs snapshots the set of locally tracked resource ids.
func (c *Cleaner) trackedIDs() map[string]time.Time {
	records := c.tracker.Records()
	ids := make(map[string]time.Time, len(records))
	for _, record := range records {
		ids[record.Resource.ID] = record.Metrics.CreatedAt
	}
	return ids
}

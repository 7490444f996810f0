package engine

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"dealflow/internal/audit"
	"dealflow/internal/domain"
	"dealflow/internal/eligibility"
)

// Distribute picks the single agency to receive the project: lowest position
// among eligible entries, ties broken by higher tier, higher satisfaction,
// earliest joined_queue. The selection, capacity increment and tier
// round-robin repositioning commit as one transaction under the queue lock,
// recorded as a single audit event.
func (e *Engine) Distribute(ctx context.Context, projectID, actorID string) (string, error) {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	mu := e.projectLock(projectID)
	mu.Lock()
	defer mu.Unlock()

	now := e.now()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	project, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return "", err
	}
	if project.AssignedAgencyID != nil {
		return "", ValidationError{Field: "project", Reason: "already distributed to " + *project.AssignedAgencyID}
	}

	entries, err := e.Repo.ListEntriesTx(ctx, tx)
	if err != nil {
		return "", err
	}
	policy := e.policy()
	var candidates []domain.QueueEntry
	for _, entry := range entries {
		if eligibility.Evaluate(entry, policy, now).Eligible {
			candidates = append(candidates, entry)
		}
	}
	if len(candidates) == 0 {
		return "", ErrNoEligibleAgency
	}
	winner := e.pickCandidate(candidates)

	entry, err := e.Repo.GetEntryTx(ctx, tx, winner.AgencyID)
	if err != nil {
		return "", err
	}
	entry.ActiveProjects++
	newPos := repositionAfterTier(entries, entry.AgencyID)
	entry.Position = newPos
	if err := e.applyReposition(ctx, tx, entries, entry.AgencyID, newPos); err != nil {
		return "", err
	}
	if err := e.Repo.UpdateEntryTx(ctx, tx, entry); err != nil {
		return "", err
	}
	if err := e.verifyContiguityTx(ctx, tx); err != nil {
		return "", err
	}

	nowStr := now.UTC().Format(time.RFC3339)
	project.AssignedAgencyID = &entry.AgencyID
	project.UpdatedAt = nowStr
	if err := e.Repo.UpdateProjectTx(ctx, tx, project); err != nil {
		return "", err
	}
	if err := e.Audit.Append(ctx, tx, "project.distributed", "project", projectID, actorID, audit.Payload{
		"agency_id":       entry.AgencyID,
		"from_position":   winner.Position,
		"to_position":     newPos,
		"active_projects": entry.ActiveProjects,
		"candidates":      len(candidates),
	}); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return entry.AgencyID, nil
}

// pickCandidate orders by position, the fairness primary; the remaining keys
// only matter for position ties, which the contiguity invariant rules out but
// are handled anyway.
func (e *Engine) pickCandidate(candidates []domain.QueueEntry) domain.QueueEntry {
	sorted := make([]domain.QueueEntry, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		if ra, rb := e.Config.TierRank(a.Tier), e.Config.TierRank(b.Tier); ra != rb {
			return ra > rb
		}
		if a.SatisfactionRating != b.SatisfactionRating {
			return a.SatisfactionRating > b.SatisfactionRating
		}
		return a.JoinedQueue < b.JoinedQueue
	})
	return sorted[0]
}

// repositionAfterTier computes the winner's new rank: immediately after the
// last entry of its own tier, so it round-robins within the tier without
// leapfrogging other tiers. A sole member of its tier stays put.
func repositionAfterTier(entries []domain.QueueEntry, winnerID string) int {
	var winner domain.QueueEntry
	for _, entry := range entries {
		if entry.AgencyID == winnerID {
			winner = entry
			break
		}
	}
	maxTierPos := winner.Position
	for _, entry := range entries {
		if entry.Tier == winner.Tier && entry.Position > maxTierPos {
			maxTierPos = entry.Position
		}
	}
	return maxTierPos
}

// applyReposition renumbers entries as if the winner were removed and
// reinserted at target, touching only rows whose position changes.
func (e *Engine) applyReposition(ctx context.Context, tx *sql.Tx, entries []domain.QueueEntry, winnerID string, target int) error {
	var rest []domain.QueueEntry
	for _, entry := range entries {
		if entry.AgencyID != winnerID {
			rest = append(rest, entry)
		}
	}
	pos := 0
	for _, entry := range rest {
		pos++
		if pos == target {
			pos++ // slot reserved for the winner
		}
		if entry.Position != pos {
			if err := e.Repo.SetEntryPositionTx(ctx, tx, entry.AgencyID, pos); err != nil {
				return err
			}
		}
	}
	return nil
}

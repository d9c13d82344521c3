package store

import "context"

// ClaimWebhookEvent inserts the event id into the dedup ledger. The insert is
// the claim: true means this delivery is the first and the caller should
// process it, false means a duplicate that must be skipped.
func (s *Store) ClaimWebhookEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO payment_webhook_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

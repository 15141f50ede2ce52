package broker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ProviderRegistry tracks which providers exist and what they can serve.
// Records are advisory: the matcher consults them, nothing reserves work.
type ProviderRegistry struct {
	db *sql.DB
}

func NewProviderRegistry(db *sql.DB) *ProviderRegistry {
	return &ProviderRegistry{db: db}
}

// Upsert records the capability set for a provider, replacing any previous
// record wholesale. A zero LastSeen means the provider was seen just now.
func (r *ProviderRegistry) Upsert(ctx context.Context, caps ProviderCapabilities) error {
	if caps.ProviderID == "" {
		return fmt.Errorf("provider id is empty")
	}

	seen := caps.LastSeen
	if seen.IsZero() {
		seen = time.Now().UTC()
	}

	models, err := json.Marshal(nonNil(caps.Models))
	if err != nil {
		return fmt.Errorf("encode models: %w", err)
	}
	kinds, err := json.Marshal(nonNil(caps.Kinds))
	if err != nil {
		return fmt.Errorf("encode kinds: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO providers(id, models, kinds, last_seen)
VALUES(?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  models = excluded.models,
  kinds = excluded.kinds,
  last_seen = excluded.last_seen;
`, caps.ProviderID, string(models), string(kinds), seen.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert provider %s: %w", caps.ProviderID, err)
	}
	return nil
}

// ActiveSnapshot returns providers seen within ttl of now and lazily deletes
// the rest.
func (r *ProviderRegistry) ActiveSnapshot(ctx context.Context, now time.Time, ttl time.Duration) ([]ProviderCapabilities, error) {
	cutoff := now.Add(-ttl)

	rows, err := r.db.QueryContext(ctx, `
SELECT id, models, kinds, last_seen
FROM providers
ORDER BY id ASC;
`)
	if err != nil {
		return nil, fmt.Errorf("snapshot providers: %w", err)
	}
	defer rows.Close()

	var (
		active  []ProviderCapabilities
		expired []string
	)
	for rows.Next() {
		var (
			caps          ProviderCapabilities
			models, kinds string
			seenS         string
		)
		if err := rows.Scan(&caps.ProviderID, &models, &kinds, &seenS); err != nil {
			return nil, fmt.Errorf("snapshot providers: %w", err)
		}
		seen, err := time.Parse(time.RFC3339Nano, seenS)
		if err != nil || seen.Before(cutoff) {
			expired = append(expired, caps.ProviderID)
			continue
		}
		caps.LastSeen = seen
		if err := json.Unmarshal([]byte(models), &caps.Models); err != nil {
			return nil, fmt.Errorf("decode models for %s: %w", caps.ProviderID, err)
		}
		if err := json.Unmarshal([]byte(kinds), &caps.Kinds); err != nil {
			return nil, fmt.Errorf("decode kinds for %s: %w", caps.ProviderID, err)
		}
		active = append(active, caps)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot providers: %w", err)
	}

	for _, id := range expired {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM providers WHERE id = ?;`, id); err != nil {
			return nil, fmt.Errorf("purge provider %s: %w", id, err)
		}
	}

	return active, nil
}

// ActiveModels returns the union of models served by active providers,
// deduplicated and sorted by provider order of appearance.
func (r *ProviderRegistry) ActiveModels(ctx context.Context, now time.Time, ttl time.Duration) ([]string, error) {
	active, err := r.ActiveSnapshot(ctx, now, ttl)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var models []string
	for _, p := range active {
		for _, m := range p.Models {
			if !seen[m] {
				seen[m] = true
				models = append(models, m)
			}
		}
	}
	return models, nil
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

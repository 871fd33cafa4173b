package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the ledger invariants as queries that must yield zero rows.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_at_most_one_resolution",
			SQL: `SELECT dispute_id, COUNT(*) FROM resolutions
                  GROUP BY dispute_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_resolution_iff_resolved",
			SQL: `SELECT d.id FROM disputes d
                  LEFT JOIN resolutions r ON r.dispute_id = d.id
                  WHERE (d.status = 'resolved') <> (r.id IS NOT NULL)`,
		},
		{
			Name: "O3_truth_iff_submitted",
			SQL: `SELECT dispute_id, account_id FROM parties
                  WHERE (submitted AND truth IS NULL)
                     OR (NOT submitted AND truth IS NOT NULL)`,
		},
		{
			Name: "O4_party_membership_unique",
			SQL: `SELECT dispute_id, account_id, COUNT(*) FROM parties
                  GROUP BY dispute_id, account_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O5_creator_is_party",
			SQL: `SELECT d.id FROM disputes d
                  WHERE NOT EXISTS (
                      SELECT 1 FROM parties p
                      WHERE p.dispute_id = d.id AND p.account_id = d.creator_account_id)`,
		},
		{
			Name: "O6_resolved_implies_quorum",
			SQL: `SELECT d.id FROM disputes d
                  WHERE d.status = 'resolved'
                    AND (SELECT COUNT(*) FROM parties p WHERE p.dispute_id = d.id) < 2`,
		},
		{
			Name: "O7_resolved_at_iff_resolved",
			SQL: `SELECT id FROM disputes
                  WHERE (status = 'resolved') <> (resolved_at IS NOT NULL)`,
		},
		{
			Name: "O8_resolution_dispute_exists",
			SQL: `SELECT r.id FROM resolutions r
                  WHERE NOT EXISTS (SELECT 1 FROM disputes d WHERE d.id = r.dispute_id)`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}

package store

import (
	"fmt"
	"time"
)

// UsageDay formats t as the UTC day key used by the Tier2 usage ledger.
func UsageDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// AcquireTier2Call atomically counts one Tier2 call against day if the
// ledger is below limit. A limit <= 0 counts the call without a ceiling.
// Returns false once the day's quota is used up.
func (db *DB) AcquireTier2Call(day string, limit int) (bool, error) {
	if limit <= 0 {
		_, err := db.Exec(`
			INSERT INTO tier2_usage (day, calls) VALUES (?, 1)
			ON CONFLICT(day) DO UPDATE SET calls = calls + 1
		`, day)
		if err != nil {
			return false, fmt.Errorf("count tier2 call: %w", err)
		}
		return true, nil
	}

	res, err := db.Exec(`
		INSERT INTO tier2_usage (day, calls) VALUES (?, 1)
		ON CONFLICT(day) DO UPDATE SET calls = calls + 1 WHERE calls < ?
	`, day, limit)
	if err != nil {
		return false, fmt.Errorf("acquire tier2 call: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire tier2 call: %w", err)
	}
	return n > 0, nil
}

// Tier2Calls returns how many calls were counted for day.
func (db *DB) Tier2Calls(day string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COALESCE((SELECT calls FROM tier2_usage WHERE day = ?), 0)`, day).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("tier2 calls: %w", err)
	}
	return n, nil
}

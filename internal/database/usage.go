// Package database defines the insertions and transactions to the database
package database

import (
	"context"
	"database/sql"
	"fmt"

	"tokenrelay/internal/stats"
)

// SaveDailyUsage upserts aggregated usage rows into daily_usage.
//
//	CREATE TABLE daily_usage (
//	    date               DATE NOT NULL,
//	    user_id            BIGINT UNSIGNED NOT NULL,
//	    sessions           BIGINT UNSIGNED NOT NULL,
//	    completed_sessions BIGINT UNSIGNED NOT NULL,
//	    cancelled_sessions BIGINT UNSIGNED NOT NULL,
//	    failed_sessions    BIGINT UNSIGNED NOT NULL,
//	    chars_streamed     BIGINT UNSIGNED NOT NULL,
//	    total_time_ms      BIGINT NOT NULL,
//	    ttft_ms            BIGINT NOT NULL,
//	    PRIMARY KEY (date, user_id)
//	);
func SaveDailyUsage(ctx context.Context, db *sql.DB, rows []stats.UsageRow) error {
	if len(rows) == 0 {
		return nil
	}

	sqlStr := `INSERT INTO daily_usage (
		date, user_id, sessions, completed_sessions, cancelled_sessions,
		failed_sessions, chars_streamed, total_time_ms, ttft_ms
	) VALUES`

	vals := []any{}
	for _, r := range rows {
		sqlStr += "(?, ?, ?, ?, ?, ?, ?, ?, ?),"
		vals = append(vals,
			r.Date, r.UserID, r.Sessions, r.CompletedSessions, r.CancelledSessions,
			r.FailedSessions, r.CharsStreamed, r.TotalTimeMs, r.TTFTMs)
	}
	sqlStr = sqlStr[:len(sqlStr)-1]
	sqlStr += ` ON DUPLICATE KEY UPDATE
		sessions = sessions + VALUES(sessions),
		completed_sessions = completed_sessions + VALUES(completed_sessions),
		cancelled_sessions = cancelled_sessions + VALUES(cancelled_sessions),
		failed_sessions = failed_sessions + VALUES(failed_sessions),
		chars_streamed = chars_streamed + VALUES(chars_streamed),
		total_time_ms = total_time_ms + VALUES(total_time_ms),
		ttft_ms = ttft_ms + VALUES(ttft_ms)`

	if _, err := db.ExecContext(ctx, sqlStr, vals...); err != nil {
		return fmt.Errorf("failed saving daily usage: %w", err)
	}
	return nil
}

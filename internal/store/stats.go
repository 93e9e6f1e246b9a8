package store

// LoadStatistics reads the singleton counters row.
func (db *DB) LoadStatistics() (Statistics, error) {
	var s Statistics
	err := db.QueryRow(`
		SELECT total_sent, total_received, failed_messages, pending_messages, last_sync_time
		FROM statistics WHERE id = 1`).
		Scan(&s.TotalSent, &s.TotalReceived, &s.FailedMessages, &s.PendingMessages, &s.LastSyncTime)
	return s, err
}

// SaveStatistics writes the singleton counters row.
func (db *DB) SaveStatistics(s Statistics) error {
	_, err := db.Exec(`
		UPDATE statistics
		SET total_sent = ?, total_received = ?, failed_messages = ?, pending_messages = ?, last_sync_time = ?
		WHERE id = 1`,
		s.TotalSent, s.TotalReceived, s.FailedMessages, s.PendingMessages, s.LastSyncTime)
	return err
}

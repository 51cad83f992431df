package mysql

import "fmt"

const bundleCols = "id, actor_number, actor_role, category, format, status, message_count, " +
	"data_point_count, document_ref, lock_token, lock_expires_at, created_at, closed_at, " +
	"peeked_at, dequeued_at"

const messageCols = "id, bundle_id, actor_number, actor_role, category, format, " +
	"document_type, business_reason, related_to, payload, data_points, created_at"

type queries struct {
	selectOpenForUpdate   string
	insertBundle          string
	insertMessage         string
	updateBundleCounters  string
	sealBundle            string
	selectDueForUpdate    string
	selectUnrendered      string
	selectBundleMessages  string
	linkDocument          string
	selectDocumentRef     string
	selectPeekedForUpdate string
	reclaimLock           string
	selectReadyForUpdate  string
	lockBundle            string
	selectBundleForUpdate string
	dequeueBundle         string
	deliverMessages       string
	countOpen             string
	countReady            string
	selectDequeuedBefore  string
}

func newQueries(prefix string) queries {
	bundles := bundleTable(prefix)
	messages := messageTable(prefix)
	keyWhere := "actor_number = ? AND actor_role = ? AND category = ? AND format = ?"

	return queries{
		selectOpenForUpdate: fmt.Sprintf(
			"SELECT %s FROM %s WHERE %s AND status = ? LIMIT 1 FOR UPDATE",
			bundleCols, bundles, keyWhere,
		),
		insertBundle: fmt.Sprintf(
			"INSERT INTO %s (id, actor_number, actor_role, category, format, status, created_at) "+
				"VALUES (?, ?, ?, ?, ?, ?, ?)",
			bundles,
		),
		insertMessage: fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			messages, messageCols,
		),
		updateBundleCounters: fmt.Sprintf(
			"UPDATE %s SET message_count = ?, data_point_count = ? WHERE id = ?",
			bundles,
		),
		sealBundle: fmt.Sprintf(
			"UPDATE %s SET status = ?, closed_at = ? WHERE id = ? AND status = ?",
			bundles,
		),
		selectDueForUpdate: fmt.Sprintf(
			"SELECT %s FROM %s WHERE status = ? AND "+
				"(created_at <= ? OR message_count >= ? OR data_point_count >= ?) "+
				"ORDER BY id ASC FOR UPDATE SKIP LOCKED",
			bundleCols, bundles,
		),
		selectUnrendered: fmt.Sprintf(
			"SELECT %s FROM %s WHERE status = ? AND document_ref IS NULL ORDER BY id ASC LIMIT ?",
			bundleCols, bundles,
		),
		selectBundleMessages: fmt.Sprintf(
			"SELECT %s FROM %s WHERE bundle_id = ? ORDER BY id ASC",
			messageCols, messages,
		),
		linkDocument: fmt.Sprintf(
			"UPDATE %s SET document_ref = ? WHERE id = ? AND status = ? AND document_ref IS NULL",
			bundles,
		),
		selectDocumentRef: fmt.Sprintf(
			"SELECT document_ref FROM %s WHERE id = ?",
			bundles,
		),
		selectPeekedForUpdate: fmt.Sprintf(
			"SELECT %s FROM %s WHERE %s AND status = ? LIMIT 1 FOR UPDATE",
			bundleCols, bundles, keyWhere,
		),
		reclaimLock: fmt.Sprintf(
			"UPDATE %s SET status = ?, lock_token = NULL, lock_expires_at = NULL WHERE id = ? AND status = ?",
			bundles,
		),
		selectReadyForUpdate: fmt.Sprintf(
			"SELECT %s FROM %s WHERE %s AND status = ? AND document_ref IS NOT NULL "+
				"ORDER BY closed_at ASC, id ASC LIMIT 1 FOR UPDATE",
			bundleCols, bundles, keyWhere,
		),
		lockBundle: fmt.Sprintf(
			"UPDATE %s SET status = ?, peeked_at = ?, lock_token = ?, lock_expires_at = ? WHERE id = ?",
			bundles,
		),
		selectBundleForUpdate: fmt.Sprintf(
			"SELECT %s FROM %s WHERE id = ? FOR UPDATE",
			bundleCols, bundles,
		),
		dequeueBundle: fmt.Sprintf(
			"UPDATE %s SET status = ?, dequeued_at = ?, lock_token = NULL, lock_expires_at = NULL "+
				"WHERE id = ? AND status = ?",
			bundles,
		),
		deliverMessages: fmt.Sprintf(
			"UPDATE %s SET delivered_at = ? WHERE bundle_id = ? AND delivered_at IS NULL",
			messages,
		),
		countOpen: fmt.Sprintf(
			"SELECT COUNT(*) FROM %s WHERE status = ?",
			bundles,
		),
		countReady: fmt.Sprintf(
			"SELECT COUNT(*) FROM %s WHERE status = ? AND document_ref IS NOT NULL",
			bundles,
		),
		selectDequeuedBefore: fmt.Sprintf(
			"SELECT id FROM %s WHERE status = ? AND dequeued_at IS NOT NULL AND dequeued_at <= ? "+
				"ORDER BY id ASC LIMIT ?",
			bundles,
		),
	}
}

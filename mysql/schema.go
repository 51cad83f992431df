package mysql

import "fmt"

// The open_slot column is 'O' while the bundle is open and NULL otherwise;
// since MySQL unique indexes ignore NULLs, uq_open_bundle admits at most one
// open bundle per key while closed rows accumulate freely.
const bundleSchemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id BINARY(16) NOT NULL,
	actor_number VARCHAR(64) NOT NULL,
	actor_role VARCHAR(64) NOT NULL,
	category VARCHAR(128) NOT NULL,
	format VARCHAR(32) NOT NULL,
	status SMALLINT NOT NULL DEFAULT 0,
	message_count INT NOT NULL DEFAULT 0,
	data_point_count INT NOT NULL DEFAULT 0,
	document_ref VARCHAR(128) NULL,
	lock_token CHAR(36) NULL,
	lock_expires_at TIMESTAMP(6) NULL,
	created_at TIMESTAMP(6) NOT NULL,
	closed_at TIMESTAMP(6) NULL,
	peeked_at TIMESTAMP(6) NULL,
	dequeued_at TIMESTAMP(6) NULL,
	open_slot CHAR(1) GENERATED ALWAYS AS (CASE WHEN status = 0 THEN 'O' ELSE NULL END) STORED,
	PRIMARY KEY (id),
	UNIQUE KEY uq_open_bundle (actor_number, actor_role, category, format, open_slot),
	INDEX idx_key_status (actor_number, actor_role, category, format, status, closed_at),
	INDEX idx_status (status, id)
);`

const messageSchemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id BINARY(16) NOT NULL,
	bundle_id BINARY(16) NOT NULL,
	actor_number VARCHAR(64) NOT NULL,
	actor_role VARCHAR(64) NOT NULL,
	category VARCHAR(128) NOT NULL,
	format VARCHAR(32) NOT NULL,
	document_type VARCHAR(128) NOT NULL,
	business_reason VARCHAR(16) NULL,
	related_to VARCHAR(64) NULL,
	payload JSON NOT NULL,
	data_points INT NOT NULL DEFAULT 0,
	created_at TIMESTAMP(6) NOT NULL,
	delivered_at TIMESTAMP(6) NULL,
	PRIMARY KEY (id),
	INDEX idx_bundle (bundle_id, id)
);`

// Schema returns the bundle and message table definitions for the prefix.
// Execute with multiStatements enabled or split on the statement boundary.
func Schema(prefix string) (string, error) {
	name, err := sanitizePrefix(prefix)
	if err != nil {
		return "", err
	}

	bundles := fmt.Sprintf(bundleSchemaTemplate, bundleTable(name))
	messages := fmt.Sprintf(messageSchemaTemplate, messageTable(name))

	return bundles + "\n" + messages, nil
}

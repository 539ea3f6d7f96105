package postgres

const schema = `
CREATE TABLE IF NOT EXISTS latchkey_vaults (
	org_id     TEXT        NOT NULL,
	vault_id   TEXT        NOT NULL,
	owner_id   TEXT        NOT NULL,
	revision   BIGINT      NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	file       JSONB       NOT NULL,
	PRIMARY KEY (org_id, vault_id)
);

CREATE INDEX IF NOT EXISTS latchkey_vaults_owner
	ON latchkey_vaults (org_id, owner_id);
`

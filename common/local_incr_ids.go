package common

import (
	"database/sql"

	"emperror.dev/errors"
)

// CoreDBSchemas holds the schemas every deployment needs regardless of
// which features are enabled.
var CoreDBSchemas = []string{`
CREATE TABLE IF NOT EXISTS local_incr_ids (
	guild_id BIGINT NOT NULL,
	key TEXT NOT NULL,

	last BIGINT NOT NULL,
	last_updated TIMESTAMP WITH TIME ZONE NOT NULL,

	PRIMARY KEY(guild_id, key)
);
`}

func init() {
	RegisterDBSchemas("local_incr_ids", CoreDBSchemas...)
}

// GenLocalIncrID creates or increments a per-guild id counter for the given
// key, returning the new value. Pass the transaction the consuming row is
// inserted in so the counter and the row commit together.
func GenLocalIncrID(tx *sql.Tx, guildID int64, key string) (int64, error) {
	const query = `INSERT INTO local_incr_ids (guild_id, key, last, last_updated)
	VALUES ($1, $2, 1, now())
	ON CONFLICT (guild_id, key)
	DO UPDATE SET last = local_incr_ids.last + 1, last_updated = now()
	RETURNING last;`

	var row *sql.Row
	if tx == nil {
		row = PQ.QueryRow(query, guildID, key)
	} else {
		row = tx.QueryRow(query, guildID, key)
	}

	var newID int64
	err := row.Scan(&newID)
	if err != nil {
		return 0, errors.WithStackIf(err)
	}

	return newID, nil
}

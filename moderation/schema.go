package moderation

var DBSchemas = []string{`
CREATE TABLE IF NOT EXISTS moderation_configs (
	guild_id BIGINT PRIMARY KEY,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL,
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL,

	mute_role BIGINT NOT NULL DEFAULT 0,
	mute_remove_roles BIGINT[],
	staff_roles BIGINT[],

	action_channel BIGINT NOT NULL DEFAULT 0,
	antiraid_level SMALLINT NOT NULL DEFAULT 0,

	default_ban_delete_days SMALLINT NOT NULL DEFAULT 1,
	log_unbans BOOLEAN NOT NULL DEFAULT false
);
`, `
CREATE TABLE IF NOT EXISTS moderation_cases (
	id BIGSERIAL PRIMARY KEY,
	case_num BIGINT NOT NULL,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL,

	guild_id BIGINT NOT NULL,
	user_id BIGINT NOT NULL,
	author_id BIGINT NOT NULL,

	kind SMALLINT NOT NULL,
	reason TEXT NOT NULL,
	duration_seconds BIGINT NOT NULL DEFAULT 0
);
`, `
CREATE UNIQUE INDEX IF NOT EXISTS moderation_cases_guild_case_num_idx ON moderation_cases(guild_id, case_num);
`, `
CREATE INDEX IF NOT EXISTS moderation_cases_guild_user_idx ON moderation_cases(guild_id, user_id);
`, `
CREATE TABLE IF NOT EXISTS muted_users (
	id BIGSERIAL PRIMARY KEY,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL,
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL,

	guild_id BIGINT NOT NULL,
	user_id BIGINT NOT NULL,

	author_id BIGINT NOT NULL,
	reason TEXT NOT NULL,

	removed_roles BIGINT[],

	UNIQUE (guild_id, user_id)
);
`}

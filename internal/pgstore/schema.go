package pgstore

// notifyChannel carries row_to_json of every new scrape session.
const notifyChannel = "scrape_sessions"

// schemaLockKey names the advisory lock held while the schema is applied.
const schemaLockKey int64 = 0x70726963

var schema = []string{
	`CREATE TABLE IF NOT EXISTS competitors (
		id               text PRIMARY KEY DEFAULT gen_random_uuid()::text,
		name             text NOT NULL,
		pricing_page_url text NOT NULL,
		created_at       timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS scrape_sessions (
		id            text PRIMARY KEY DEFAULT gen_random_uuid()::text,
		competitor_id text NOT NULL,
		status        text NOT NULL DEFAULT 'pending'
		              CHECK (status IN ('pending', 'success', 'failed')),
		stage         text NOT NULL DEFAULT 'queued',
		scraped_at    timestamptz NOT NULL DEFAULT now(),
		error_message text,
		finished_at   timestamptz
	)`,
	`CREATE INDEX IF NOT EXISTS scrape_sessions_pending
		ON scrape_sessions (scraped_at) WHERE status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS pricing_plans (
		id                text PRIMARY KEY DEFAULT gen_random_uuid()::text,
		scrape_session_id text NOT NULL,
		competitor_id     text NOT NULL,
		plan_name         text NOT NULL,
		price             double precision CHECK (price IS NULL OR price >= 0),
		currency          text NOT NULL DEFAULT 'USD',
		billing_cycle     text NOT NULL DEFAULT 'monthly'
		                  CHECK (billing_cycle IN ('monthly', 'annually', 'one_time')),
		description       text NOT NULL DEFAULT '',
		is_current        boolean NOT NULL DEFAULT true,
		created_at        timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS pricing_plans_current
		ON pricing_plans (competitor_id) WHERE is_current`,
	`CREATE TABLE IF NOT EXISTS plan_features (
		id           text PRIMARY KEY DEFAULT gen_random_uuid()::text,
		plan_id      text NOT NULL REFERENCES pricing_plans (id),
		feature_text text NOT NULL,
		position     integer NOT NULL DEFAULT 0,
		is_current   boolean NOT NULL DEFAULT true
	)`,
	`CREATE INDEX IF NOT EXISTS plan_features_plan ON plan_features (plan_id)`,
	`CREATE OR REPLACE FUNCTION notify_scrape_session() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('` + notifyChannel + `', row_to_json(NEW)::text);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,
	`CREATE OR REPLACE TRIGGER scrape_sessions_notify
		AFTER INSERT ON scrape_sessions
		FOR EACH ROW EXECUTE FUNCTION notify_scrape_session()`,
}

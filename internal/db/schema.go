package db

const (
	tableCompetitor = "competitor"
	tableSession    = "scrape_session"
	tablePlan       = "pricing_plan"
	tableFeature    = "plan_feature"
)

// SchemaSQL defines the pricewatch tables.
// Foreign keys are plain string ids so rows decode without record links.
const SchemaSQL = `
    DEFINE TABLE IF NOT EXISTS competitor SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS name ON competitor TYPE string;
    DEFINE FIELD IF NOT EXISTS pricing_page_url ON competitor TYPE string;
    DEFINE FIELD IF NOT EXISTS created ON competitor TYPE datetime DEFAULT time::now();

    DEFINE TABLE IF NOT EXISTS scrape_session SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS competitor_id ON scrape_session TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON scrape_session TYPE string
        ASSERT $value IN ["pending", "success", "failed"];
    DEFINE FIELD IF NOT EXISTS stage ON scrape_session TYPE string DEFAULT "queued";
    DEFINE FIELD IF NOT EXISTS scraped_at ON scrape_session TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS error_message ON scrape_session TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS finished_at ON scrape_session TYPE option<datetime>;
    DEFINE INDEX IF NOT EXISTS session_status ON scrape_session FIELDS status;

    DEFINE TABLE IF NOT EXISTS pricing_plan SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS scrape_session_id ON pricing_plan TYPE string;
    DEFINE FIELD IF NOT EXISTS competitor_id ON pricing_plan TYPE string;
    DEFINE FIELD IF NOT EXISTS plan_name ON pricing_plan TYPE string;
    DEFINE FIELD IF NOT EXISTS price ON pricing_plan TYPE option<float>;
    DEFINE FIELD IF NOT EXISTS currency ON pricing_plan TYPE string DEFAULT "USD";
    DEFINE FIELD IF NOT EXISTS billing_cycle ON pricing_plan TYPE string
        ASSERT $value IN ["monthly", "annually", "one_time"];
    DEFINE FIELD IF NOT EXISTS description ON pricing_plan TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS is_current ON pricing_plan TYPE bool DEFAULT true;
    DEFINE FIELD IF NOT EXISTS created_at ON pricing_plan TYPE datetime DEFAULT time::now();
    DEFINE INDEX IF NOT EXISTS plan_competitor_current ON pricing_plan FIELDS competitor_id, is_current;

    DEFINE TABLE IF NOT EXISTS plan_feature SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS plan_id ON plan_feature TYPE string;
    DEFINE FIELD IF NOT EXISTS feature_text ON plan_feature TYPE string;
    DEFINE FIELD IF NOT EXISTS position ON plan_feature TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS is_current ON plan_feature TYPE bool DEFAULT true;
    DEFINE INDEX IF NOT EXISTS feature_plan ON plan_feature FIELDS plan_id;
`

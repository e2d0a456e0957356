package database

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
    identity VARCHAR(191) PRIMARY KEY,
    credits INT NOT NULL DEFAULT 0,
    payment_customer_id VARCHAR(255) NULL,
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL,
    CONSTRAINT chk_accounts_credits CHECK (credits >= 0)
)`,
	`CREATE TABLE IF NOT EXISTS assets (
    id CHAR(36) PRIMARY KEY,
    owner VARCHAR(191) NOT NULL,
    storage_handle VARCHAR(512) NOT NULL,
    content_type VARCHAR(64) NOT NULL,
    width INT NOT NULL DEFAULT 0,
    height INT NOT NULL DEFAULT 0,
    size_bytes BIGINT NOT NULL DEFAULT 0,
    is_generated BOOLEAN NOT NULL DEFAULT FALSE,
    original_id CHAR(36) NULL,
    generation_status VARCHAR(16) NULL,
    generation_error TEXT NULL,
    generation_attempts INT NOT NULL DEFAULT 0,
    credit_held BOOLEAN NOT NULL DEFAULT FALSE,
    sharing_enabled BOOLEAN NOT NULL DEFAULT TRUE,
    share_expires_at DATETIME(6) NULL,
    is_featured BOOLEAN NOT NULL DEFAULT FALSE,
    featured_at DATETIME(6) NULL,
    is_disabled_by_admin BOOLEAN NOT NULL DEFAULT FALSE,
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL,
    UNIQUE KEY uniq_assets_original (original_id),
    KEY idx_assets_owner (owner, created_at),
    KEY idx_assets_status (generation_status, updated_at),
    KEY idx_assets_featured (is_featured, featured_at)
)`,
	`CREATE TABLE IF NOT EXISTS payments (
    order_id VARCHAR(191) PRIMARY KEY,
    owner VARCHAR(191) NOT NULL,
    provider VARCHAR(32) NOT NULL,
    provider_ref VARCHAR(191) NULL,
    amount_minor BIGINT NOT NULL,
    currency VARCHAR(8) NOT NULL,
    credits INT NOT NULL,
    status VARCHAR(16) NOT NULL,
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL,
    KEY idx_payments_owner (owner),
    KEY idx_payments_provider_ref (provider_ref)
)`,
	`CREATE TABLE IF NOT EXISTS billing_settings (
    id INT PRIMARY KEY,
    pack_price_minor BIGINT NOT NULL,
    currency VARCHAR(8) NOT NULL,
    credits_per_pack INT NOT NULL,
    refund_on_failure BOOLEAN NOT NULL,
    free_trial_credits INT NOT NULL,
    updated_at DATETIME(6) NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS checkout_sessions (
    id CHAR(36) PRIMARY KEY,
    owner VARCHAR(191) NOT NULL,
    quantity INT NOT NULL,
    status VARCHAR(16) NOT NULL,
    provider_session_id VARCHAR(255) NULL,
    url TEXT NULL,
    client_secret TEXT NULL,
    error TEXT NULL,
    created_at DATETIME(6) NOT NULL,
    completed_at DATETIME(6) NULL,
    KEY idx_checkout_owner (owner)
)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
    identity TEXT PRIMARY KEY,
    credits INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
    payment_customer_id TEXT NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS assets (
    id TEXT PRIMARY KEY,
    owner TEXT NOT NULL,
    storage_handle TEXT NOT NULL,
    content_type TEXT NOT NULL,
    width INTEGER NOT NULL DEFAULT 0,
    height INTEGER NOT NULL DEFAULT 0,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    is_generated BOOLEAN NOT NULL DEFAULT 0,
    original_id TEXT NULL,
    generation_status TEXT NULL,
    generation_error TEXT NULL,
    generation_attempts INTEGER NOT NULL DEFAULT 0,
    credit_held BOOLEAN NOT NULL DEFAULT 0,
    sharing_enabled BOOLEAN NOT NULL DEFAULT 1,
    share_expires_at DATETIME NULL,
    is_featured BOOLEAN NOT NULL DEFAULT 0,
    featured_at DATETIME NULL,
    is_disabled_by_admin BOOLEAN NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_assets_original ON assets (original_id)`,
	`CREATE INDEX IF NOT EXISTS idx_assets_owner ON assets (owner, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_assets_status ON assets (generation_status, updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_assets_featured ON assets (is_featured, featured_at)`,
	`CREATE TABLE IF NOT EXISTS payments (
    order_id TEXT PRIMARY KEY,
    owner TEXT NOT NULL,
    provider TEXT NOT NULL,
    provider_ref TEXT NULL,
    amount_minor INTEGER NOT NULL,
    currency TEXT NOT NULL,
    credits INTEGER NOT NULL,
    status TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_owner ON payments (owner)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_provider_ref ON payments (provider_ref)`,
	`CREATE TABLE IF NOT EXISTS billing_settings (
    id INTEGER PRIMARY KEY,
    pack_price_minor INTEGER NOT NULL,
    currency TEXT NOT NULL,
    credits_per_pack INTEGER NOT NULL,
    refund_on_failure BOOLEAN NOT NULL,
    free_trial_credits INTEGER NOT NULL,
    updated_at DATETIME NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS checkout_sessions (
    id TEXT PRIMARY KEY,
    owner TEXT NOT NULL,
    quantity INTEGER NOT NULL,
    status TEXT NOT NULL,
    provider_session_id TEXT NULL,
    url TEXT NULL,
    client_secret TEXT NULL,
    error TEXT NULL,
    created_at DATETIME NOT NULL,
    completed_at DATETIME NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_checkout_owner ON checkout_sessions (owner)`,
}

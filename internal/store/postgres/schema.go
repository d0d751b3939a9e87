package postgres

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id TEXT PRIMARY KEY,
	sku TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	type TEXT NOT NULL,
	partner TEXT NOT NULL,
	price NUMERIC(12,2) NOT NULL,
	attributes JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS baskets (
	id BIGSERIAL PRIMARY KEY,
	site JSONB NOT NULL,
	owner JSONB,
	status TEXT NOT NULL,
	currency TEXT NOT NULL,
	lines JSONB NOT NULL DEFAULT '[]',
	attributes JSONB,
	voucher_codes JSONB,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS offers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	partner TEXT NOT NULL,
	start_at TIMESTAMPTZ,
	end_at TIMESTAMPTZ,
	email_domains JSONB,
	user_email TEXT NOT NULL DEFAULT '',
	condition JSONB NOT NULL,
	benefit JSONB NOT NULL,
	consumption TEXT NOT NULL,
	max_global_applications INTEGER NOT NULL DEFAULT 0,
	num_applications INTEGER NOT NULL DEFAULT 0,
	max_discount NUMERIC(12,2),
	total_discount NUMERIC(14,5) NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_offers_partner_type ON offers(partner, type);

CREATE TABLE IF NOT EXISTS vouchers (
	code TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	usage TEXT NOT NULL,
	start_at TIMESTAMPTZ NOT NULL,
	end_at TIMESTAMPTZ NOT NULL,
	offer_ids JSONB NOT NULL,
	num_orders INTEGER NOT NULL DEFAULT 0,
	max_uses INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS voucher_applications (
	id BIGSERIAL PRIMARY KEY,
	code TEXT NOT NULL REFERENCES vouchers(code),
	username TEXT NOT NULL,
	order_number TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_voucher_applications_code ON voucher_applications(code);

CREATE TABLE IF NOT EXISTS offer_assignments (
	id TEXT PRIMARY KEY,
	code TEXT NOT NULL REFERENCES vouchers(code),
	user_email TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (code, user_email)
);

CREATE TABLE IF NOT EXISTS orders (
	number TEXT PRIMARY KEY,
	basket_id BIGINT NOT NULL UNIQUE REFERENCES baskets(id),
	site JSONB NOT NULL,
	owner JSONB NOT NULL,
	status TEXT NOT NULL,
	currency TEXT NOT NULL,
	subtotal NUMERIC(12,2) NOT NULL,
	total_discount NUMERIC(12,2) NOT NULL,
	total NUMERIC(12,2) NOT NULL,
	payment JSONB,
	lines JSONB NOT NULL,
	discounts JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS refunds (
	id TEXT PRIMARY KEY,
	order_number TEXT NOT NULL REFERENCES orders(number),
	username TEXT NOT NULL,
	status TEXT NOT NULL,
	currency TEXT NOT NULL,
	total_credit_excl_tax NUMERIC(12,2) NOT NULL,
	lines JSONB NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_refunds_order ON refunds(order_number);

CREATE TABLE IF NOT EXISTS enrollment_codes (
	code TEXT PRIMARY KEY,
	order_number TEXT NOT NULL,
	order_line_id TEXT NOT NULL,
	course_key TEXT NOT NULL,
	seat_type TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id TEXT PRIMARY KEY,
	partner TEXT NOT NULL,
	actor_username TEXT NOT NULL,
	actor_role TEXT NOT NULL,
	action TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	detail TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_logs_partner_time ON audit_logs(partner, created_at);

CREATE TABLE IF NOT EXISTS app_users (
	username TEXT PRIMARY KEY,
	password TEXT NOT NULL,
	role TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

package db

// schema covers the tables owned by the settlement engine plus the columns it reads
// from the surrounding application (clinics, patients, appointments).
var schema = []string{
	`CREATE TABLE IF NOT EXISTS clinics (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		gstin TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS patients (
		id TEXT PRIMARY KEY,
		clinic_id BIGINT NOT NULL REFERENCES clinics(id),
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id TEXT PRIMARY KEY,
		clinic_id BIGINT NOT NULL REFERENCES clinics(id),
		patient_id TEXT NOT NULL REFERENCES patients(id),
		status TEXT NOT NULL DEFAULT 'Scheduled',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS medicines (
		id BIGSERIAL PRIMARY KEY,
		clinic_id BIGINT NOT NULL REFERENCES clinics(id),
		name TEXT NOT NULL,
		generic_name TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		manufacturer TEXT NOT NULL DEFAULT '',
		gst_rate NUMERIC(5,2) NOT NULL DEFAULT 0 CHECK (gst_rate >= 0),
		min_stock_level BIGINT NOT NULL DEFAULT 0 CHECK (min_stock_level >= 0),
		total_stock_in_units BIGINT NOT NULL DEFAULT 0 CHECK (total_stock_in_units >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS medicine_batches (
		seq BIGSERIAL PRIMARY KEY,
		medicine_id BIGINT NOT NULL REFERENCES medicines(id),
		batch_number TEXT NOT NULL,
		pack_quantity BIGINT NOT NULL CHECK (pack_quantity >= 0),
		pack_size BIGINT NOT NULL CHECK (pack_size > 0),
		loose_quantity BIGINT NOT NULL CHECK (loose_quantity >= 0),
		expiry_date DATE NOT NULL,
		purchase_rate BIGINT NOT NULL DEFAULT 0,
		selling_rate BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT medicine_batches_medicine_batch_key UNIQUE (medicine_id, batch_number)
	)`,
	`CREATE INDEX IF NOT EXISTS medicine_batches_fifo_idx ON medicine_batches (medicine_id, expiry_date, seq)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id BIGSERIAL PRIMARY KEY,
		medicine_id BIGINT NOT NULL REFERENCES medicines(id),
		batch_number TEXT NOT NULL,
		kind TEXT NOT NULL,
		delta_units BIGINT NOT NULL,
		balance_units BIGINT NOT NULL,
		ref_type TEXT NOT NULL DEFAULT '',
		ref_id TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		actor_id BIGINT,
		posted_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS stock_movements_medicine_idx ON stock_movements (medicine_id, posted_at, id)`,
	`CREATE TABLE IF NOT EXISTS bills (
		id UUID PRIMARY KEY,
		bill_number TEXT NOT NULL UNIQUE,
		clinic_id BIGINT NOT NULL REFERENCES clinics(id),
		patient_id TEXT NOT NULL,
		patient_name TEXT NOT NULL DEFAULT '',
		sub_total BIGINT NOT NULL,
		total_amount BIGINT NOT NULL,
		payment_mode TEXT NOT NULL,
		appointment_id TEXT,
		idempotency_key TEXT,
		created_by BIGINT,
		created_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT bills_idempotency_key UNIQUE (clinic_id, idempotency_key)
	)`,
	`CREATE TABLE IF NOT EXISTS bill_items (
		bill_id UUID NOT NULL REFERENCES bills(id),
		position INT NOT NULL,
		item_type TEXT NOT NULL,
		medicine_id BIGINT,
		batch_number TEXT,
		description TEXT NOT NULL,
		quantity BIGINT NOT NULL,
		rate BIGINT NOT NULL,
		amount BIGINT NOT NULL,
		gst_rate NUMERIC(5,2) NOT NULL DEFAULT 0,
		PRIMARY KEY (bill_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS bill_tax_details (
		bill_id UUID NOT NULL REFERENCES bills(id),
		rate NUMERIC(5,2) NOT NULL,
		taxable_amount BIGINT NOT NULL,
		cgst BIGINT NOT NULL,
		sgst BIGINT NOT NULL,
		PRIMARY KEY (bill_id, rate)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		actor_id BIGINT,
		clinic_id BIGINT,
		action TEXT NOT NULL,
		entity TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		meta JSONB,
		occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

package sqlite

// Dates are stored as YYYY-MM-DD text, timestamps as RFC3339 text and GST rates as
// decimal text so that values round-trip exactly.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS clinics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		gstin TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE TABLE IF NOT EXISTS patients (
		id TEXT PRIMARY KEY,
		clinic_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		FOREIGN KEY(clinic_id) REFERENCES clinics(id)
	);`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id TEXT PRIMARY KEY,
		clinic_id INTEGER NOT NULL,
		patient_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'Scheduled',
		updated_at TEXT NOT NULL DEFAULT '',
		FOREIGN KEY(clinic_id) REFERENCES clinics(id),
		FOREIGN KEY(patient_id) REFERENCES patients(id)
	);`,
	`CREATE TABLE IF NOT EXISTS medicines (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		clinic_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		generic_name TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		manufacturer TEXT NOT NULL DEFAULT '',
		gst_rate TEXT NOT NULL DEFAULT '0',
		min_stock_level INTEGER NOT NULL DEFAULT 0 CHECK (min_stock_level >= 0),
		total_stock_in_units INTEGER NOT NULL DEFAULT 0 CHECK (total_stock_in_units >= 0),
		updated_at TEXT NOT NULL DEFAULT '',
		FOREIGN KEY(clinic_id) REFERENCES clinics(id)
	);`,
	`CREATE TABLE IF NOT EXISTS medicine_batches (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		medicine_id INTEGER NOT NULL,
		batch_number TEXT NOT NULL,
		pack_quantity INTEGER NOT NULL CHECK (pack_quantity >= 0),
		pack_size INTEGER NOT NULL CHECK (pack_size > 0),
		loose_quantity INTEGER NOT NULL CHECK (loose_quantity >= 0),
		expiry_date TEXT NOT NULL,
		purchase_rate INTEGER NOT NULL DEFAULT 0,
		selling_rate INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		UNIQUE(medicine_id, batch_number),
		FOREIGN KEY(medicine_id) REFERENCES medicines(id)
	);`,
	`CREATE INDEX IF NOT EXISTS medicine_batches_fifo_idx ON medicine_batches (medicine_id, expiry_date, seq);`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		medicine_id INTEGER NOT NULL,
		batch_number TEXT NOT NULL,
		kind TEXT NOT NULL,
		delta_units INTEGER NOT NULL,
		balance_units INTEGER NOT NULL,
		ref_type TEXT NOT NULL DEFAULT '',
		ref_id TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		actor_id INTEGER NOT NULL DEFAULT 0,
		posted_at TEXT NOT NULL,
		FOREIGN KEY(medicine_id) REFERENCES medicines(id)
	);`,
	`CREATE TABLE IF NOT EXISTS bills (
		id TEXT PRIMARY KEY,
		bill_number TEXT NOT NULL UNIQUE,
		clinic_id INTEGER NOT NULL,
		patient_id TEXT NOT NULL,
		patient_name TEXT NOT NULL DEFAULT '',
		sub_total INTEGER NOT NULL,
		total_amount INTEGER NOT NULL,
		payment_mode TEXT NOT NULL,
		appointment_id TEXT,
		idempotency_key TEXT,
		created_by INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		UNIQUE(clinic_id, idempotency_key),
		FOREIGN KEY(clinic_id) REFERENCES clinics(id)
	);`,
	`CREATE TABLE IF NOT EXISTS bill_items (
		bill_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		item_type TEXT NOT NULL,
		medicine_id INTEGER,
		batch_number TEXT,
		description TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		rate INTEGER NOT NULL,
		amount INTEGER NOT NULL,
		gst_rate TEXT NOT NULL DEFAULT '0',
		PRIMARY KEY (bill_id, position),
		FOREIGN KEY(bill_id) REFERENCES bills(id)
	);`,
	`CREATE TABLE IF NOT EXISTS bill_tax_details (
		bill_id TEXT NOT NULL,
		rate TEXT NOT NULL,
		taxable_amount INTEGER NOT NULL,
		cgst INTEGER NOT NULL,
		sgst INTEGER NOT NULL,
		PRIMARY KEY (bill_id, rate),
		FOREIGN KEY(bill_id) REFERENCES bills(id)
	);`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		actor_id INTEGER NOT NULL DEFAULT 0,
		clinic_id INTEGER NOT NULL DEFAULT 0,
		action TEXT NOT NULL,
		entity TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		meta TEXT,
		occurred_at TEXT NOT NULL
	);`,
}

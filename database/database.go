package database

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"productfinder/logging"
	"productfinder/types"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// ErrProductNotFound is returned when a product lookup matches nothing.
var ErrProductNotFound = errors.New("product not found")

// Catalog is the relational store of products, their reference images and
// the feature vectors extracted from them.
type Catalog struct {
	db     *sql.DB
	driver string
}

// Stats summarizes the catalog contents.
type Stats struct {
	Products     int
	Entries      int
	WithFeatures int
}

// Open connects to a sqlite3 or postgres catalog and creates or migrates
// the schema.
func Open(driver, dsn string) (*Catalog, error) {
	switch driver {
	case "sqlite3", "postgres":
	default:
		return nil, fmt.Errorf("unsupported catalog driver %q (use sqlite3 or postgres)", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("can't open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("can't connect to database: %w", err)
	}
	if driver == "sqlite3" {
		// SQLite allows a single writer; serialize through one connection.
		db.SetMaxOpenConns(1)
	}

	c := &Catalog{db: db, driver: driver}
	if err := c.Init(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the underlying connection pool.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Init creates the tables if they do not exist and adds columns missing
// from older schemas.
func (c *Catalog) Init() error {
	idType, blobType := "INTEGER PRIMARY KEY AUTOINCREMENT", "BLOB"
	if c.driver == "postgres" {
		idType, blobType = "BIGSERIAL PRIMARY KEY", "BYTEA"
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS products (
			id %s,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			price TEXT NOT NULL DEFAULT '0'
		)`, idType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS entries (
			id %s,
			product_id BIGINT NOT NULL REFERENCES products(id),
			storage_key TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL
		)`, idType),
		`CREATE INDEX IF NOT EXISTS idx_entries_product ON entries(product_id)`,
	}
	for _, s := range stmts {
		if _, err := c.db.Exec(s); err != nil {
			return fmt.Errorf("error creating schema: %w", err)
		}
	}

	for _, col := range []struct{ name, typ string }{
		{"features", blobType},
		{"feature_fingerprint", "TEXT"},
	} {
		exists, err := c.hasColumn("entries", col.name)
		if err != nil {
			return fmt.Errorf("error checking for %s column: %w", col.name, err)
		}
		if exists {
			continue
		}
		if _, err := c.db.Exec(fmt.Sprintf("ALTER TABLE entries ADD COLUMN %s %s", col.name, col.typ)); err != nil {
			return fmt.Errorf("error adding %s column: %w", col.name, err)
		}
		logging.DebugLog("Added '%s' column to existing catalog schema", col.name)
	}
	return nil
}

func (c *Catalog) hasColumn(table, column string) (bool, error) {
	var n int
	var err error
	if c.driver == "postgres" {
		err = c.db.QueryRow(`SELECT COUNT(*) FROM information_schema.columns WHERE table_name = $1 AND column_name = $2`,
			table, column).Scan(&n)
	} else {
		err = c.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM pragma_table_info('%s') WHERE name = ?", table), column).Scan(&n)
	}
	return n > 0, err
}

// rebind rewrites ? placeholders to $n for postgres.
func (c *Catalog) rebind(q string) string {
	if c.driver != "postgres" {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// AddProduct stores p and returns its id.
func (c *Catalog) AddProduct(ctx context.Context, p types.Product) (int64, error) {
	var id int64
	err := c.db.QueryRowContext(ctx,
		c.rebind(`INSERT INTO products (name, description, price) VALUES (?, ?, ?) RETURNING id`),
		p.Name, p.Description, p.Price.String()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("can't save product %q: %w", p.Name, err)
	}
	return id, nil
}

// FindProductByName returns the product with the given name.
func (c *Catalog) FindProductByName(ctx context.Context, name string) (*types.Product, error) {
	return c.scanProduct(c.db.QueryRowContext(ctx,
		c.rebind(`SELECT id, name, description, price FROM products WHERE name = ?`), name))
}

// Product returns the product with the given id.
func (c *Catalog) Product(ctx context.Context, id int64) (*types.Product, error) {
	return c.scanProduct(c.db.QueryRowContext(ctx,
		c.rebind(`SELECT id, name, description, price FROM products WHERE id = ?`), id))
}

func (c *Catalog) scanProduct(row *sql.Row) (*types.Product, error) {
	var (
		p     types.Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &price); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("can't read product: %w", err)
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("invalid price %q for product %d: %w", price, p.ID, err)
	}
	p.Price = d
	return &p, nil
}

// EnsureProduct returns the id of the product named name, creating it when
// it does not exist.
func (c *Catalog) EnsureProduct(ctx context.Context, name string) (int64, error) {
	p, err := c.FindProductByName(ctx, name)
	if err == nil {
		return p.ID, nil
	}
	if !errors.Is(err, ErrProductNotFound) {
		return 0, err
	}
	return c.AddProduct(ctx, types.Product{Name: name, Price: decimal.Zero})
}

// AddEntry registers a reference image of a product.
func (c *Catalog) AddEntry(ctx context.Context, productID int64, storageKey string) (int64, error) {
	var id int64
	err := c.db.QueryRowContext(ctx,
		c.rebind(`INSERT INTO entries (product_id, storage_key, created_at) VALUES (?, ?, ?) RETURNING id`),
		productID, storageKey, time.Now().UTC().Format(time.RFC3339)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("can't save entry %s: %w", storageKey, err)
	}
	return id, nil
}

// EntryExists reports whether storageKey is already registered.
func (c *Catalog) EntryExists(ctx context.Context, storageKey string) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx, c.rebind(`SELECT COUNT(*) FROM entries WHERE storage_key = ?`), storageKey).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("database error for %s: %w", storageKey, err)
	}
	return n > 0, nil
}

// Entries lists catalog entries in id order, leaving out every entry whose
// product is in exclude.
func (c *Catalog) Entries(ctx context.Context, exclude map[int64]bool) ([]types.CatalogEntry, error) {
	q := `SELECT id, product_id, storage_key FROM entries`
	var args []interface{}
	if len(exclude) > 0 {
		ids := make([]int64, 0, len(exclude))
		for id, skip := range exclude {
			if skip {
				ids = append(ids, id)
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		if len(ids) > 0 {
			q += ` WHERE product_id NOT IN (?` + strings.Repeat(`, ?`, len(ids)-1) + `)`
			for _, id := range ids {
				args = append(args, id)
			}
		}
	}
	q += ` ORDER BY id`

	rows, err := c.db.QueryContext(ctx, c.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("can't list entries: %w", err)
	}
	defer rows.Close()

	var out []types.CatalogEntry
	for rows.Next() {
		var e types.CatalogEntry
		if err := rows.Scan(&e.EntryID, &e.ProductID, &e.StorageKey); err != nil {
			return nil, fmt.Errorf("can't scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveFeatures stores the vector extracted from an entry under the pipeline
// fingerprint it was produced with.
func (c *Catalog) SaveFeatures(ctx context.Context, entryID int64, fingerprint string, vec []float64) error {
	_, err := c.db.ExecContext(ctx,
		c.rebind(`UPDATE entries SET features = ?, feature_fingerprint = ? WHERE id = ?`),
		encodeVector(vec), fingerprint, entryID)
	if err != nil {
		return fmt.Errorf("can't store features for entry %d: %w", entryID, err)
	}
	return nil
}

// ResetFeatures drops the stored vector of the entry under storageKey, so
// the next index build extracts it again.
func (c *Catalog) ResetFeatures(ctx context.Context, storageKey string) error {
	_, err := c.db.ExecContext(ctx,
		c.rebind(`UPDATE entries SET features = NULL, feature_fingerprint = NULL WHERE storage_key = ?`), storageKey)
	if err != nil {
		return fmt.Errorf("can't reset features for %s: %w", storageKey, err)
	}
	return nil
}

// StoredFeatures returns the stored vectors produced under fingerprint,
// keyed by entry id.
func (c *Catalog) StoredFeatures(ctx context.Context, fingerprint string) (map[int64][]float64, error) {
	rows, err := c.db.QueryContext(ctx,
		c.rebind(`SELECT id, features FROM entries WHERE feature_fingerprint = ? AND features IS NOT NULL`), fingerprint)
	if err != nil {
		return nil, fmt.Errorf("can't read stored features: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]float64)
	for rows.Next() {
		var (
			id  int64
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("can't scan stored features: %w", err)
		}
		vec, err := decodeVector(raw)
		if err != nil {
			logging.LogWarning("Ignoring stored features of entry %d: %v", id, err)
			continue
		}
		out[id] = vec
	}
	return out, rows.Err()
}

// GetStats counts products, entries and entries with stored features.
func (c *Catalog) GetStats(ctx context.Context) (*Stats, error) {
	var s Stats
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&s.Products); err != nil {
		return nil, fmt.Errorf("failed to count products: %w", err)
	}
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&s.Entries); err != nil {
		return nil, fmt.Errorf("failed to count entries: %w", err)
	}
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE features IS NOT NULL`).Scan(&s.WithFeatures); err != nil {
		return nil, fmt.Errorf("failed to count stored features: %w", err)
	}
	return &s, nil
}

func encodeVector(v []float64) []byte {
	b := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(x))
	}
	return b
}

func decodeVector(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("feature blob size is not a multiple of 8 bytes: %d", len(b))
	}
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return v, nil
}

// Package sqldbi implements the biostore Dbi over database/sql. One Dbi owns
// one pool limited to a single connection, so statement order is call order
// and every sub-Dbi serializes through the same mutex.
package sqldbi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"sync"
	"time"

	"biostore/internal/infra/persistence/sqldbi/schema"
	"biostore/internal/metrics"
	"biostore/pkg/dbi"
	"biostore/pkg/domain"
)

// Meta keys written by the store itself.
const (
	metaVersion = "version"
	metaCreated = "created"
)

// ErrRolledBack is returned by the outermost StopOperationsBlock when a
// block inside it failed and the transaction was rolled back.
var ErrRolledBack = errors.New("operations block rolled back")

// Option configures a Dbi.
type Option func(*Dbi)

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dbi) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(d *Dbi) { d.metrics = m }
}

// Dbi is the database/sql implementation of dbi.Dbi.
type Dbi struct {
	dialect   Dialect
	factoryID string
	logger    *slog.Logger
	metrics   *metrics.Recorder

	mu       sync.Mutex
	db       *sql.DB
	state    dbi.State
	url      string
	props    map[string]string
	readOnly bool

	assemblyMethod      string
	assemblyCompression string

	tx      *sql.Tx
	blocks  int
	failed  bool
	commits int64

	objects   *objectDbi
	relations *relationsDbi
	sequences *sequenceDbi
	msas      *msaDbi
	assembly  *assemblyDbi
	features  *featureDbi
	variants  *variantDbi
	attrs     *attributeDbi
	raw       *rawDataDbi
}

var _ dbi.Dbi = (*Dbi)(nil)

// New returns an uninitialized Dbi for dialect. factoryID is reported in DbiRef.
func New(dialect Dialect, factoryID string, opts ...Option) *Dbi {
	d := &Dbi{dialect: dialect, factoryID: factoryID, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	d.objects = &objectDbi{d: d}
	d.relations = &relationsDbi{d: d}
	d.sequences = &sequenceDbi{d: d}
	d.msas = &msaDbi{d: d}
	d.assembly = &assemblyDbi{d: d}
	d.features = &featureDbi{d: d}
	d.variants = &variantDbi{d: d}
	d.attrs = &attributeDbi{d: d}
	d.raw = &rawDataDbi{d: d}
	return d
}

// Init opens the database named by the url property, creating it when the
// create property is "true", and brings the schema up to date.
func (d *Dbi) Init(ctx context.Context, props map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != dbi.StateClosed {
		return domain.Preconditionf("dbi %s is already initialized", d.url)
	}
	url := props[dbi.PropURL]
	if url == "" {
		return domain.Preconditionf("missing %q init property", dbi.PropURL)
	}
	create := props[dbi.PropCreate] == "true"
	readOnly := props[dbi.PropReadOnly] == "true"
	if create && readOnly {
		return domain.Preconditionf("cannot create read-only database %s", url)
	}
	if !create && d.dialect.Exists != nil && !d.dialect.Exists(url) {
		return fmt.Errorf("database %s: %w", url, domain.ErrNotFound)
	}

	d.state = dbi.StateStarting
	db, err := d.dialect.open(url)
	if err != nil {
		d.state = dbi.StateClosed
		return fmt.Errorf("open %s: %w", d.dialect.Name, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	d.db = db
	d.url = url
	d.readOnly = readOnly
	d.props = maps.Clone(props)
	if err := d.boot(ctx, props); err != nil {
		_ = db.Close()
		d.db = nil
		d.state = dbi.StateClosed
		return err
	}
	d.state = dbi.StateReady
	d.metrics.DbiOpened(1)
	d.logger.Debug("dbi initialized",
		slog.String("factory", d.factoryID),
		slog.String("url", url),
		slog.Bool("read_only", readOnly),
		slog.String("assembly_method", d.assemblyMethod),
		slog.String("assembly_compression", d.assemblyCompression))
	return nil
}

func (d *Dbi) boot(ctx context.Context, props map[string]string) error {
	c := d.poolConn()
	for _, stmt := range d.dialect.Setup {
		if _, err := c.q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("setup %q: %w", stmt, err)
		}
	}
	if !d.readOnly {
		if err := d.populateSchema(ctx, c); err != nil {
			return err
		}
	} else if err := d.checkVersion(ctx, c); err != nil {
		return err
	}
	if err := d.resolveStrategies(ctx, c, props); err != nil {
		return err
	}
	for _, stmt := range d.dialect.ReadOnlySetup {
		if !d.readOnly {
			break
		}
		if _, err := c.q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("setup %q: %w", stmt, err)
		}
	}
	return nil
}

// Shutdown closes the connection. An operations block left open is rolled
// back and reported.
func (d *Dbi) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != dbi.StateReady {
		return fmt.Errorf("shutdown: %w", domain.ErrNotInitialized)
	}
	d.state = dbi.StateStopping
	var errs []error
	if d.tx != nil {
		errs = append(errs, domain.Preconditionf("shutdown with %d open operations blocks", d.blocks))
		if err := d.tx.Rollback(); err != nil {
			errs = append(errs, fmt.Errorf("rollback: %w", err))
		}
		d.metrics.Rollback()
		d.tx, d.blocks, d.failed = nil, 0, false
	}
	if err := d.flush(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := d.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", d.dialect.Name, err))
	}
	d.db = nil
	d.state = dbi.StateClosed
	d.metrics.DbiOpened(-1)
	d.logger.Debug("dbi shut down", slog.String("url", d.url))
	return errors.Join(errs...)
}

// Flush checks the connection and lets the backend synchronize its files.
func (d *Dbi) Flush(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkReady(); err != nil {
		return err
	}
	return d.flush(ctx)
}

// flush is a no-op inside an operations block: the transaction holds the
// only connection.
func (d *Dbi) flush(ctx context.Context) error {
	if d.tx != nil {
		return nil
	}
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	if d.dialect.Flush == "" || d.readOnly {
		return nil
	}
	if _, err := d.db.ExecContext(ctx, d.dialect.Flush); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

func (d *Dbi) IsInitialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == dbi.StateReady
}

func (d *Dbi) State() dbi.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Dbi) DbiRef() domain.DbiRef {
	return domain.DbiRef{FactoryID: d.factoryID, DbiID: d.DbiID()}
}

func (d *Dbi) DbiID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

func (d *Dbi) FactoryID() string { return d.factoryID }

func (d *Dbi) InitProperties() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.props)
}

// MetaInfo returns the stored Meta table plus the connection facts.
func (d *Dbi) MetaInfo(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	err := d.read(ctx, "meta_info", func(c conn) error {
		rows, err := c.query(ctx, "SELECT name, value FROM Meta")
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var k, v string
			if err := rows.Scan(&k, &v); err != nil {
				return err
			}
			out[k] = v
		}
		out[dbi.PropURL] = d.url
		out["factory"] = d.factoryID
		out[dbi.PropAssemblyMethod] = d.assemblyMethod
		out[dbi.PropAssemblyCompression] = d.assemblyCompression
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Dbi) Features() []dbi.Feature {
	d.mu.Lock()
	defer d.mu.Unlock()
	fs := []dbi.Feature{
		dbi.FeatureReadSequence, dbi.FeatureReadMsa, dbi.FeatureReadAssembly,
		dbi.FeatureReadFeatures, dbi.FeatureReadVariants, dbi.FeatureReadAttributes,
		dbi.FeatureReadRawData, dbi.FeatureFolders,
	}
	if !d.readOnly {
		fs = append(fs,
			dbi.FeatureWriteSequence, dbi.FeatureWriteMsa, dbi.FeatureWriteAssembly,
			dbi.FeatureWriteFeatures, dbi.FeatureWriteVariants, dbi.FeatureWriteAttribute,
			dbi.FeatureWriteRawData)
	}
	if d.assemblyMethod == dbi.AssemblyMethodRTree {
		fs = append(fs, dbi.FeatureAssemblyRTree)
	}
	return fs
}

func (d *Dbi) IsReadOnly() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readOnly
}

// AssemblyStrategy reports the read storage and compression methods in effect.
func (d *Dbi) AssemblyStrategy() (method, compression string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.assemblyMethod, d.assemblyCompression
}

// PopulateDefaultSchema applies the DDL bundle. It is a no-op on a database
// that is already up to date.
func (d *Dbi) PopulateDefaultSchema(ctx context.Context) error {
	return d.write(ctx, "populate_schema", func(c conn) error {
		return d.populateSchema(ctx, c)
	})
}

func (d *Dbi) EntityTypeByID(id domain.EntityID) domain.DataType {
	return id.Type()
}

func (d *Dbi) Property(ctx context.Context, name, defaultValue string) (string, error) {
	value := defaultValue
	err := d.read(ctx, "get_property", func(c conn) error {
		v, ok, err := getMeta(ctx, c, name)
		if err == nil && ok {
			value = v
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

func (d *Dbi) SetProperty(ctx context.Context, name, value string) error {
	if name == metaVersion {
		return domain.Preconditionf("property %q is reserved", name)
	}
	return d.write(ctx, "set_property", func(c conn) error {
		return setMeta(ctx, c, name, value)
	})
}

func (d *Dbi) ObjectDbi() dbi.ObjectDbi                   { return d.objects }
func (d *Dbi) ObjectRelationsDbi() dbi.ObjectRelationsDbi { return d.relations }
func (d *Dbi) SequenceDbi() dbi.SequenceDbi               { return d.sequences }
func (d *Dbi) MsaDbi() dbi.MsaDbi                         { return d.msas }
func (d *Dbi) AssemblyDbi() dbi.AssemblyDbi               { return d.assembly }
func (d *Dbi) FeatureDbi() dbi.FeatureDbi                 { return d.features }
func (d *Dbi) VariantDbi() dbi.VariantDbi                 { return d.variants }
func (d *Dbi) AttributeDbi() dbi.AttributeDbi             { return d.attrs }
func (d *Dbi) RawDataDbi() dbi.RawDataDbi                 { return d.raw }

// DB exposes the underlying pool for integration tests.
func (d *Dbi) DB() *sql.DB { return d.db }

func (d *Dbi) checkReady() error {
	if d.state != dbi.StateReady {
		return domain.ErrNotInitialized
	}
	return nil
}

func (d *Dbi) poolConn() conn { return conn{q: d.db, dialect: &d.dialect} }

// current returns the active transaction or the pool. Callers hold d.mu.
func (d *Dbi) current() conn {
	if d.tx != nil {
		return conn{q: d.tx, dialect: &d.dialect}
	}
	return d.poolConn()
}

// read runs fn under the Dbi mutex.
func (d *Dbi) read(ctx context.Context, op string, fn func(c conn) error) (err error) {
	start := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() { d.metrics.Observe(ctx, op, err, time.Since(start)) }()
	if err := d.checkReady(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fn(d.current())
}

// write runs fn under the Dbi mutex inside the active operations block, or
// inside a transaction of its own when no block is open.
func (d *Dbi) write(ctx context.Context, op string, fn func(c conn) error) (err error) {
	start := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() { d.metrics.Observe(ctx, op, err, time.Since(start)) }()
	if err := d.checkReady(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if d.readOnly {
		return fmt.Errorf("%s: %w", op, domain.ErrReadOnly)
	}
	if d.tx != nil {
		if err := fn(d.current()); err != nil {
			d.failed = true
			return err
		}
		return nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", op, err)
	}
	if err := fn(conn{q: tx, dialect: &d.dialect}); err != nil {
		_ = tx.Rollback()
		d.metrics.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		d.metrics.Rollback()
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	d.commits++
	d.metrics.Commit()
	return nil
}

func getMeta(ctx context.Context, c conn, name string) (string, bool, error) {
	var v string
	err := c.queryRow(ctx, "SELECT value FROM Meta WHERE name = ?", name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read meta %s: %w", name, err)
	}
	return v, true, nil
}

func setMeta(ctx context.Context, c conn, name, value string) error {
	_, err := c.exec(ctx, "INSERT INTO Meta(name, value) VALUES(?, ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value", name, value)
	if err != nil {
		return fmt.Errorf("write meta %s: %w", name, err)
	}
	return nil
}

// upgrader migrates a database from version from to from+1.
type upgrader struct {
	from int
	fn   func(ctx context.Context, c conn) error
}

var upgraders = []upgrader{
	{from: 1, fn: func(ctx context.Context, c conn) error {
		_, err := c.exec(ctx, "ALTER TABLE Object ADD COLUMN trackable INTEGER NOT NULL DEFAULT 0")
		return err
	}},
}

func (d *Dbi) populateSchema(ctx context.Context, c conn) error {
	if err := c.applyDDL(ctx, d.dialect.DDL); err != nil {
		return fmt.Errorf("execute ddl: %w", err)
	}
	raw, ok, err := getMeta(ctx, c, metaVersion)
	if err != nil {
		return err
	}
	if !ok {
		if err := setMeta(ctx, c, metaVersion, strconv.Itoa(schema.Version)); err != nil {
			return err
		}
		if err := setMeta(ctx, c, metaCreated, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	} else {
		version, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("schema version %q: %w", raw, err)
		}
		if version > schema.Version {
			return fmt.Errorf("schema version %d is newer than supported %d: %w", version, schema.Version, domain.ErrUnsupported)
		}
		for _, u := range upgraders {
			if u.from < version {
				continue
			}
			if err := u.fn(ctx, c); err != nil {
				return fmt.Errorf("upgrade schema from %d: %w", u.from, err)
			}
			version = u.from + 1
			if err := setMeta(ctx, c, metaVersion, strconv.Itoa(version)); err != nil {
				return err
			}
			d.logger.Info("schema upgraded", slog.String("url", d.url), slog.Int("version", version))
		}
	}
	_, err = c.exec(ctx, "INSERT INTO Folder(path, vlocal, vglobal) VALUES(?, 1, 1) ON CONFLICT(path) DO NOTHING", domain.RootFolder)
	if err != nil {
		return fmt.Errorf("create root folder: %w", err)
	}
	return nil
}

func (d *Dbi) checkVersion(ctx context.Context, c conn) error {
	raw, ok, err := getMeta(ctx, c, metaVersion)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("read-only database %s has no schema: %w", d.url, domain.ErrPrecondition)
	}
	version, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("schema version %q: %w", raw, err)
	}
	if version != schema.Version {
		return fmt.Errorf("read-only database %s has schema version %d, want %d: %w", d.url, version, schema.Version, domain.ErrUnsupported)
	}
	return nil
}

// resolveStrategies fixes the assembly read strategy. A stored value always
// wins; a different requested value is logged and ignored.
func (d *Dbi) resolveStrategies(ctx context.Context, c conn, props map[string]string) error {
	method, err := d.resolveStrategy(ctx, c, dbi.PropAssemblyMethod, props[dbi.PropAssemblyMethod], dbi.AssemblyMethodMultiTable,
		dbi.AssemblyMethodSingleTable, dbi.AssemblyMethodMultiTable, dbi.AssemblyMethodRTree)
	if err != nil {
		return err
	}
	if method == dbi.AssemblyMethodRTree && !d.dialect.RTree {
		return fmt.Errorf("assembly method %s on %s: %w", method, d.dialect.Name, domain.ErrUnsupported)
	}
	compression, err := d.resolveStrategy(ctx, c, dbi.PropAssemblyCompression, props[dbi.PropAssemblyCompression], dbi.CompressionNone,
		dbi.CompressionNone, dbi.CompressionBits1)
	if err != nil {
		return err
	}
	d.assemblyMethod, d.assemblyCompression = method, compression
	if d.readOnly {
		return nil
	}
	return ensureReadTables(ctx, c, &d.dialect, method)
}

func (d *Dbi) resolveStrategy(ctx context.Context, c conn, key, requested, def string, allowed ...string) (string, error) {
	stored, ok, err := getMeta(ctx, c, key)
	if err != nil {
		return "", err
	}
	if ok {
		if requested != "" && requested != stored {
			d.logger.Warn("ignoring requested storage strategy, database already uses another",
				slog.String("url", d.url), slog.String("key", key),
				slog.String("requested", requested), slog.String("stored", stored))
		}
		return stored, nil
	}
	value := requested
	if value == "" {
		value = def
	}
	known := false
	for _, a := range allowed {
		known = known || a == value
	}
	if !known {
		return "", domain.Preconditionf("unknown %s %q", key, value)
	}
	if d.readOnly {
		return value, nil
	}
	return value, setMeta(ctx, c, key, value)
}

package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/miradorstack/mirador-aiops/internal/models"
)

//go:embed migrations
var migrations embed.FS

// SQLStore keeps incidents in Postgres or SQLite through sqlx.
type SQLStore struct {
	db     *sqlx.DB
	driver string
}

type incidentRow struct {
	ID          string          `db:"id"`
	ResourceID  string          `db:"resource_id"`
	MetricName  string          `db:"metric_name"`
	Value       decimal.Decimal `db:"value"`
	ObservedAt  int64           `db:"observed_at"`
	AnomalyKind string          `db:"anomaly_kind"`
	IsCritical  bool            `db:"is_critical"`
	Evidence    string          `db:"evidence"`
	CreatedAt   int64           `db:"created_at"`
}

// OpenSQL connects with driver ("postgres" or "sqlite") and optionally applies migrations.
func OpenSQL(ctx context.Context, driver, dsn string, runMigrations bool, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dsn == "" {
		return nil, fmt.Errorf("%s store requires a dsn", driver)
	}
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// modernc sqlite serialises writers; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{db: db, driver: driver}
	if runMigrations {
		if err := s.migrate(); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("incident store migrated", slog.String("driver", driver))
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	source, err := iofs.New(migrations, "migrations/"+s.driver)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	var m *migrate.Migrate
	switch s.driver {
	case "postgres":
		target, err := migratepg.WithInstance(s.db.DB, &migratepg.Config{MigrationsTable: "schema_migrations"})
		if err != nil {
			return fmt.Errorf("migration driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", source, "postgres", target)
		if err != nil {
			return fmt.Errorf("migrate instance: %w", err)
		}
	case "sqlite":
		target, err := migratesqlite.WithInstance(s.db.DB, &migratesqlite.Config{MigrationsTable: "schema_migrations"})
		if err != nil {
			return fmt.Errorf("migration driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", source, "sqlite", target)
		if err != nil {
			return fmt.Errorf("migrate instance: %w", err)
		}
	default:
		return fmt.Errorf("no migrations for driver %q", s.driver)
	}

	// m.Close would also close the shared *sql.DB, so it is left to Close.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Put inserts rec. An existing id is reported as ErrDuplicateID and left untouched.
func (s *SQLStore) Put(ctx context.Context, rec models.IncidentRecord) error {
	evidence, err := json.Marshal(models.TruncateEvidence(rec.Evidence))
	if err != nil {
		return fmt.Errorf("encode evidence: %w", err)
	}
	row := incidentRow{
		ID:          rec.ID,
		ResourceID:  rec.ResourceID,
		MetricName:  rec.MetricName,
		Value:       rec.Value,
		ObservedAt:  rec.ObservedAt.UnixNano(),
		AnomalyKind: rec.AnomalyKind,
		IsCritical:  rec.IsCritical,
		Evidence:    string(evidence),
		CreatedAt:   rec.CreatedAt.UnixNano(),
	}

	query := `INSERT INTO incidents (id, resource_id, metric_name, value, observed_at, anomaly_kind, is_critical, evidence, created_at)
		VALUES (:id, :resource_id, :metric_name, :value, :observed_at, :anomaly_kind, :is_critical, :evidence, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

// Scan returns every record, newest observation first.
func (s *SQLStore) Scan(ctx context.Context) ([]models.IncidentRecord, error) {
	var rows []incidentRow
	query := s.db.Rebind(`SELECT id, resource_id, metric_name, value, observed_at, anomaly_kind, is_critical, evidence, created_at
		FROM incidents ORDER BY observed_at DESC`)
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("scan incidents: %w", err)
	}

	out := make([]models.IncidentRecord, 0, len(rows))
	for _, row := range rows {
		evidence := []string{}
		if row.Evidence != "" {
			if err := json.Unmarshal([]byte(row.Evidence), &evidence); err != nil {
				return nil, fmt.Errorf("decode evidence for %s: %w", row.ID, err)
			}
		}
		out = append(out, models.IncidentRecord{
			ID:          row.ID,
			ResourceID:  row.ResourceID,
			MetricName:  row.MetricName,
			Value:       row.Value,
			ObservedAt:  time.Unix(0, row.ObservedAt).UTC(),
			AnomalyKind: row.AnomalyKind,
			IsCritical:  row.IsCritical,
			Evidence:    evidence,
			CreatedAt:   time.Unix(0, row.CreatedAt).UTC(),
		})
	}
	return out, nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

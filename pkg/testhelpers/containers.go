package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/modforge-io/modforge-platform/pkg/database"
	"github.com/modforge-io/modforge-platform/pkg/models"
)

// PostgresTestImage is the stock PostgreSQL image used for integration tests.
const PostgresTestImage = "postgres:16-alpine"

const (
	testUser     = "forge"
	testPassword = "test_password"
)

// TestDB holds a shared test database container and connection pool.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	ConnStr   string
	Host      string
	Port      int
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresTestImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "test_data",
			"POSTGRES_USER":     testUser,
			"POSTGRES_PASSWORD": testPassword,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/test_data?sslmode=disable",
		testUser, testPassword, host, port.Port())

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection with retry
	for i := 0; i < 10; i++ {
		if err := pool.Ping(ctx); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	return &TestDB{
		Container: container,
		Pool:      pool,
		ConnStr:   connStr,
		Host:      host,
		Port:      port.Int(),
	}, nil
}

// PlatformDB holds the control-plane database connection with migrations
// applied. Use this for testing handlers, services, and repositories against
// a real database.
type PlatformDB struct {
	DB      *database.DB
	ConnStr string
}

var (
	sharedPlatformDB     *PlatformDB
	sharedPlatformDBOnce sync.Once
	sharedPlatformDBErr  error
)

// GetPlatformDB returns a shared control-plane database for integration
// tests. The database has migrations applied and is reused across all tests.
func GetPlatformDB(t *testing.T) *PlatformDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	// Ensure test container is running first
	testDB := GetTestDB(t)

	sharedPlatformDBOnce.Do(func() {
		sharedPlatformDB, sharedPlatformDBErr = setupPlatformDB(testDB)
	})

	if sharedPlatformDBErr != nil {
		t.Fatalf("Failed to setup platform database: %v", sharedPlatformDBErr)
	}

	return sharedPlatformDB
}

func setupPlatformDB(testDB *TestDB) (*PlatformDB, error) {
	ctx := context.Background()

	// The stock image only creates POSTGRES_DB, so the control-plane
	// database is created on first use.
	if _, err := testDB.Pool.Exec(ctx, "CREATE DATABASE forge_platform_test"); err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return nil, fmt.Errorf("failed to create platform database: %w", err)
		}
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/forge_platform_test?sslmode=disable",
		testUser, testPassword, testDB.Host, testDB.Port)

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: 5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to platform database: %w", err)
	}

	// Run migrations using database/sql (required by golang-migrate)
	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, migrationsDir(), zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PlatformDB{
		DB:      db,
		ConnStr: connStr,
	}, nil
}

// migrationsDir locates the repository migrations directory from this file's
// position, so tests work regardless of the package they run in.
func migrationsDir() string {
	_, thisFile, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "migrations")
}

var tenantSeq struct {
	sync.Mutex
	n int
}

// NewTenantDatabase creates a fresh tenant database on the shared container
// and returns its connection details. Each call gets a uniquely named
// database, so tests exercising provisioning or schema migration do not
// interfere with each other.
func NewTenantDatabase(t *testing.T, label string) models.TenantDatabaseConfig {
	t.Helper()

	testDB := GetTestDB(t)
	ctx := context.Background()

	tenantSeq.Lock()
	tenantSeq.n++
	dbName := fmt.Sprintf("tenant_%s_%d", label, tenantSeq.n)
	tenantSeq.Unlock()

	if _, err := testDB.Pool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", dbName)); err != nil {
		t.Fatalf("Failed to create tenant database %s: %v", dbName, err)
	}

	return models.TenantDatabaseConfig{
		Host:     testDB.Host,
		Port:     testDB.Port,
		User:     testUser,
		Password: testPassword,
		Database: dbName,
		SSLMode:  "disable",
	}
}

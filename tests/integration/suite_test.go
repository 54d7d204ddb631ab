package integration

import (
	"context"
	"fmt"

	"github.com/stretchr/testify/suite"

	"github.com/udisondev/worldlink/internal/db"
)

// IntegrationSuite: базовый suite для интеграционных тестов.
// PostgreSQL контейнер создаётся один раз в TestMain, каждый suite получает
// изолированную schema через acquireSchema().
type IntegrationSuite struct {
	suite.Suite
	db  *db.DB
	ctx context.Context
}

// SetupSuite выполняется один раз перед всеми тестами в suite.
func (s *IntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	dsn := acquireSchema(s.T())

	if err := db.RunMigrations(s.ctx, dsn); err != nil {
		s.T().Fatalf("failed to run migrations: %v", err)
	}

	var err error
	s.db, err = db.New(s.ctx, dsn)
	if err != nil {
		s.T().Fatalf("failed to connect to database: %v", err)
	}
}

// SetupTest выполняется перед каждым тестом для очистки данных.
func (s *IntegrationSuite) SetupTest() {
	if err := s.cleanupTestData(); err != nil {
		s.T().Fatalf("failed to cleanup test data: %v", err)
	}
}

func (s *IntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *IntegrationSuite) cleanupTestData() error {
	if _, err := s.db.Pool().Exec(s.ctx, "TRUNCATE TABLE accounts"); err != nil {
		return fmt.Errorf("truncating test tables: %w", err)
	}
	return nil
}

package bootstrap

import (
	"errors"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/multibot/core/config"
	coredatabase "github.com/m3rciful/multibot/core/database"
	"github.com/m3rciful/multibot/core/logger"

	_ "github.com/glebarez/go-sqlite"
)

func TestMain(m *testing.M) {
	_ = logger.InitLogger(nil)
	os.Exit(m.Run())
}

func memConnect(_ coredatabase.Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func TestRunPipelineOrder(t *testing.T) {
	var steps []string

	res, err := Run(Options{
		Config: &coreconfig.Config{},
		LoggerInit: func(*coreconfig.Config) error {
			steps = append(steps, "logger")
			return nil
		},
		Connect: func(cfg coredatabase.Config) (*sqlx.DB, error) {
			steps = append(steps, "connect")
			return memConnect(cfg)
		},
		Migrate: func(_ coredatabase.Config, _ *sqlx.DB) error {
			steps = append(steps, "migrate")
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer res.DB.Close()

	want := []string{"logger", "connect", "migrate"}
	if len(steps) != len(want) {
		t.Fatalf("steps = %v, want %v", steps, want)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Fatalf("steps = %v, want %v", steps, want)
		}
	}
	if res.DB == nil {
		t.Fatal("expected a live database handle")
	}
}

func TestRunNilConfig(t *testing.T) {
	if _, err := Run(Options{}); err == nil {
		t.Fatal("expected an error for nil config")
	}
}

func TestRunMigrateFailureClosesDB(t *testing.T) {
	var db *sqlx.DB

	_, err := Run(Options{
		Config:     &coreconfig.Config{},
		LoggerInit: func(*coreconfig.Config) error { return nil },
		Connect: func(cfg coredatabase.Config) (*sqlx.DB, error) {
			var cerr error
			db, cerr = memConnect(cfg)
			return db, cerr
		},
		Migrate: func(_ coredatabase.Config, _ *sqlx.DB) error {
			return errors.New("ddl failed")
		},
	})
	if err == nil {
		t.Fatal("expected migration error to surface")
	}
	if pingErr := db.Ping(); pingErr == nil {
		t.Fatal("database handle should be closed after failed migrations")
	}
}

package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/t1plarnd/simplicity-dex/errors"
	"github.com/t1plarnd/simplicity-dex/settings"
	"github.com/t1plarnd/simplicity-dex/ulogger"
	"github.com/t1plarnd/simplicity-dex/util/usql"
)

// InitSQLDB opens the database named by storeURL. The scheme selects the
// engine: postgres, sqlite, or sqlitememory (a throwaway shared-cache
// in-memory database for tests).
func InitSQLDB(logger ulogger.Logger, storeURL *url.URL, tSettings *settings.Settings) (*usql.DB, error) {
	switch storeURL.Scheme {
	case "postgres":
		return InitPostgresDB(logger, storeURL, tSettings)
	case "sqlite", "sqlitememory":
		return InitSQLiteDB(logger, storeURL, tSettings)
	}

	return nil, errors.NewConfigurationError("db: unknown scheme: %s", storeURL.Scheme)
}

func InitPostgresDB(logger ulogger.Logger, storeURL *url.URL, tSettings *settings.Settings) (*usql.DB, error) {
	dbHost := storeURL.Hostname()
	dbPort, _ := strconv.Atoi(storeURL.Port())
	dbName := storeURL.Path[1:]
	dbUser := ""
	dbPassword := ""

	if storeURL.User != nil {
		dbUser = storeURL.User.Username()
		dbPassword, _ = storeURL.User.Password()
	}

	sslMode := "disable"
	if val, ok := storeURL.Query()["sslmode"]; ok && len(val) > 0 {
		sslMode = val[0]
	}

	dbInfo := fmt.Sprintf("user=%s password=%s dbname=%s sslmode=%s host=%s port=%d", dbUser, dbPassword, dbName, sslMode, dbHost, dbPort)

	db, err := usql.Open("postgres", dbInfo)
	if err != nil {
		return nil, errors.NewStorageError("failed to open postgres DB", err)
	}

	logger.Infof("Using postgres DB: %s@%s:%d/%s", dbUser, dbHost, dbPort, dbName)

	db.SetMaxIdleConns(tSettings.CoinStore.PostgresMaxIdleConns)
	db.SetMaxOpenConns(tSettings.CoinStore.PostgresMaxOpenConns)

	return db, nil
}

func InitSQLiteDB(logger ulogger.Logger, storeURL *url.URL, tSettings *settings.Settings) (*usql.DB, error) {
	var filename string

	var err error

	if storeURL.Scheme == "sqlitememory" {
		filename = fmt.Sprintf("file:%s?mode=memory&cache=shared", randomString(16))
	} else {
		folder := tSettings.DataFolder
		if err = os.MkdirAll(folder, 0755); err != nil {
			return nil, errors.NewStorageError("failed to create data folder %s", folder, err)
		}

		dbName := storeURL.Path[1:]

		filename, err = filepath.Abs(path.Join(folder, fmt.Sprintf("%s.db", dbName)))
		if err != nil {
			return nil, errors.NewStorageError("failed to get absolute path for sqlite DB", err)
		}

		/* Don't be tempted by a large busy_timeout. Just masks a bigger problem.
		Fail fast. This is 'dev mode' sqlite after all */
		filename = fmt.Sprintf("%s?cache=shared&_pragma=busy_timeout=5000&_pragma=journal_mode=WAL", filename)
	}

	logger.Infof("Using sqlite DB: %s", filename)

	var db *usql.DB

	db, err = usql.Open("sqlite", filename)
	if err != nil {
		return nil, errors.NewStorageError("failed to open sqlite DB", err)
	}

	if _, err = db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, errors.NewStorageError("could not enable foreign keys support", err)
	}

	return db, nil
}

func randomString(n int) string {
	b := make([]byte, (n+1)/2)
	_, _ = rand.Read(b)

	return hex.EncodeToString(b)[:n]
}

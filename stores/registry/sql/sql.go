package sql

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	pq "github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/t1plarnd/simplicity-dex/errors"
	"github.com/t1plarnd/simplicity-dex/model"
	"github.com/t1plarnd/simplicity-dex/settings"
	"github.com/t1plarnd/simplicity-dex/stores/registry"
	"github.com/t1plarnd/simplicity-dex/ulogger"
	"github.com/t1plarnd/simplicity-dex/util"
	"github.com/t1plarnd/simplicity-dex/util/usql"
)

type Store struct {
	logger    ulogger.Logger
	db        *usql.DB
	engine    string
	dbTimeout time.Duration
}

func New(logger ulogger.Logger, storeURL *url.URL, tSettings *settings.Settings) (*Store, error) {
	db, err := util.InitSQLDB(logger, storeURL, tSettings)
	if err != nil {
		return nil, errors.NewStorageError("failed to init sql db", err)
	}

	switch storeURL.Scheme {
	case "postgres":
		if err = createPostgresSchema(db); err != nil {
			return nil, errors.NewStorageError("failed to create postgres schema", err)
		}

	case "sqlite", "sqlitememory":
		if err = createSqliteSchema(db); err != nil {
			return nil, errors.NewStorageError("failed to create sqlite schema", err)
		}

	default:
		return nil, errors.NewConfigurationError("unknown database engine: %s", storeURL.Scheme)
	}

	return &Store{
		logger:    logger,
		db:        db,
		engine:    storeURL.Scheme,
		dbTimeout: tSettings.CoinStore.DBTimeout,
	}, nil
}

func (s *Store) Health(ctx context.Context) (int, string, error) {
	details := fmt.Sprintf("SQL Engine is %s", s.engine)

	var num int

	err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&num)
	if err != nil {
		return -1, details, err
	}

	return 0, details, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) AddContract(ctx context.Context, source []byte, args *model.DCDArguments, gen *model.TaprootPubkeyGen, appMetadata []byte) error {
	ctx, cancelTimeout := context.WithTimeout(ctx, s.dbTimeout)
	defer cancelTimeout()

	argumentsBytes, err := args.Serialize()
	if err != nil {
		return err
	}

	sourceHash := sha256.Sum256(source)
	cmr := model.ComputeCMR(source, argumentsBytes)

	txn, err := s.db.Begin()
	if err != nil {
		return errors.NewStorageError("failed to begin transaction", err)
	}

	defer func() {
		_ = txn.Rollback()
	}()

	// Sources are content-addressed; re-registering an identical source
	// is a no-op.
	q := `
		INSERT INTO simplicity_sources (
		 source_hash
		,source
		) VALUES (
		 $1
		,$2
		)
		ON CONFLICT (source_hash) DO NOTHING
	`

	if _, err = txn.ExecContext(ctx, q, sourceHash[:], source); err != nil {
		return errors.NewStorageError("failed to insert program source", err)
	}

	q = `
		INSERT INTO simplicity_contracts (
		 taproot_pubkey_gen
		,script_pubkey
		,cmr
		,source_hash
		,arguments
		,app_metadata
		) VALUES (
		 $1
		,$2
		,$3
		,$4
		,$5
		,$6
		)
	`

	_, err = txn.ExecContext(ctx, q,
		gen.String(),
		gen.ScriptPubKey(),
		cmr[:],
		sourceHash[:],
		argumentsBytes,
		appMetadata,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return errors.NewConstraintViolationError("contract %s already registered", gen)
		} else if sqliteErr, ok := err.(*sqlite.Error); ok && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return errors.NewConstraintViolationError("contract %s already registered", gen)
		}

		return errors.NewStorageError("failed to insert contract %s", gen, err)
	}

	if err = txn.Commit(); err != nil {
		return errors.NewStorageError("failed to commit contract registration", err)
	}

	return nil
}

const contractColumns = `
	 taproot_pubkey_gen
	,script_pubkey
	,cmr
	,source_hash
	,arguments
	,app_metadata
`

func (s *Store) GetContract(ctx context.Context, taprootPubkeyGen string) (*registry.Contract, error) {
	ctx, cancelTimeout := context.WithTimeout(ctx, s.dbTimeout)
	defer cancelTimeout()

	q := `
		SELECT ` + contractColumns + `
		FROM simplicity_contracts
		WHERE taproot_pubkey_gen = $1
	`

	return s.scanContract(s.db.QueryRowContext(ctx, q, taprootPubkeyGen), taprootPubkeyGen)
}

func (s *Store) GetContractByScript(ctx context.Context, scriptPubKey []byte) (*registry.Contract, error) {
	ctx, cancelTimeout := context.WithTimeout(ctx, s.dbTimeout)
	defer cancelTimeout()

	q := `
		SELECT ` + contractColumns + `
		FROM simplicity_contracts
		WHERE script_pubkey = $1
	`

	return s.scanContract(s.db.QueryRowContext(ctx, q, scriptPubKey), "by script")
}

func (s *Store) scanContract(row *sql.Row, ref string) (*registry.Contract, error) {
	contract := &registry.Contract{}

	var (
		cmr        []byte
		sourceHash []byte
		arguments  []byte
	)

	err := row.Scan(
		&contract.TaprootPubkeyGen,
		&contract.ScriptPubKey,
		&cmr,
		&sourceHash,
		&arguments,
		&contract.AppMetadata,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewContractNotFoundError("contract %s not registered", ref)
		}

		return nil, errors.NewStorageError("failed to get contract %s", ref, err)
	}

	if contract.CMR, err = model.NewCMRFromBytes(cmr); err != nil {
		return nil, errors.NewStorageError("corrupt cmr for contract %s", ref, err)
	}

	if contract.SourceHash, err = model.NewHashFromBytes(sourceHash); err != nil {
		return nil, errors.NewStorageError("corrupt source hash for contract %s", ref, err)
	}

	if contract.Arguments, err = model.DeserializeDCDArguments(arguments); err != nil {
		return nil, errors.NewStorageError("corrupt arguments for contract %s", ref, err)
	}

	return contract, nil
}

func (s *Store) GetSource(ctx context.Context, sourceHash model.Hash) ([]byte, error) {
	ctx, cancelTimeout := context.WithTimeout(ctx, s.dbTimeout)
	defer cancelTimeout()

	var source []byte

	err := s.db.QueryRowContext(ctx, `SELECT source FROM simplicity_sources WHERE source_hash = $1`, sourceHash.Bytes()).Scan(&source)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("no source with hash %s", sourceHash)
		}

		return nil, errors.NewStorageError("failed to get source %s", sourceHash, err)
	}

	return source, nil
}

func (s *Store) GetState(ctx context.Context, taprootPubkeyGen string) (string, error) {
	ctx, cancelTimeout := context.WithTimeout(ctx, s.dbTimeout)
	defer cancelTimeout()

	var state string

	err := s.db.QueryRowContext(ctx, `SELECT state FROM contract_states WHERE taproot_pubkey_gen = $1`, taprootPubkeyGen).Scan(&state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}

		return "", errors.NewStorageError("failed to get state for contract %s", taprootPubkeyGen, err)
	}

	return state, nil
}

func (s *Store) SetState(ctx context.Context, taprootPubkeyGen string, state string) error {
	ctx, cancelTimeout := context.WithTimeout(ctx, s.dbTimeout)
	defer cancelTimeout()

	q := `
		INSERT INTO contract_states (
		 taproot_pubkey_gen
		,state
		) VALUES (
		 $1
		,$2
		)
		ON CONFLICT (taproot_pubkey_gen) DO UPDATE SET state = EXCLUDED.state
	`

	if _, err := s.db.ExecContext(ctx, q, taprootPubkeyGen, state); err != nil {
		return errors.NewStorageError("failed to set state for contract %s", taprootPubkeyGen, err)
	}

	return nil
}

func createPostgresSchema(db *usql.DB) error {
	if _, err := db.Exec(`
      CREATE TABLE IF NOT EXISTS simplicity_sources (
	     source_hash BYTEA PRIMARY KEY
	    ,source      BYTEA NOT NULL
	  );
	`); err != nil {
		_ = db.Close()
		return fmt.Errorf("could not create simplicity_sources table - [%+v]", err)
	}

	if _, err := db.Exec(`
      CREATE TABLE IF NOT EXISTS simplicity_contracts (
	     taproot_pubkey_gen TEXT PRIMARY KEY
	    ,script_pubkey      BYTEA NOT NULL
	    ,cmr                BYTEA NOT NULL
	    ,source_hash        BYTEA NOT NULL REFERENCES simplicity_sources (source_hash)
	    ,arguments          BYTEA NOT NULL
	    ,app_metadata       BYTEA
      ,inserted_at        TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	  );
	`); err != nil {
		_ = db.Close()
		return fmt.Errorf("could not create simplicity_contracts table - [%+v]", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS ix_contracts_script_pubkey ON simplicity_contracts (script_pubkey);`); err != nil {
		_ = db.Close()
		return fmt.Errorf("could not create ix_contracts_script_pubkey index - [%+v]", err)
	}

	if _, err := db.Exec(`
      CREATE TABLE IF NOT EXISTS contract_states (
	     taproot_pubkey_gen TEXT PRIMARY KEY REFERENCES simplicity_contracts (taproot_pubkey_gen)
	    ,state              TEXT NOT NULL
	  );
	`); err != nil {
		_ = db.Close()
		return fmt.Errorf("could not create contract_states table - [%+v]", err)
	}

	return nil
}

func createSqliteSchema(db *usql.DB) error {
	if _, err := db.Exec(`
      CREATE TABLE IF NOT EXISTS simplicity_sources (
	     source_hash BLOB PRIMARY KEY
	    ,source      BLOB NOT NULL
	  );
	`); err != nil {
		_ = db.Close()
		return fmt.Errorf("could not create simplicity_sources table - [%+v]", err)
	}

	if _, err := db.Exec(`
      CREATE TABLE IF NOT EXISTS simplicity_contracts (
	     taproot_pubkey_gen TEXT PRIMARY KEY
	    ,script_pubkey      BLOB NOT NULL
	    ,cmr                BLOB NOT NULL
	    ,source_hash        BLOB NOT NULL REFERENCES simplicity_sources (source_hash)
	    ,arguments          BLOB NOT NULL
	    ,app_metadata       BLOB
      ,inserted_at        TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	  );
	`); err != nil {
		_ = db.Close()
		return fmt.Errorf("could not create simplicity_contracts table - [%+v]", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS ix_contracts_script_pubkey ON simplicity_contracts (script_pubkey);`); err != nil {
		_ = db.Close()
		return fmt.Errorf("could not create ix_contracts_script_pubkey idx - [%+v]", err)
	}

	if _, err := db.Exec(`
      CREATE TABLE IF NOT EXISTS contract_states (
	     taproot_pubkey_gen TEXT PRIMARY KEY REFERENCES simplicity_contracts (taproot_pubkey_gen)
	    ,state              TEXT NOT NULL
	  );
	`); err != nil {
		_ = db.Close()
		return fmt.Errorf("could not create contract_states table - [%+v]", err)
	}

	return nil
}

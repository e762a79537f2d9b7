package sql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"time"

	pq "github.com/lib/pq"
	"golang.org/x/sync/errgroup"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/t1plarnd/simplicity-dex/errors"
	"github.com/t1plarnd/simplicity-dex/model"
	"github.com/t1plarnd/simplicity-dex/settings"
	"github.com/t1plarnd/simplicity-dex/stores/ledger"
	"github.com/t1plarnd/simplicity-dex/ulogger"
	"github.com/t1plarnd/simplicity-dex/util"
	"github.com/t1plarnd/simplicity-dex/util/usql"
)

// Store is the SQL-backed coin store. It runs on postgres for deployments
// and sqlite for development and tests, selected by the store URL scheme.
type Store struct {
	logger    ulogger.Logger
	db        *usql.DB
	engine    string
	dbTimeout time.Duration

	// spendMu serialises SpendLock callers so only one transaction can
	// select and mark outputs spent at a time.
	spendMu sync.Mutex
}

// dbConn is satisfied by both *usql.DB and *sql.Tx so the row-level
// helpers can run standalone or inside a spend transaction.
type dbConn interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
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

func (s *Store) RecordOutput(ctx context.Context, outpoint model.Outpoint, txOut *model.TxOut, blinderKey []byte) error {
	ctx, cancelTimeout := context.WithTimeout(ctx, s.dbTimeout)
	defer cancelTimeout()

	return recordOutput(ctx, s.db, outpoint, txOut, blinderKey)
}

func (s *Store) Lookup(ctx context.Context, outpoint model.Outpoint) (*ledger.Entry, error) {
	ctx, cancelTimeout := context.WithTimeout(ctx, s.dbTimeout)
	defer cancelTimeout()

	return lookup(ctx, s.db, outpoint)
}

func (s *Store) MarkSpent(ctx context.Context, outpoints []model.Outpoint) error {
	ctx, cancelTimeout := context.WithTimeout(ctx, s.dbTimeout)
	defer cancelTimeout()

	return markSpent(ctx, s.db, outpoints)
}

func (s *Store) Select(ctx context.Context, filter ledger.Filter) (*ledger.QueryResult, error) {
	ctx, cancelTimeout := context.WithTimeout(ctx, s.dbTimeout)
	defer cancelTimeout()

	return selectCoins(ctx, s.db, filter)
}

// SelectMany runs the filters concurrently. Results keep filter order.
func (s *Store) SelectMany(ctx context.Context, filters []ledger.Filter) ([]*ledger.QueryResult, error) {
	results := make([]*ledger.QueryResult, len(filters))

	g, gCtx := errgroup.WithContext(ctx)

	for i, filter := range filters {
		i, filter := i, filter

		g.Go(func() error {
			res, err := s.Select(gCtx, filter)
			if err != nil {
				return err
			}

			results[i] = res

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func (s *Store) RecordIssuance(ctx context.Context, issuance ledger.Issuance) error {
	ctx, cancelTimeout := context.WithTimeout(ctx, s.dbTimeout)
	defer cancelTimeout()

	return recordIssuance(ctx, s.db, issuance)
}

func (s *Store) GetIssuance(ctx context.Context, assetID model.AssetID) (*ledger.Issuance, error) {
	ctx, cancelTimeout := context.WithTimeout(ctx, s.dbTimeout)
	defer cancelTimeout()

	q := `
		SELECT entropy, is_confidential
		FROM asset_entropy
		WHERE asset_id = $1
	`

	issuance := &ledger.Issuance{AssetID: assetID}

	var entropy []byte

	err := s.db.QueryRowContext(ctx, q, assetID.Bytes()).Scan(&entropy, &issuance.Confidential)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("no issuance recorded for asset %s", assetID)
		}

		return nil, errors.NewStorageError("failed to get issuance for asset %s", assetID, err)
	}

	if issuance.Entropy, err = model.NewEntropyFromBytes(entropy); err != nil {
		return nil, errors.NewStorageError("corrupt entropy for asset %s", assetID, err)
	}

	return issuance, nil
}

// RecordTransaction applies a wallet transaction in one database
// transaction. Inputs that spend tracked outputs are marked spent,
// issuance inputs have their entropy recorded, and outputs listed in
// blinderKeys or trackVouts are stored.
func (s *Store) RecordTransaction(ctx context.Context, tx *model.Transaction, blinderKeys map[uint32][]byte, trackVouts []uint32) error {
	ctx, cancelTimeout := context.WithTimeout(ctx, s.dbTimeout)
	defer cancelTimeout()

	txn, err := s.db.Begin()
	if err != nil {
		return errors.NewStorageError("failed to begin transaction", err)
	}

	defer func() {
		_ = txn.Rollback()
	}()

	txid := tx.TxID()

	for _, input := range tx.Inputs {
		if err = markSpentIfTracked(ctx, txn, input.PreviousOutpoint); err != nil {
			return err
		}

		if input.HasIssuance() {
			entropy := input.IssuanceEntropy()

			issuance := ledger.Issuance{
				AssetID:      model.AssetIDFromEntropy(entropy),
				Entropy:      entropy,
				Confidential: input.Issuance.InflationKeysConfidential,
			}

			if err = recordIssuance(ctx, txn, issuance); err != nil && !errors.Is(err, errors.ErrConstraintViolation) {
				return err
			}
		}
	}

	tracked := make(map[uint32]bool, len(trackVouts))
	for _, vout := range trackVouts {
		tracked[vout] = true
	}

	for vout, out := range tx.Outputs {
		vout := uint32(vout)

		blinderKey, blinded := blinderKeys[vout]
		if !blinded && (!tracked[vout] || out.Confidential) {
			continue
		}

		outpoint := model.NewOutpoint(txid, vout)

		if err = recordOutput(ctx, txn, outpoint, out, blinderKey); err != nil {
			return err
		}
	}

	if err = txn.Commit(); err != nil {
		return errors.NewStorageError("failed to commit transaction", err)
	}

	return nil
}

// SpendLock serialises spenders. The callback gets a SpendTx bound to a
// database transaction; a nil return commits, anything else rolls back
// and releases every output the callback marked spent.
func (s *Store) SpendLock(ctx context.Context, fn func(ctx context.Context, tx ledger.SpendTx) error) error {
	s.spendMu.Lock()
	defer s.spendMu.Unlock()

	txn, err := s.db.Begin()
	if err != nil {
		return errors.NewStorageError("failed to begin spend transaction", err)
	}

	committed := false

	defer func() {
		if !committed {
			_ = txn.Rollback()
		}
	}()

	if err = fn(ctx, &spendTx{txn: txn}); err != nil {
		return err
	}

	if err = txn.Commit(); err != nil {
		return errors.NewStorageError("failed to commit spend transaction", err)
	}

	committed = true

	return nil
}

type spendTx struct {
	txn *sql.Tx
}

func (t *spendTx) Lookup(ctx context.Context, outpoint model.Outpoint) (*ledger.Entry, error) {
	return lookup(ctx, t.txn, outpoint)
}

func (t *spendTx) Select(ctx context.Context, filter ledger.Filter) (*ledger.QueryResult, error) {
	return selectCoins(ctx, t.txn, filter)
}

func (t *spendTx) MarkSpent(ctx context.Context, outpoints []model.Outpoint) error {
	return markSpent(ctx, t.txn, outpoints)
}

func (t *spendTx) RecordOutput(ctx context.Context, outpoint model.Outpoint, txOut *model.TxOut, blinderKey []byte) error {
	return recordOutput(ctx, t.txn, outpoint, txOut, blinderKey)
}

func (t *spendTx) RecordIssuance(ctx context.Context, issuance ledger.Issuance) error {
	return recordIssuance(ctx, t.txn, issuance)
}

func recordOutput(ctx context.Context, conn dbConn, outpoint model.Outpoint, txOut *model.TxOut, blinderKey []byte) error {
	if txOut.Confidential && blinderKey == nil {
		return errors.NewBlinderMissingError("confidential output %s needs a blinding key", outpoint)
	}

	q := `
		INSERT INTO utxos (
		 txid
		,vout
		,asset_id
		,value
		,script_pubkey
		,is_confidential
		,surjection_proof
		,range_proof
		,is_spent
		) VALUES (
		 $1
		,$2
		,$3
		,$4
		,$5
		,$6
		,$7
		,$8
		,FALSE
		)
	`

	_, err := conn.ExecContext(ctx, q,
		outpoint.TxID.Bytes(),
		outpoint.Vout,
		txOut.Asset.Bytes(),
		int64(txOut.Value),
		txOut.ScriptPubKey,
		txOut.Confidential,
		txOut.Witness.SurjectionProof,
		txOut.Witness.RangeProof,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return errors.NewUtxoExistsError("output %s already recorded", outpoint)
		} else if sqliteErr, ok := err.(*sqlite.Error); ok && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return errors.NewUtxoExistsError("output %s already recorded", outpoint)
		}

		return errors.NewStorageError("failed to insert output %s", outpoint, err)
	}

	if blinderKey != nil {
		q = `
			INSERT INTO blinder_keys (
			 txid
			,vout
			,blinder_key
			) VALUES (
			 $1
			,$2
			,$3
			)
		`

		if _, err = conn.ExecContext(ctx, q, outpoint.TxID.Bytes(), outpoint.Vout, blinderKey); err != nil {
			return errors.NewStorageError("failed to insert blinder key for %s", outpoint, err)
		}
	}

	return nil
}

const entryColumns = `
	 u.txid
	,u.vout
	,u.asset_id
	,u.value
	,u.script_pubkey
	,u.is_confidential
	,u.surjection_proof
	,u.range_proof
	,u.is_spent
	,b.blinder_key
`

func scanEntry(scan func(dest ...interface{}) error) (*ledger.Entry, error) {
	var (
		txid            []byte
		assetID         []byte
		value           int64
		surjectionProof []byte
		rangeProof      []byte
		blinderKey      []byte
	)

	entry := &ledger.Entry{}

	err := scan(
		&txid,
		&entry.Outpoint.Vout,
		&assetID,
		&value,
		&entry.TxOut.ScriptPubKey,
		&entry.TxOut.Confidential,
		&surjectionProof,
		&rangeProof,
		&entry.Spent,
		&blinderKey,
	)
	if err != nil {
		return nil, err
	}

	if entry.Outpoint.TxID, err = model.NewHashFromBytes(txid); err != nil {
		return nil, errors.NewStorageError("corrupt txid in utxos table", err)
	}

	if entry.TxOut.Asset, err = model.NewAssetIDFromBytes(assetID); err != nil {
		return nil, errors.NewStorageError("corrupt asset id in utxos table", err)
	}

	entry.TxOut.Value = uint64(value)
	entry.TxOut.Witness = model.TxOutWitness{
		SurjectionProof: surjectionProof,
		RangeProof:      rangeProof,
	}
	entry.BlinderKey = blinderKey

	return entry, nil
}

func lookup(ctx context.Context, conn dbConn, outpoint model.Outpoint) (*ledger.Entry, error) {
	q := `
		SELECT ` + entryColumns + `
		FROM utxos u
		LEFT JOIN blinder_keys b ON b.txid = u.txid AND b.vout = u.vout
		WHERE u.txid = $1 AND u.vout = $2
	`

	row := conn.QueryRowContext(ctx, q, outpoint.TxID.Bytes(), outpoint.Vout)

	entry, err := scanEntry(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewUtxoNotFoundError("output %s not found", outpoint)
		}

		return nil, errors.NewStorageError("failed to look up output %s", outpoint, err)
	}

	return entry, nil
}

// markSpent is idempotent. Spent flags only ever go from unspent to
// spent; marking an already spent output again is a no-op, only an
// unknown outpoint is an error.
func markSpent(ctx context.Context, conn dbConn, outpoints []model.Outpoint) error {
	q := `
		UPDATE utxos
		SET is_spent = TRUE
		WHERE txid = $1 AND vout = $2
	`

	for _, outpoint := range outpoints {
		res, err := conn.ExecContext(ctx, q, outpoint.TxID.Bytes(), outpoint.Vout)
		if err != nil {
			return errors.NewStorageError("failed to mark %s spent", outpoint, err)
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return errors.NewStorageError("failed to mark %s spent", outpoint, err)
		}

		if rows == 0 {
			return errors.NewUtxoNotFoundError("output %s not found", outpoint)
		}
	}

	return nil
}

// markSpentIfTracked marks an input spent if the wallet tracks it and
// ignores foreign inputs.
func markSpentIfTracked(ctx context.Context, conn dbConn, outpoint model.Outpoint) error {
	err := markSpent(ctx, conn, []model.Outpoint{outpoint})
	if err != nil && errors.Is(err, errors.ErrUtxoNotFound) {
		return nil
	}

	return err
}

// selectCoins walks matching unspent outputs from largest to smallest,
// stopping once the target is covered. Ties break on txid then vout so
// the selection is deterministic.
func selectCoins(ctx context.Context, conn dbConn, filter ledger.Filter) (*ledger.QueryResult, error) {
	q := `
		SELECT ` + entryColumns + `
		FROM utxos u
		LEFT JOIN blinder_keys b ON b.txid = u.txid AND b.vout = u.vout
		WHERE u.asset_id = $1 AND u.is_spent = FALSE
	`

	args := []interface{}{filter.AssetID.Bytes()}

	if filter.ScriptPubKey != nil {
		args = append(args, filter.ScriptPubKey)
		q += fmt.Sprintf(` AND u.script_pubkey = $%d`, len(args))
	}

	if filter.RequireConfidential {
		q += ` AND u.is_confidential = TRUE`
	}

	for _, outpoint := range filter.Exclude {
		args = append(args, outpoint.TxID.Bytes(), outpoint.Vout)
		q += fmt.Sprintf(` AND NOT (u.txid = $%d AND u.vout = $%d)`, len(args)-1, len(args))
	}

	q += ` ORDER BY u.value DESC, u.txid ASC, u.vout ASC`

	rows, err := conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.NewStorageError("coin selection query failed for asset %s", filter.AssetID, err)
	}

	defer rows.Close()

	result := &ledger.QueryResult{}

	matched := false

	for rows.Next() {
		matched = true

		if result.Total >= filter.TargetValue && len(result.Entries) > 0 {
			break
		}

		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, errors.NewStorageError("failed to scan selected output", err)
		}

		result.Entries = append(result.Entries, *entry)
		result.Total += entry.TxOut.Value
	}

	if err = rows.Err(); err != nil {
		return nil, errors.NewStorageError("coin selection query failed for asset %s", filter.AssetID, err)
	}

	switch {
	case !matched:
		result.Status = ledger.QueryEmpty
	case result.Total >= filter.TargetValue:
		result.Status = ledger.QueryFound
	default:
		result.Status = ledger.QueryInsufficientValue
	}

	return result, nil
}

func recordIssuance(ctx context.Context, conn dbConn, issuance ledger.Issuance) error {
	q := `
		INSERT INTO asset_entropy (
		 asset_id
		,entropy
		,is_confidential
		) VALUES (
		 $1
		,$2
		,$3
		)
	`

	_, err := conn.ExecContext(ctx, q, issuance.AssetID.Bytes(), issuance.Entropy[:], issuance.Confidential)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return errors.NewConstraintViolationError("issuance for asset %s already recorded", issuance.AssetID)
		} else if sqliteErr, ok := err.(*sqlite.Error); ok && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return errors.NewConstraintViolationError("issuance for asset %s already recorded", issuance.AssetID)
		}

		return errors.NewStorageError("failed to insert issuance for asset %s", issuance.AssetID, err)
	}

	return nil
}

func createPostgresSchema(db *usql.DB) error {
	if _, err := db.Exec(`
      CREATE TABLE IF NOT EXISTS utxos (
	     txid             BYTEA NOT NULL
	    ,vout             BIGINT NOT NULL
	    ,asset_id         BYTEA NOT NULL
	    ,value            BIGINT NOT NULL
	    ,script_pubkey    BYTEA NOT NULL
	    ,is_confidential  BOOLEAN NOT NULL
	    ,surjection_proof BYTEA
	    ,range_proof      BYTEA
	    ,is_spent         BOOLEAN NOT NULL DEFAULT FALSE
      ,inserted_at      TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
      ,PRIMARY KEY (txid, vout)
	  );
	`); err != nil {
		_ = db.Close()
		return fmt.Errorf("could not create utxos table - [%+v]", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS ix_utxos_selection ON utxos (asset_id, is_spent, value DESC);`); err != nil {
		_ = db.Close()
		return fmt.Errorf("could not create ix_utxos_selection index - [%+v]", err)
	}

	// The blinding key never changes so rows are insert-only. Referential
	// integrity ties every key to a tracked output.
	if _, err := db.Exec(`
      CREATE TABLE IF NOT EXISTS blinder_keys (
	     txid        BYTEA NOT NULL
	    ,vout        BIGINT NOT NULL
	    ,blinder_key BYTEA NOT NULL
      ,PRIMARY KEY (txid, vout)
      ,FOREIGN KEY (txid, vout) REFERENCES utxos (txid, vout)
	  );
	`); err != nil {
		_ = db.Close()
		return fmt.Errorf("could not create blinder_keys table - [%+v]", err)
	}

	if _, err := db.Exec(`
      CREATE TABLE IF NOT EXISTS asset_entropy (
	     asset_id        BYTEA PRIMARY KEY
	    ,entropy         BYTEA NOT NULL
	    ,is_confidential BOOLEAN NOT NULL
	  );
	`); err != nil {
		_ = db.Close()
		return fmt.Errorf("could not create asset_entropy table - [%+v]", err)
	}

	return nil
}

func createSqliteSchema(db *usql.DB) error {
	if _, err := db.Exec(`
      CREATE TABLE IF NOT EXISTS utxos (
	     txid             BLOB NOT NULL
	    ,vout             BIGINT NOT NULL
	    ,asset_id         BLOB NOT NULL
	    ,value            BIGINT NOT NULL
	    ,script_pubkey    BLOB NOT NULL
	    ,is_confidential  BOOLEAN NOT NULL
	    ,surjection_proof BLOB
	    ,range_proof      BLOB
	    ,is_spent         BOOLEAN NOT NULL DEFAULT FALSE
      ,inserted_at      TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
      ,PRIMARY KEY (txid, vout)
	  );
	`); err != nil {
		_ = db.Close()
		return fmt.Errorf("could not create utxos table - [%+v]", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS ix_utxos_selection ON utxos (asset_id, is_spent, value DESC);`); err != nil {
		_ = db.Close()
		return fmt.Errorf("could not create ix_utxos_selection idx - [%+v]", err)
	}

	if _, err := db.Exec(`
      CREATE TABLE IF NOT EXISTS blinder_keys (
	     txid        BLOB NOT NULL
	    ,vout        BIGINT NOT NULL
	    ,blinder_key BLOB NOT NULL
      ,PRIMARY KEY (txid, vout)
      ,FOREIGN KEY (txid, vout) REFERENCES utxos (txid, vout)
	  );
	`); err != nil {
		_ = db.Close()
		return fmt.Errorf("could not create blinder_keys table - [%+v]", err)
	}

	if _, err := db.Exec(`
      CREATE TABLE IF NOT EXISTS asset_entropy (
	     asset_id        BLOB PRIMARY KEY
	    ,entropy         BLOB NOT NULL
	    ,is_confidential BOOLEAN NOT NULL
	  );
	`); err != nil {
		_ = db.Close()
		return fmt.Errorf("could not create asset_entropy table - [%+v]", err)
	}

	return nil
}

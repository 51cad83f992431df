package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/gridwise/bundling"
)

// emptyConn is a driver connection whose every select returns zero rows. It
// records transaction outcomes so tests can assert commit vs rollback.
type emptyConn struct {
	commits   int
	rollbacks int
}

type emptyConnector struct {
	conn *emptyConn
}

func (c emptyConnector) Connect(context.Context) (driver.Conn, error) { return c.conn, nil }
func (c emptyConnector) Driver() driver.Driver                        { return nil }

func (c *emptyConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *emptyConn) Close() error { return nil }

func (c *emptyConn) Begin() (driver.Tx, error) { return emptyTx{conn: c}, nil }

func (c *emptyConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	return emptyTx{conn: c}, nil
}

func (c *emptyConn) QueryContext(context.Context, string, []driver.NamedValue) (driver.Rows, error) {
	return emptyRows{}, nil
}

func (c *emptyConn) ExecContext(context.Context, string, []driver.NamedValue) (driver.Result, error) {
	return driver.RowsAffected(0), nil
}

type emptyTx struct {
	conn *emptyConn
}

func (tx emptyTx) Commit() error {
	tx.conn.commits++

	return nil
}

func (tx emptyTx) Rollback() error {
	tx.conn.rollbacks++

	return nil
}

type emptyRows struct{}

func (emptyRows) Columns() []string         { return []string{"id"} }
func (emptyRows) Close() error              { return nil }
func (emptyRows) Next([]driver.Value) error { return io.EOF }

// A peek against a key with nothing ready must report ErrNothingReady and
// commit the transaction, since a lock reclaim performed earlier in the same
// transaction has to survive the empty result.
func TestLeaseNothingReadyCommits(t *testing.T) {
	conn := &emptyConn{}
	db := sql.OpenDB(emptyConnector{conn: conn})
	defer db.Close()

	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	_, err = store.Lease(context.Background(), bundling.LeaseRequest{
		Key: bundling.Key{
			ActorNumber: "5790001330552",
			ActorRole:   "EnergySupplier",
			Category:    "Aggregations",
			Format:      "XML",
		},
		Token: "token-1",
		Now:   time.Now(),
		TTL:   time.Minute,
	})
	if !errors.Is(err, bundling.ErrNothingReady) {
		t.Fatalf("expected ErrNothingReady, got %v", err)
	}
	if conn.commits != 1 {
		t.Fatalf("expected 1 commit, got %d", conn.commits)
	}
	if conn.rollbacks != 0 {
		t.Fatalf("expected no rollback, got %d", conn.rollbacks)
	}
}

package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect は接続先データベースの種類を表す。
type Dialect string

const (
	// DialectPostgres はPostgreSQLを表す。
	DialectPostgres Dialect = "postgres"
	// DialectSQLite はSQLite（開発・テスト用）を表す。
	DialectSQLite Dialect = "sqlite3"
)

// DialectOf はデータベースURLのスキームから接続先の種類を判定する。
// postgres:// と postgresql:// はPostgreSQL、sqlite3:// と file: はSQLiteとして扱う。
func DialectOf(databaseURL string) (Dialect, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return DialectPostgres, nil
	case strings.HasPrefix(databaseURL, "sqlite3://"), strings.HasPrefix(databaseURL, "file:"):
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database URL scheme: %q", redactScheme(databaseURL))
	}
}

// Open はデータベース接続を開く。
// sql.Openは接続を試行しないため、実際の接続確認にはdb.PingContext()を使用すること。
// SQLiteの場合は外部キー制約を有効にし、コネクションを1本に制限する。
func Open(databaseURL string) (*sql.DB, Dialect, error) {
	dialect, err := DialectOf(databaseURL)
	if err != nil {
		return nil, "", err
	}

	switch dialect {
	case DialectSQLite:
		db, err := sql.Open("sqlite3", sqliteDSN(databaseURL))
		if err != nil {
			return nil, "", fmt.Errorf("failed to open database: %w", err)
		}
		// インメモリDBはコネクションごとに別物になるため1本に固定する
		db.SetMaxOpenConns(1)
		return db, dialect, nil
	default:
		db, err := sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open database: %w", err)
		}
		return db, dialect, nil
	}
}

// sqliteDSN はsqlite3://形式のURLをgo-sqlite3のDSNに変換する。
func sqliteDSN(databaseURL string) string {
	dsn := databaseURL
	if rest, ok := strings.CutPrefix(databaseURL, "sqlite3://"); ok {
		dsn = "file:" + rest
	}
	if strings.Contains(dsn, "_foreign_keys=") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

func redactScheme(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil || u.Scheme == "" {
		return "(unknown)"
	}
	return u.Scheme
}

package sqldb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"

	"github.com/kev-ang/ruben/internal/benchmark"
	"github.com/kev-ang/ruben/internal/engines/adapter"
)

// MySQL server errors that signal an exhausted resource.
var mysqlExhausted = map[uint16]string{
	1037: "memory",      // ER_OUTOFMEMORY
	1038: "sort memory", // ER_OUT_OF_SORTMEMORY
	1041: "memory",      // ER_OUT_OF_RESOURCES
	1114: "table space", // ER_RECORD_FILE_FULL
	1135: "threads",     // ER_CANT_CREATE_THREAD
	3024: "execution time",
}

var mysqlDialect = dialect{
	driver: "mysql",
	dsn: func(s adapter.Settings) (string, error) {
		if dsn := s.String(SettingDSN, ""); dsn != "" {
			return dsn, nil
		}
		endpoint := s.String(SettingEndpoint, "")
		if endpoint == "" {
			return "", fmt.Errorf("setting %s or %s is required", SettingDSN, SettingEndpoint)
		}
		cfg := mysql.NewConfig()
		cfg.User = s.String(SettingUser, "root")
		cfg.Passwd = s.String(SettingPassword, "")
		cfg.Net = "tcp"
		cfg.Addr = endpoint
		cfg.DBName = s.String(SettingDatabase, "ruben")
		return cfg.FormatDSN(), nil
	},
	quote: func(ident string) string {
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	},
	objects: `SELECT IF(table_type = 'VIEW', 'VIEW', 'TABLE'), table_name
		FROM information_schema.tables
		WHERE table_schema = DATABASE()
		ORDER BY table_type = 'VIEW' DESC, table_name`,
	session: []string{"SET FOREIGN_KEY_CHECKS = 0"},
	classify: func(err error) error {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) {
			if resource, ok := mysqlExhausted[myErr.Number]; ok {
				return &benchmark.ResourceExhaustedError{Resource: "mysql " + resource, Err: err}
			}
		}
		return err
	},
}

// SQLite primary result codes.
const (
	sqliteNoMem = 7
	sqliteFull  = 13
)

var sqliteDialect = dialect{
	driver: "sqlite",
	// A single connection keeps in-memory databases visible to every call.
	maxConns: 1,
	dsn: func(s adapter.Settings) (string, error) {
		if dsn := s.String(SettingDSN, ""); dsn != "" {
			return dsn, nil
		}
		path := s.String(SettingPath, ":memory:")
		return "file:" + path + "?_pragma=busy_timeout(5000)", nil
	},
	quote: func(ident string) string {
		return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
	},
	objects: `SELECT upper(type), name FROM sqlite_master
		WHERE type IN ('view', 'table') AND name NOT LIKE 'sqlite_%'
		ORDER BY type = 'view' DESC, name`,
	classify: func(err error) error {
		var liteErr *sqlite.Error
		if errors.As(err, &liteErr) {
			switch liteErr.Code() & 0xff {
			case sqliteNoMem:
				return &benchmark.ResourceExhaustedError{Resource: "sqlite memory", Err: err}
			case sqliteFull:
				return &benchmark.ResourceExhaustedError{Resource: "sqlite storage", Err: err}
			}
		}
		return err
	},
}

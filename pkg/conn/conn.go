package conn

import (
	"fmt"
	"strings"

	"carenotify/pkg/exception"

	"github.com/yanun0323/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Driver names a supported database backend.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// Option defines connection options. Host through Params only apply to PostgreSQL.
// ConnString overrides the built DSN for either driver; for SQLite it is the file path or URI.
type Option struct {
	Driver     Driver
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	Params     map[string]string
	ConnString string
	Config     *gorm.Config
	// MaxOpenConns caps the pool. Zero keeps the driver default, except SQLite which gets 1.
	MaxOpenConns int
}

// Client wraps a gorm connection pool.
type Client struct {
	opt Option
	db  *gorm.DB
}

// New opens a database client from the provided options. An empty Driver means PostgreSQL.
func New(option Option) (*Client, error) {
	dialector, err := option.dialector()
	if err != nil {
		return nil, err
	}

	config := option.Config
	if config == nil {
		config = &gorm.Config{}
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, errors.Wrap(err, "open database").With("driver", option.driver())
	}

	maxOpen := option.MaxOpenConns
	if maxOpen == 0 && option.driver() == DriverSQLite {
		maxOpen = 1
	}
	if maxOpen > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, errors.Wrap(err, "get sql db")
		}
		sqlDB.SetMaxOpenConns(maxOpen)
	}

	return &Client{opt: option, db: db}, nil
}

// DB returns the underlying gorm.DB instance.
func (c *Client) DB() *gorm.DB {
	if c == nil {
		return nil
	}
	return c.db
}

// Driver reports which backend the client talks to.
func (c *Client) Driver() Driver {
	if c == nil {
		return ""
	}
	return c.opt.driver()
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (opt Option) driver() Driver {
	d := Driver(strings.ToLower(strings.TrimSpace(string(opt.Driver))))
	if d == "" {
		return DriverPostgres
	}
	return d
}

func (opt Option) dialector() (gorm.Dialector, error) {
	switch opt.driver() {
	case DriverPostgres:
		dsn, err := opt.postgresDSN()
		if err != nil {
			return nil, err
		}
		return postgres.Open(dsn), nil
	case DriverSQLite:
		dsn := opt.sqliteDSN()
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("%w: %s", exception.ErrUnsupportedDB, opt.Driver)
	}
}

func (opt Option) sqliteDSN() string {
	if opt.ConnString != "" {
		return opt.ConnString
	}
	if opt.Database != "" {
		return opt.Database
	}
	return "file::memory:?cache=shared"
}

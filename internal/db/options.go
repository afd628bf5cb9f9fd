package db

import "github.com/jmehdipour/commerce-sync/internal/config"

// MySQLOptsFrom maps the mysql config section.
func MySQLOptsFrom(c config.DatabaseConfig) MySQLOpts {
	return MySQLOpts{
		Driver:          c.Driver,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
		PingTimeout:     c.PingTimeout,
	}
}

// ClickHouseOptsFrom maps the clickhouse config section.
func ClickHouseOptsFrom(c config.DatabaseConfig) ClickHouseOpts {
	return ClickHouseOpts{
		DSN:             c.DSN,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
		PingTimeout:     c.PingTimeout,
	}
}

// RedisOptsFrom maps the redis config section.
func RedisOptsFrom(c config.RedisConfig) RedisOpts {
	return RedisOpts{
		Addr:        c.Addr,
		Password:    c.Password,
		DB:          c.DB,
		DialTimeout: c.DialTimeout,
	}
}

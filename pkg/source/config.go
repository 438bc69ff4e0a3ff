// Package source читает исходный форум Flarum (MySQL) постранично.
//
// Reader только читает: никаких изменений в исходной базе.
// Каждая сущность имеет явный типизированный ряд (UserRow, TagRow, PostRow),
// набор колонок проверяется на границе чтения.
package source

import (
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-sql-driver/mysql"
)

// Config - параметры подключения к исходной базе Flarum.
// Имена переменных окружения совпадают с исходным скриптом импорта.
type Config struct {
	Host        string            `yaml:"host" env:"FLARUM_HOST" env-default:"localhost"`
	Port        int               `yaml:"port" env:"FLARUM_PORT" env-default:"3306"`
	Database    string            `yaml:"database" env:"FLARUM_DB" env-default:"flarum_db"`
	User        string            `yaml:"user" env:"FLARUM_USER" env-default:"root"`
	Password    string            `yaml:"password" env:"FLARUM_PW"`
	TablePrefix string            `yaml:"table_prefix" env:"FLARUM_TABLE_PREFIX"`
	Timeout     time.Duration     `yaml:"timeout" env-default:"10s"`
	Params      map[string]string `yaml:"params"`
}

// Validate проверяет конфигурацию источника
func (c Config) Validate() error {
	if c.Host == "" {
		return errors.New("source host is required")
	}
	if c.Database == "" {
		return errors.New("source database is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("invalid source port %d", c.Port)
	}
	return nil
}

// DSN собирает строку подключения go-sql-driver/mysql.
// parseTime включен: DATETIME колонки приходят как time.Time.
func (c Config) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = c.Host + ":" + strconv.Itoa(c.Port)
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if c.Timeout > 0 {
		cfg.Timeout = c.Timeout
	}
	if len(c.Params) > 0 {
		cfg.Params = make(map[string]string, len(c.Params))
		for k, v := range c.Params {
			cfg.Params[k] = v
		}
	}
	return cfg.FormatDSN()
}

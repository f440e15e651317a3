package store

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mawkee/txndoctor/internal/txn"
)

// Connection defaults applied by withDefaults.
const (
	DefaultHost         = "localhost"
	DefaultPort         = "27017"
	DefaultAuthDatabase = "admin"
)

// Config defines how to reach the store under inspection.
//
// URI, when set, wins over the individual host fields. Everything maps
// onto a YAML config file; flags override file values field by field.
type Config struct {
	URI            string `yaml:"uri"`
	Host           string `yaml:"host"`
	Port           string `yaml:"port"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	AuthDatabase   string `yaml:"auth_database"`
	Database       string `yaml:"database"`
	TxnsCollection string `yaml:"txns_collection"`
	TLS            bool   `yaml:"tls"`
	TLSCAFile      string `yaml:"tls_ca_file"`

	// Logger receives connection lifecycle events. Not file-configurable.
	Logger *zap.Logger `yaml:"-"`
}

// LoadFile reads connection settings from a YAML file.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parse config %s", path)
	}

	return cfg, nil
}

// Validate checks the fields Open cannot default.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database) == "" {
		return errors.WithStack(ErrEmptyDatabase)
	}

	return nil
}

// withDefaults fills the blanks a config file or flag set may leave.
func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}

	if c.Port == "" {
		c.Port = DefaultPort
	}

	if c.AuthDatabase == "" {
		c.AuthDatabase = DefaultAuthDatabase
	}

	if c.TxnsCollection == "" {
		c.TxnsCollection = txn.DefaultCollection
	}

	// A CA file only makes sense over TLS.
	if c.TLSCAFile != "" {
		c.TLS = true
	}

	return c
}

// ConnectionURI builds the driver connection string. Credentials are
// URL-encoded so passwords containing '@', ':' or '/' survive; an
// explicit URI passes through untouched.
func (c Config) ConnectionURI() string {
	if c.URI != "" {
		return c.URI
	}

	credentials := ""
	if c.Username != "" {
		credentials = url.UserPassword(c.Username, c.Password).String() + "@"
	}

	host := c.Host
	if c.Port != "" {
		host = fmt.Sprintf("%s:%s", c.Host, c.Port)
	}

	params := url.Values{}
	if c.Username != "" {
		params.Set("authSource", c.AuthDatabase)
	}

	if c.TLS {
		params.Set("tls", "true")
	}

	uri := fmt.Sprintf("mongodb://%s%s/", credentials, host)
	if len(params) > 0 {
		uri += "?" + params.Encode()
	}

	return uri
}

// MaskedURI returns the connection string safe for logs: the userinfo
// section, when present, is replaced wholesale.
func (c Config) MaskedURI() string {
	return maskURI(c.ConnectionURI())
}

func maskURI(uri string) string {
	schemeEnd := strings.Index(uri, "://")
	if schemeEnd < 0 {
		return uri
	}

	// Encoded credentials never contain a literal '@', so the last one
	// is the userinfo separator even for unencoded passed-in URIs.
	at := strings.LastIndex(uri, "@")
	if at < schemeEnd {
		return uri
	}

	return uri[:schemeEnd+3] + "<credentials>" + uri[at:]
}

package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/sessionmux/internal/config"
)

const defaultSSLMode = "prefer"

// BuildConnString renders cfg as a postgres:// URL for pgxpool.ParseConfig.
// Credentials are escaped by url.UserPassword; the archive database name is
// taken verbatim as the path.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String()
}

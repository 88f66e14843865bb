package sftp

import (
	"strconv"

	"github.com/unidal/dal"
)

// Config holds configuration for the SFTP backend.
type Config struct {
	// Host is the SFTP server hostname or IP address (required).
	Host string

	// Port is the SSH port. Default: 22.
	Port int

	// User is the SSH username (required).
	User string

	// Password is the SSH password. Either Password or KeyFile must be
	// provided.
	Password string

	// KeyFile is the path to an SSH private key file. Either Password
	// or KeyFile must be provided.
	KeyFile string

	// KeyPassphrase is the passphrase for encrypted private keys.
	KeyPassphrase string

	// Root is the base directory on the remote server. All paths are
	// relative to this directory.
	Root string

	// Timeout is the connection timeout in seconds. Default: 30.
	Timeout int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{Port: 22, Timeout: 30}
}

// ConfigFromMap builds a Config from the string map dal.Open passes
// backend factories.
func ConfigFromMap(m map[string]string) Config {
	cfg := DefaultConfig()
	if v := m["host"]; v != "" {
		cfg.Host = v
	}
	if v := m["port"]; v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Port = port
		}
	}
	if v := m["user"]; v != "" {
		cfg.User = v
	}
	if v := m["password"]; v != "" {
		cfg.Password = v
	}
	if v := m["key_file"]; v != "" {
		cfg.KeyFile = v
	}
	if v := m["key_passphrase"]; v != "" {
		cfg.KeyPassphrase = v
	}
	if v := m["root"]; v != "" {
		cfg.Root = v
	}
	if v := m["timeout"]; v != "" {
		if timeout, err := strconv.Atoi(v); err == nil && timeout > 0 {
			cfg.Timeout = timeout
		}
	}
	return cfg
}

// Validate checks the fields required to dial a server.
func (c Config) Validate() error {
	if c.Host == "" {
		return dal.NewError(dal.KindConfigInvalid, "sftp: host is required")
	}
	if c.User == "" {
		return dal.NewError(dal.KindConfigInvalid, "sftp: user is required")
	}
	if c.Password == "" && c.KeyFile == "" {
		return dal.NewError(dal.KindConfigInvalid, "sftp: password or key_file is required")
	}
	return nil
}

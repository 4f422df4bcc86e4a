// Package authd runs the print-server authorization daemon: it wires
// pkg/authcore's orchestrator up to net/http, loads its location table and
// identity configuration at startup, and reloads both on SIGHUP.
package authd

import (
	"fmt"
	"io/fs"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/mod/semver"
)

// Config contains authd's configuration. The env struct tag contains the
// environment variable name and the default value if missing, or empty (if
// not ?=). All string arrays are comma-separated. This mirrors the
// reflection-based unmarshalling the teacher's atlas.Config uses.
type Config struct {
	// The addresses to listen on (comma-separated).
	Addr []string `env:"AUTHD_ADDR?=:8080"`
	// The addresses to listen on with TLS (comma-separated).
	AddrTLS []string `env:"AUTHD_ADDR_HTTPS"`
	// Whether to trust Cloudflare headers like CF-Connecting-IP when
	// deciding the client address the authorization core evaluates masks
	// against. Only requests from an address in pkg/cloudflare's prefix
	// list are trusted; that list is filled only by cloudflare.UpdateIPs,
	// which authd does not call, so it starts and stays empty.
	Cloudflare bool `env:"AUTHD_CLOUDFLARE"`
	// Comma-separated list of case-insensitive hostnames to accept via the
	// Host header. If empty, all hostnames are accepted.
	Host []string `env:"AUTHD_HOST"`
	// Comma-separated list of paths to SSL server certificates. The .crt
	// and .key extensions are appended automatically. If empty, TLS
	// listeners are disabled.
	ServerCerts []string `env:"AUTHD_SERVER_CERTS"`

	// The minimum log level (e.g. trace, debug, info, warn, error, fatal).
	LogLevel zerolog.Level `env:"AUTHD_LOG_LEVEL=debug"`
	// Whether to log to stdout.
	LogStdout bool `env:"AUTHD_LOG_STDOUT=true"`
	// Whether to use pretty (console-formatted) logs on stdout.
	LogStdoutPretty bool `env:"AUTHD_LOG_STDOUT_PRETTY=true"`
	// The minimum log level for stdout.
	LogStdoutLevel zerolog.Level `env:"AUTHD_LOG_STDOUT_LEVEL=trace"`
	// The log file to output to, if provided. Reopened on SIGHUP.
	LogFile string `env:"AUTHD_LOG_FILE"`
	// The minimum log level for the log file.
	LogFileLevel zerolog.Level `env:"AUTHD_LOG_FILE_LEVEL=info"`
	// The permissions for the log file.
	LogFileChmod fs.FileMode `env:"AUTHD_LOG_FILE_CHMOD"`
	// Whether to gzip a log file segment before reopening a fresh one on
	// SIGHUP, instead of appending to the existing file.
	LogFileGzipRotate bool `env:"AUTHD_LOG_FILE_GZIP_ROTATE"`

	// Path to the directive file describing the location table (see
	// pkg/authcore/authconf). Required: with none configured, every
	// request falls through to the "no matching location" rule in
	// IsAuthorized's step 1.
	Locations string `env:"AUTHD_LOCATIONS"`

	// Path to the line-oriented passwd.md5 file used for Digest and
	// BasicDigest authentication. If empty and AUTHD_BASIC_BACKEND is
	// sqlite3, db/authdb's MD5 store is used instead; otherwise those auth
	// types always fail closed (Unauthorized).
	PasswdMD5 string `env:"AUTHD_PASSWD_MD5"`

	// Identity backend for user/group resolution:
	//  - os (the platform's own user/group database, via os/user)
	//  - sqlite3:/path/to/auth.db (db/authdb)
	IdentityBackend string `env:"AUTHD_IDENTITY_BACKEND=os"`

	// Basic-auth credential backend:
	//  - crypt (platform shadow file + MD5-crypt/traditional crypt compare)
	//  - sqlite3:/path/to/auth.db (db/authdb's MD5 store, compared as
	//    BasicDigest-style HA1 rather than a crypt hash)
	BasicBackend string `env:"AUTHD_BASIC_BACKEND=crypt"`

	// Comma-separated list of group names "@SYSTEM" expands to.
	SystemGroups []string `env:"AUTHD_SYSTEM_GROUPS=sys,root,lp"`

	// This server's own name, used by IsAuthorized's no-matching-location
	// fallback.
	ServerName string `env:"AUTHD_SERVER_NAME"`

	// Auth type used in place of "None" for a Location that has names
	// configured: none, basic, digest, basicdigest.
	DefaultAuthType string `env:"AUTHD_DEFAULT_AUTH_TYPE=none"`

	// Path to a directory of reqtags rule files (see pkg/authcore/reqtags)
	// used to tag completed decisions for log enrichment. Optional.
	Rules string `env:"AUTHD_RULES"`

	// Path to an IP2Location database used to attach region context to
	// access log lines. Optional.
	IP2Location string `env:"AUTHD_IP2LOCATION"`

	// Secret required as a query parameter to access /metrics. If empty,
	// /metrics is open.
	MetricsSecret string `env:"AUTHD_METRICS_SECRET"`

	// Schema version of this configuration, validated as a semver string
	// at startup so operators get an early error on a config meant for a
	// different authd release.
	ConfigSchemaVersion string `env:"AUTHD_CONFIG_SCHEMA_VERSION=v1"`

	// Reload poll interval for SIGHUP-triggered reloads that also need to
	// be picked up without a signal (e.g. in a container without signal
	// delivery). 0 disables polling; SIGHUP-only reload is still honored.
	ReloadInterval time.Duration `env:"AUTHD_RELOAD_INTERVAL=0"`

	// For sd-notify.
	NotifySocket string `env:"NOTIFY_SOCKET"`
}

// UnmarshalEnv unmarshals an array of environment variables into c, setting
// default values as appropriate. If incremental is true, default values are
// not set for missing env vars, only for ones explicitly present but empty.
func (c *Config) UnmarshalEnv(es []string, incremental bool) error {
	em := map[string]string{}
	for _, e := range es {
		if strings.HasPrefix(e, "AUTHD_") || strings.HasPrefix(e, "NOTIFY_SOCKET=") {
			if k, v, ok := strings.Cut(e, "="); ok {
				em[k] = v
			}
		}
	}
	cv := reflect.ValueOf(c).Elem()
	for _, ctf := range reflect.VisibleFields(cv.Type()) {
		env, ok := ctf.Tag.Lookup("env")
		if !ok {
			continue
		}

		var unsettable bool
		key, val, _ := strings.Cut(env, "=")
		if strings.HasSuffix(key, "?") {
			key = strings.TrimSuffix(key, "?")
			unsettable = true
		}
		if v, exists := em[key]; exists {
			if unsettable || v != "" {
				val = v
			}
			delete(em, key)
		} else if incremental {
			continue
		}

		switch cvf := cv.FieldByName(ctf.Name); cvf.Interface().(type) {
		case string:
			cvf.SetString(val)
		case []string:
			if val == "" {
				cvf.Set(reflect.ValueOf([]string{}))
			} else {
				cvf.Set(reflect.ValueOf(strings.Split(val, ",")))
			}
		case bool:
			if val == "" {
				cvf.SetBool(false)
			} else if v, err := strconv.ParseBool(val); err == nil {
				cvf.SetBool(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case zerolog.Level:
			if v, err := zerolog.ParseLevel(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case time.Duration:
			if v, err := time.ParseDuration(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case fs.FileMode:
			if val == "" {
				cvf.Set(reflect.ValueOf(fs.FileMode(0)))
			} else if v, err := strconv.ParseUint(val, 8, 32); err == nil {
				cvf.Set(reflect.ValueOf(fs.FileMode(v)))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		default:
			return fmt.Errorf("unhandled type %T (%s)", cvf.Interface(), env)
		}
	}
	for key, val := range em {
		if val != "" {
			return fmt.Errorf("unknown environment variable %q", key)
		}
	}
	return nil
}

// validateSemver checks that v (if non-empty) is a valid semver string,
// allowing a missing leading "v", exactly as atlas.NewServer validates
// MinimumLauncherVersion-shaped config fields.
func validateSemver(name, v string) error {
	if v == "" {
		return nil
	}
	if !semver.IsValid("v" + strings.TrimPrefix(v, "v")) {
		return fmt.Errorf("invalid %s semver %q", name, v)
	}
	return nil
}

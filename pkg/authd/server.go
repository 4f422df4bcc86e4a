package authd

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/mod/semver"

	"github.com/opencups/authd/db/authdb"
	"github.com/opencups/authd/pkg/authcore"
	"github.com/opencups/authd/pkg/authcore/authconf"
	"github.com/opencups/authd/pkg/authcore/authmetrics"
	"github.com/opencups/authd/pkg/authcore/identity"
	"github.com/opencups/authd/pkg/authcore/reqtags"
	"github.com/opencups/authd/pkg/cloudflare"
)

// Server wires an authcore.Engine to net/http, owning the listeners, the
// hot-reloadable config derived state (location table, passwd.md5,
// reqtags rules), and the /metrics endpoint.
type Server struct {
	Logger zerolog.Logger

	Addr          []string
	AddrTLS       []string
	Handler       http.Handler
	NotifySocket  string
	MetricsSecret string
	TLSConfig     *tls.Config

	Engine  *authcore.Engine
	Metrics *authmetrics.Metrics
	Rules   *reqtags.Tagger

	// ReloadInterval, if nonzero, makes Run re-run the reload closures on
	// a ticker in addition to SIGHUP, for deployments where signaling the
	// process isn't convenient (e.g. a config volume mounted read-only and
	// refreshed out-of-band).
	ReloadInterval time.Duration

	geoip *ip2xMgr
	db    *authdb.DB

	reload []func()
	closed bool
}

// NewServer configures a new Server using c, which is assumed to be
// initialized to default or configured values (as UnmarshalEnv does).
func NewServer(c *Config) (*Server, error) {
	if err := validateSemver("AUTHD_CONFIG_SCHEMA_VERSION", c.ConfigSchemaVersion); err != nil {
		return nil, err
	}
	if semver.Compare("v"+strings.TrimPrefix(c.ConfigSchemaVersion, "v"), "v1") > 0 {
		return nil, fmt.Errorf("config schema %q is newer than this build of authd supports", c.ConfigSchemaVersion)
	}

	var s Server
	ok := false

	if l, reopen, err := configureLogging(c); err == nil {
		s.Logger = l
		s.reload = append(s.reload, reopen)
	} else {
		return nil, fmt.Errorf("initialize logging: %w", err)
	}

	defer func() {
		if !ok && s.db != nil {
			s.db.Close()
		}
	}()

	locations := authcore.NewLocationTable()
	if c.Locations != "" {
		if err := loadLocations(c.Locations, locations); err != nil {
			return nil, fmt.Errorf("load locations: %w", err)
		}
		reloadLocations := func() {
			if err := loadLocations(c.Locations, locations); err != nil {
				s.Logger.Err(err).Msg("failed to reload locations")
			}
		}
		s.reload = append(s.reload, reloadLocations)
	}

	resolver, md5store, basic, db, err := configureIdentity(c)
	if err != nil {
		return nil, fmt.Errorf("initialize identity backends: %w", err)
	}
	s.db = db

	var systemGroups []string
	for _, g := range c.SystemGroups {
		if g = strings.TrimSpace(g); g != "" {
			systemGroups = append(systemGroups, g)
		}
	}

	defaultAuthType, err := parseDefaultAuthType(c.DefaultAuthType)
	if err != nil {
		return nil, fmt.Errorf("parse AUTHD_DEFAULT_AUTH_TYPE: %w", err)
	}

	s.Metrics = authmetrics.New()

	s.Engine = &authcore.Engine{
		Config: authcore.EngineConfig{
			ServerName:      c.ServerName,
			SystemGroups:    systemGroups,
			DefaultAuthType: defaultAuthType,
		},
		Locations:          locations,
		Identity:           resolver,
		MD5:                md5store,
		Basic:              basic,
		Interfaces:         authcore.DefaultInterfaceLister(),
		Observer:           s.Metrics,
		CredentialObserver: s.Metrics,
	}

	if c.Rules != "" {
		s.Rules = new(reqtags.Tagger)
		if err := s.Rules.LoadFS(os.DirFS(c.Rules)); err != nil {
			return nil, fmt.Errorf("load rules: %w", err)
		}
		s.reload = append(s.reload, func() {
			if err := s.Rules.LoadFS(os.DirFS(c.Rules)); err != nil {
				s.Logger.Err(err).Msg("failed to reload rules")
			}
		})
	}

	if c.IP2Location != "" {
		mgr := new(ip2xMgr)
		if err := mgr.Load(c.IP2Location); err != nil {
			return nil, fmt.Errorf("initialize ip2location: %w", err)
		}
		s.geoip = mgr
		s.reload = append(s.reload, func() {
			if err := mgr.Load(""); err != nil {
				s.Logger.Err(err).Msg("failed to reload ip2location database")
			}
		})
	}

	var m middlewares
	m.Add(hlog.RequestIDHandler("", "X-Authd-Request-Id"))

	if len(c.Host) != 0 {
		ns := map[string]struct{}{}
		for _, n := range c.Host {
			ns[strings.ToLower(n)] = struct{}{}
		}
		m.Add(func(h http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				host, _, err := net.SplitHostPort(r.Host)
				if err != nil {
					host = r.Host
				}
				if _, ok := ns[strings.ToLower(host)]; ok {
					h.ServeHTTP(w, r)
					return
				}
				http.Error(w, "Go away.", http.StatusForbidden)
			})
		})
	}

	if c.Cloudflare {
		m.Add(cloudflare.RealIP(func(r *http.Request, err error) {
			e := s.Logger.Warn()
			if rid, ok := hlog.IDFromRequest(r); ok {
				e = e.Stringer("rid", rid)
			}
			e.Err(err).
				Str("component", "http").
				Str("request_ip", r.RemoteAddr).
				Msg("use cloudflare ip")
		}))
	}

	m.Add(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		e := s.Logger.Info()
		if rid, ok := hlog.IDFromRequest(r); ok {
			e = e.Stringer("rid", rid)
		}
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			if addr, err := netip.ParseAddr(host); err == nil {
				if region, ok := s.region(addr); ok {
					e = e.Str("request_region", region)
				}
			}
		}
		e.Str("request_ip", r.RemoteAddr).
			Str("request_host", r.Host).
			Str("request_method", r.Method).
			Stringer("request_uri", r.URL).
			Int("response_status", status).
			Int("response_size", size).
			Dur("response_duration", duration).
			Msg("handle request")
	}))

	m.Add(hlog.NewHandler(s.Logger.With().Str("component", "authd").Logger()))
	m.Add(hlog.RequestIDHandler("rid", ""))

	s.Addr = c.Addr
	s.AddrTLS = c.AddrTLS
	s.MetricsSecret = c.MetricsSecret
	s.NotifySocket = c.NotifySocket
	s.ReloadInterval = c.ReloadInterval

	s.Handler = m.Then(http.HandlerFunc(s.serveRequest))

	if cfg, err := configureServerTLS(c); err == nil {
		s.TLSConfig = cfg
	} else {
		return nil, fmt.Errorf("initialize server tls: %w", err)
	}

	ok = true
	return &s, nil
}

// loadLocations parses path and replaces dst's entire contents in place, so
// existing Engine.Locations references stay valid across a reload.
func loadLocations(path string, dst *authcore.LocationTable) error {
	parsed, err := authconf.ParseFile(path)
	if err != nil {
		return err
	}
	dst.ReplaceAll(parsed.Entries())
	return nil
}

func parseDefaultAuthType(s string) (authcore.AuthType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return authcore.AuthNone, nil
	case "basic":
		return authcore.AuthBasic, nil
	case "digest":
		return authcore.AuthDigest, nil
	case "basicdigest":
		return authcore.AuthBasicDigest, nil
	default:
		return 0, fmt.Errorf("unknown auth type %q", s)
	}
}

// configureIdentity builds the Resolver, MD5Store and BasicHost
// implementations c selects, opening db/authdb once and sharing it between
// backends that both name "sqlite3:...".
func configureIdentity(c *Config) (identity.Resolver, identity.MD5Store, authcore.BasicHost, *authdb.DB, error) {
	var db *authdb.DB
	open := func(path string) (*authdb.DB, error) {
		if db != nil {
			return db, nil
		}
		d, err := authdb.Open(path)
		if err != nil {
			return nil, err
		}
		if _, tgt, err := d.Version(); err == nil {
			if err := d.MigrateUp(context.Background(), tgt); err != nil {
				d.Close()
				return nil, fmt.Errorf("migrate %s: %w", path, err)
			}
		} else {
			d.Close()
			return nil, fmt.Errorf("check schema version of %s: %w", path, err)
		}
		db = d
		return d, nil
	}

	var resolver identity.Resolver
	switch backend, arg, _ := strings.Cut(c.IdentityBackend, ":"); backend {
	case "", "os":
		resolver = identity.OSResolver{}
	case "sqlite3":
		d, err := open(arg)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("identity backend: %w", err)
		}
		resolver = d
	default:
		return nil, nil, nil, nil, fmt.Errorf("unknown identity backend %q", c.IdentityBackend)
	}

	var md5store identity.MD5Store
	if c.PasswdMD5 != "" {
		md5store = &identity.MD5File{
			Path: c.PasswdMD5,
			Log: func(format string, args ...any) {
				fmt.Fprintf(os.Stderr, "passwd.md5: "+format+"\n", args...)
			},
		}
	}

	var basic authcore.BasicHost
	switch backend, arg, _ := strings.Cut(c.BasicBackend, ":"); backend {
	case "", "crypt":
		basic = authcore.CryptHost{Lookup: identity.ReadShadow}
	case "sqlite3":
		d, err := open(arg)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("basic backend: %w", err)
		}
		if md5store == nil {
			md5store = d
		}
		basic = dbBasicHost{d}
	default:
		return nil, nil, nil, nil, fmt.Errorf("unknown basic backend %q", c.BasicBackend)
	}

	return resolver, md5store, basic, db, nil
}

// dbBasicHost adapts an authdb.DB's stored Digest HA1 values (rather than a
// crypt hash) to Basic auth, recomputing HA1 from the presented cleartext
// password, exactly as Engine.verifyCredentials does for a BasicDigest
// Location.
type dbBasicHost struct {
	db *authdb.DB
}

func (h dbBasicHost) Authenticate(ctx context.Context, username, password string) (bool, error) {
	stored, ok := h.db.GetMD5(username, "")
	if !ok || stored == "" {
		return false, nil
	}
	computed := authcore.DigestHA1(username, authcore.DigestRealm, password)
	return authcore.ConstantTimeEqual(computed, stored), nil
}

func configureLogging(c *Config) (l zerolog.Logger, reopen func(), err error) {
	var outputs []io.Writer
	if c.LogStdout {
		if c.LogStdoutPretty {
			outputs = append(outputs, newZerologWriterLevel(zerolog.ConsoleWriter{Out: os.Stdout}, c.LogStdoutLevel))
		} else {
			outputs = append(outputs, newZerologWriterLevel(os.Stdout, c.LogStdoutLevel))
		}
	}
	if fn := c.LogFile; fn != "" {
		x := newZerologWriterLevel(nil, c.LogFileLevel)
		if fn, err = filepath.Abs(fn); err != nil {
			err = fmt.Errorf("resolve log file: %w", err)
			return
		}
		first := true
		reopen = func() {
			x.SwapWriter(func(old io.Writer) io.Writer {
				if o, ok := old.(io.Closer); ok {
					o.Close()
				}
				// A SIGHUP reopen (not the initial open) is the rotation
				// point: the segment just closed is gzipped in place if
				// configured, the way logrotate's own postrotate hook would.
				if !first && c.LogFileGzipRotate {
					if err := gzipRotateLogFile(fn); err != nil {
						fmt.Fprintf(os.Stderr, "error: failed to gzip rotated log file: %v\n", err)
					}
				}
				first = false
				if f, ferr := os.OpenFile(fn, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666); ferr == nil {
					if c.LogFileChmod != 0 {
						f.Chmod(c.LogFileChmod)
					}
					return f
				} else {
					fmt.Fprintf(os.Stderr, "error: failed to open log file: %v\n", ferr)
				}
				return nil
			})
		}
		outputs = append(outputs, x)
		reopen()
	} else {
		reopen = func() {}
	}
	l = zerolog.New(zerolog.MultiLevelWriter(outputs...)).
		Level(c.LogLevel).
		With().
		Timestamp().
		Logger()
	return
}

// gzipRotateLogFile compresses the log file at fn into a timestamped
// "fn.20060102T150405.gz" sibling and removes the plain copy, leaving fn
// itself free for the caller to reopen as a fresh segment.
func gzipRotateLogFile(fn string) error {
	in, err := os.Open(fn)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer in.Close()

	dst := fn + "." + time.Now().UTC().Format("20060102T150405") + ".gz"
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	_, copyErr := io.Copy(gw, in)
	closeErr := gw.Close()
	out.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(dst)
		if copyErr != nil {
			return copyErr
		}
		return closeErr
	}
	return os.Remove(fn)
}

func configureServerTLS(c *Config) (*tls.Config, error) {
	var t tls.Config
	if len(c.ServerCerts) != 0 {
		for _, fn := range c.ServerCerts {
			cert, err := tls.LoadX509KeyPair(fn+".crt", fn+".key")
			if err != nil {
				return nil, fmt.Errorf("load server certificate %q: %w", fn, err)
			}
			t.Certificates = append(t.Certificates, cert)
		}
	} else if len(c.AddrTLS) != 0 {
		return nil, fmt.Errorf("no tls certificates provided")
	}
	return &t, nil
}

// Run runs the server, shutting it down gracefully when ctx is canceled,
// then waiting for that shutdown to finish. It must only be called once.
func (s *Server) Run(ctx context.Context) error {
	if s.closed {
		return http.ErrServerClosed
	}

	var hs []*http.Server
	var as []string
	for _, a := range s.Addr {
		hs = append(hs, &http.Server{Addr: a, Handler: s.Handler})
		as = append(as, "http://"+a)
	}
	for _, a := range s.AddrTLS {
		hs = append(hs, &http.Server{Addr: a, Handler: s.Handler, TLSConfig: s.TLSConfig})
		as = append(as, "https://"+a)
	}
	if len(hs) == 0 {
		return fmt.Errorf("no listen addresses provided")
	}
	s.Logger.Log().Msgf("starting server on %s", strings.Join(as, ", "))

	if s.ReloadInterval > 0 {
		go func() {
			t := time.NewTicker(s.ReloadInterval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					s.HandleSIGHUP()
				}
			}
		}()
	}

	errch := make(chan error, len(hs))
	for _, h := range hs {
		h := h
		go func() {
			if h.TLSConfig != nil {
				errch <- h.ListenAndServeTLS("", "")
			} else {
				errch <- h.ListenAndServe()
			}
		}()
	}

	select {
	case <-ctx.Done():
	case <-time.After(time.Second * 2):
		go s.sdnotify("READY=1")
	case err := <-errch:
		s.Logger.Err(err).Msg("failed to start server")
		return err
	}

	select {
	case <-ctx.Done():
		s.closed = true
		s.Logger.Log().Msg("shutting down")

		go s.sdnotify("STOPPING=1")

		var wg sync.WaitGroup
		for _, h := range hs {
			h := h
			wg.Add(1)
			go func() {
				defer wg.Done()
				h.Shutdown(context.Background())
			}()
		}
		wg.Wait()

		if s.db != nil {
			s.db.Close()
		}
		return nil
	case err := <-errch:
		s.Logger.Err(err).Msg("failed to start server")
		return err
	}
}

// HandleSIGHUP reopens the log file, then reloads the location table, the
// reqtags rules and the IP2Location database (each only if configured), in
// that order, without interrupting listeners. passwd.md5 is not reloaded
// here; it is re-read on every lookup.
func (s *Server) HandleSIGHUP() {
	if s.closed {
		return
	}
	s.sdnotify("RELOADING=1")
	defer s.sdnotify("READY=1")
	for _, fn := range s.reload {
		if fn != nil {
			fn()
		}
	}
}

// serveRequest is the single entry point for every inbound request: it
// either serves /metrics or builds an authcore.Client from r, asks the
// engine for a Decision, and writes the Decision's status code (200 with an
// "OK" body when authorized).
func (s *Server) serveRequest(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/metrics" {
		s.serveMetrics(w, r)
		return
	}

	cl := ClientFromRequest(r)
	d := s.Engine.IsAuthorized(r.Context(), cl, r.URL.Path, r.Method, "")

	// Log the matched Location's IPP operation id, when it has one (§3:
	// "used for logging when limit includes IPP"). This never affects the
	// decision itself, only the access log line.
	if _, loc, ok := s.Engine.Locations.FindBest(r.URL.Path, authcore.MapMethod(r.Method)); ok && loc.Limit&authcore.MIPP != 0 && loc.Op != 0 {
		hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Int("ipp_op", loc.Op)
		})
	}

	if s.Rules != nil {
		env := reqtags.Env{
			"decision": d.String(),
			"method":   r.Method,
			"path":     r.URL.Path,
			"host":     cl.Hostname,
		}
		tags := make(reqtags.Tags)
		if errs := s.Rules.Evaluate(env, tags); len(errs) == 0 && len(tags) > 0 {
			l := hlog.FromRequest(r)
			l.UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("tags", tags.String())
			})
		}
	}

	switch d {
	case authcore.OK:
		w.Header().Set("Cache-Control", "private, no-cache, no-store")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "OK\n")
	case authcore.Unauthorized:
		w.Header().Set("WWW-Authenticate", WWWAuthenticate(s.authTypeFor(r.URL.Path, r.Method), ""))
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	case authcore.UpgradeRequired:
		http.Error(w, http.StatusText(http.StatusUpgradeRequired), http.StatusUpgradeRequired)
	default:
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	}
}

// authTypeFor resolves the auth type of the best Location for uri/method,
// for the WWW-Authenticate challenge on a 401 response.
func (s *Server) authTypeFor(uri, method string) authcore.AuthType {
	_, loc, ok := s.Engine.Locations.FindBest(uri, authcore.MapMethod(method))
	if !ok || loc.Type == authcore.AuthNone {
		return s.Engine.Config.DefaultAuthType
	}
	return loc.Type
}

func (s *Server) serveMetrics(w http.ResponseWriter, r *http.Request) {
	var internal, geo bool
	if sec := s.MetricsSecret; sec != "" {
		internal = r.URL.Query().Get("secret") == sec
	} else {
		internal = true
	}
	geo = r.URL.Query().Has("geo")

	var b bytes.Buffer
	if internal {
		metrics.WriteProcessMetrics(&b)
		s.Metrics.WritePrometheus(&b)
	}
	if internal && geo {
		s.Metrics.WritePrometheusGeo(&b)
	}

	w.Header().Set("Cache-Control", "private, no-cache, no-store")
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Header().Set("Content-Length", strconv.Itoa(b.Len()))
	w.WriteHeader(http.StatusOK)
	b.WriteTo(w)
}

func (s *Server) sdnotify(state string) (bool, error) {
	if s.NotifySocket == "" {
		return false, nil
	}
	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: s.NotifySocket, Net: "unixgram"})
	if err != nil {
		return false, err
	}
	defer conn.Close()
	if _, err = conn.Write([]byte(state)); err != nil {
		return false, err
	}
	return true, nil
}

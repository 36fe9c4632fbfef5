/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Command kasd is the Kollaboration Access Server daemon: it loads its
// gcfg configuration, opens a TLS listener, and for every accepted
// connection runs the dispatch mux (internal/dispatch) to decide
// whether the connection speaks the principal subprotocol
// (internal/session) or a ticket-mode data plane
// (internal/ticketmode), or should be proxied/relayed outright.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/crewjam/rfc5424"
	"github.com/google/uuid"

	"github.com/kasproject/kasd/internal/dispatch"
	"github.com/kasproject/kasd/internal/kasversion"
	"github.com/kasproject/kasd/internal/kconfig"
	"github.com/kasproject/kasd/internal/kdb"
	"github.com/kasproject/kasd/internal/klog"
	"github.com/kasproject/kasd/internal/proc"
	"github.com/kasproject/kasd/internal/session"
	"github.com/kasproject/kasd/internal/ticketmode"
	"github.com/kasproject/kasd/internal/transport"

	"golang.org/x/net/netutil"
)

const (
	defaultConfigLoc   = `/opt/kasd/etc/kasd.conf`
	daemonMinor        = 4
	maxConcurrentConns = 4096
)

// probeAckID is the fixed diagnostic screen-share probe identifier
// (spec.md scenario S2): any "VNC!" connection presenting exactly
// these 32 bytes gets the literal acknowledgement reply instead of
// being proxied to a reflector.
var probeAckID = [dispatch.ProbeIDSize]byte{}

func init() {
	copy(probeAckID[:], "VNC__META__PROXY__LOCAL__TESTING")
}

var (
	confLoc = flag.String("config-file", defaultConfigLoc, "Location for configuration file")
	verbose = flag.Bool("v", false, "Display verbose status updates to stdout")
	ver     = flag.Bool("version", false, "Print the version information and exit")
)

func main() {
	flag.Parse()
	if *ver {
		kasversion.Print(os.Stdout)
		os.Exit(0)
	}

	lg := klog.New(os.Stderr)
	defer lg.Close()

	var cfg kconfig.Config
	if err := kconfig.LoadConfigFile(&cfg, *confLoc); err != nil {
		lg.FatalCode(1, "failed to load config file", rfcParam("path", *confLoc), rfcParam("error", err.Error()))
	}
	if err := cfg.Global.Verify(); err != nil {
		lg.FatalCode(1, "invalid configuration", rfcParam("error", err.Error()))
	}
	g := cfg.Global

	if g.Log_File != `` {
		fout, err := os.OpenFile(g.Log_File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err != nil {
			lg.FatalCode(1, "failed to open log file", rfcParam("path", g.Log_File), rfcParam("error", err.Error()))
		}
		defer fout.Close()
		if err := lg.AddWriter(fout); err != nil {
			lg.FatalCode(1, "failed to attach log writer", rfcParam("error", err.Error()))
		}
	}
	if err := lg.SetLevelString(g.Log_Level); err != nil {
		lg.FatalCode(1, "invalid log level", rfcParam("level", g.Log_Level))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := kdb.Open(ctx, g.DB_Connection_String)
	if err != nil {
		lg.FatalCode(1, "failed to connect to database", rfcParam("error", err.Error()))
	}
	defer pool.Close()
	procs := pool.Procedures()

	adminSecret, err := loadAdminSecret(g.Administrator_Secret_File)
	if err != nil {
		lg.FatalCode(1, "failed to load administrator secret", rfcParam("error", err.Error()))
	}

	cert, err := tls.LoadX509KeyPair(g.TLS_Certificate_File, g.TLS_Key_File)
	if err != nil {
		lg.FatalCode(1, "failed to load TLS certificate", rfcParam("error", err.Error()))
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}

	addr, err := g.ListenHostPort()
	if err != nil {
		lg.FatalCode(1, "bad listen address", rfcParam("error", err.Error()))
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		lg.FatalCode(1, "failed to listen", rfcParam("addr", addr), rfcParam("error", err.Error()))
	}
	ln = netutil.LimitListener(ln, maxConcurrentConns)
	tln := tls.NewListener(ln, tlsCfg)

	helpers := proc.Helpers{
		TicketValidatorPath: g.Ticket_Validator_Path,
		KFSSyncPath:         g.KFS_Sync_Path,
		WorkspaceDeletePath: g.Workspace_Delete_Path,
		MailSenderPath:      g.Mail_Sender_Path,
		ReflectorPath:       g.Screen_Share_Reflector_Path,
	}

	portStart, portEnd, err := g.ScreenSharePortRange()
	if err != nil && *verbose {
		fmt.Fprintf(os.Stderr, "screen-share port range not configured: %v\n", err)
	}

	targets := dispatch.Targets{
		PeerProxyAddr: g.Peer_Proxy_Address,
		WebProxyAddr:  g.Web_Proxy_Address,
		ScreenShareID: probeAckID,
		ResolvePort:   screenShareProbeResolver(portStart, portEnd),
	}

	d := &daemon{
		lg:                lg,
		procs:             procs,
		helpers:           helpers,
		admin:             adminSecret,
		trustedKeys:       g.TrustedKeyIDSet(),
		targets:           targets,
		dsn:               g.DB_Connection_String,
		kfsRoot:           g.KFS_Storage_Root,
		dlMinChunk:        g.Download_Chunk_Min_Bytes,
		dlMaxChunk:        g.Download_Chunk_Max_Bytes,
		backpressureBytes: g.Backpressure_Threshold_Bytes,
		minMinor:          uint32(g.Minimum_Supported_Minor),
		licenseBytes:      g.Licensed_Storage_Bytes,
		licenseSecs:       g.Licensed_Screen_Share_Seconds,
	}

	quit := proc.QuitChannel()
	go func() {
		sig := <-quit
		lg.Infof("received signal %v, shutting down", sig)
		cancel()
		tln.Close()
	}()

	reload := proc.ReloadChannel()
	go func() {
		for range reload {
			dir, err := os.MkdirTemp("", "kasd-debug")
			if err != nil {
				lg.Warnf("SIGUSR1: failed to create debug dir: %v", err)
				continue
			}
			lg.Infof("SIGUSR1: dumping debug profiles to %s", dir)
			proc.DumpDebugFiles(dir)
		}
	}()

	lg.Infof("kasd listening on %s", addr)
	d.acceptLoop(ctx, tln)
	lg.Infof("kasd exiting, draining %d connections", d.connCount())
	d.wg.Wait()
}

// daemon bundles everything every accepted connection's goroutine
// needs, mirroring SimpleRelay's registry-of-connections/listeners
// idiom (addConn/delConn, a WaitGroup tracked in main) generalized
// from a package of globals into a receiver so multiple listeners in
// future configurations do not collide on shared state.
type daemon struct {
	lg                *klog.Logger
	procs             kdb.Procedures
	helpers           proc.Helpers
	admin             string
	trustedKeys       map[string]struct{}
	targets           dispatch.Targets
	dsn               string
	kfsRoot           string
	dlMinChunk        int
	dlMaxChunk        int
	backpressureBytes int
	minMinor          uint32
	licenseBytes      int64
	licenseSecs       int

	wg    sync.WaitGroup
	mtx   sync.Mutex
	conns map[net.Conn]struct{}
}

func (d *daemon) connCount() int {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return len(d.conns)
}

func (d *daemon) trackConn(c net.Conn) {
	d.mtx.Lock()
	if d.conns == nil {
		d.conns = make(map[net.Conn]struct{})
	}
	d.conns[c] = struct{}{}
	d.mtx.Unlock()
}

func (d *daemon) untrackConn(c net.Conn) {
	d.mtx.Lock()
	delete(d.conns, c)
	d.mtx.Unlock()
}

// acceptLoop runs the TLS accept loop, handing every accepted
// connection to its own goroutine: the Go-idiomatic equivalent of
// spec.md §5's "fork a process per accepted connection" (a goroutine
// is this daemon's unit of per-connection isolation; the three actors
// of internal/session's engine share one mutex-protected state object).
func (d *daemon) acceptLoop(ctx context.Context, ln net.Listener) {
	var failCount int
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || strings.Contains(err.Error(), "closed") {
				return
			}
			failCount++
			d.lg.Warnf("accept failed: %v", err)
			if failCount > 3 {
				return
			}
			continue
		}
		failCount = 0
		if err := dispatch.TuneKeepAlive(underlyingTCPConn(conn)); err != nil {
			d.lg.Warnf("keepalive tuning failed for %s: %v", conn.RemoteAddr(), err)
		}
		d.trackConn(conn)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer d.untrackConn(conn)
			defer conn.Close()
			d.handleConn(ctx, conn)
		}()
	}
}

// underlyingTCPConn unwraps a *tls.Conn (as returned by a TLS-wrapping
// listener before handshake) down to its underlying *net.TCPConn so
// TuneKeepAlive's type switch can find it; TuneKeepAlive is a no-op on
// anything else.
func underlyingTCPConn(c net.Conn) net.Conn {
	type netConner interface{ NetConn() net.Conn }
	if nc, ok := c.(netConner); ok {
		return nc.NetConn()
	}
	return c
}

func (d *daemon) handleConn(ctx context.Context, conn net.Conn) {
	// A fresh correlation id ties every log line this connection
	// produces (across the broker/commander/eventer actors and,
	// later, ticket-mode) back to one accepted socket, the same role
	// ingest/log's per-ingester connection id plays in the teacher.
	connID := uuid.NewString()
	connLog := d.lg.WithFields(
		rfc5424.SDParam{Name: "conn_id", Value: connID},
		rfc5424.SDParam{Name: "peer", Value: conn.RemoteAddr().String()},
	)

	preRead, routeErr := dispatch.Route(conn, d.targets)
	if routeErr == nil {
		// fully proxied/relayed to completion inside Route.
		return
	}
	if routeErr != dispatch.ErrPrincipal {
		connLog.Warnf("dispatch error: %v", routeErr)
		return
	}

	listenConn, err := kdb.DialListenConn(ctx, d.dsn)
	if err != nil {
		connLog.Warnf("failed to open listen connection: %v", err)
		return
	}
	defer listenConn.Close(context.Background())

	tp := transport.New(conn)

	sess := session.New(session.Config{
		Procs:                 d.procs,
		ListenConn:            listenConn,
		Helpers:               d.helpers,
		AdminSecret:           d.admin,
		TrustedKeys:           d.trustedKeys,
		DaemonMinor:           daemonMinor,
		MinimumSupportedMinor: d.minMinor,
		Log:                   connLog,
	})
	hr, err := sess.Serve(ctx, tp, preRead, true)
	if err != nil {
		connLog.Infof("session ended: %v", err)
		return
	}
	if hr.Role == session.RoleWorkspace {
		return
	}

	tm := ticketmode.New(ticketmode.Config{
		Procs:                      d.procs,
		ListenConn:                 listenConn,
		Helpers:                    d.helpers,
		KFSRoot:                    d.kfsRoot,
		DownloadMinChunk:           d.dlMinChunk,
		DownloadMaxChunk:           d.dlMaxChunk,
		DownloadBytesPerSec:        d.backpressureBytes,
		LicensedStorageBytes:       d.licenseBytes,
		LicensedScreenShareSeconds: d.licenseSecs,
		Log:                        connLog,
	})
	if err := tm.Serve(ctx, tp, [4]byte{}, false); err != nil {
		connLog.Infof("ticket-mode session ended: %v", err)
	}
}

// screenShareProbeResolver decodes a local reflector port from the
// trailing 4 bytes of a screen-share probe identifier, clamped to the
// configured ephemeral range; any identifier resolving outside the
// range is rejected rather than silently proxied to an arbitrary local
// port.
func screenShareProbeResolver(portStart, portEnd int) dispatch.ScreenSharePortResolver {
	return func(id [dispatch.ProbeIDSize]byte) (uint32, bool) {
		if portStart <= 0 || portEnd <= 0 {
			return 0, false
		}
		n := len(id)
		port := uint32(id[n-4])<<24 | uint32(id[n-3])<<16 | uint32(id[n-2])<<8 | uint32(id[n-1])
		if int(port) < portStart || int(port) > portEnd {
			return 0, false
		}
		return port, true
	}
}

func loadAdminSecret(path string) (string, error) {
	if path == `` {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func rfcParam(name, value string) rfc5424.SDParam {
	return rfc5424.SDParam{Name: name, Value: value}
}

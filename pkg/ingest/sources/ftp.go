package sources

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/textproto"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/openaddresses/submit-service-sub000/pkg/errors"
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/core"
)

const (
	defaultFTPPort = "21"
	anonymousUser  = "anonymous"
)

// FTPConn is the part of an FTP control connection the adapter uses.
type FTPConn interface {
	Login(user, password string) error
	Retr(path string) (io.ReadCloser, error)
	Quit() error
}

// FTPDialer opens a control connection to addr.
type FTPDialer func(ctx context.Context, addr string) (FTPConn, error)

// FTPAdapter retrieves files over FTP. Every session ends with QUIT,
// including sessions that fail or are abandoned early.
type FTPAdapter struct {
	dial FTPDialer
}

// NewFTPAdapter creates an adapter that dials with the given timeout.
func NewFTPAdapter(timeout time.Duration) *FTPAdapter {
	return NewFTPAdapterWithDialer(dialer(timeout))
}

// NewFTPAdapterWithDialer creates an adapter around a custom dialer.
func NewFTPAdapterWithDialer(dial FTPDialer) *FTPAdapter {
	return &FTPAdapter{dial: dial}
}

func dialer(timeout time.Duration) FTPDialer {
	return func(ctx context.Context, addr string) (FTPConn, error) {
		g := &connGuard{}
		dial := func(network, address string) (net.Conn, error) {
			d := net.Dialer{Timeout: timeout}
			nc, err := d.DialContext(ctx, network, address)
			if err != nil {
				return nil, err
			}
			g.watch(ctx, nc)
			return nc, nil
		}
		opts := []ftp.DialOption{ftp.DialWithDialFunc(dial)}
		if timeout > 0 {
			opts = append(opts, ftp.DialWithShutTimeout(timeout))
		}
		c, err := ftp.Dial(addr, opts...)
		if err != nil {
			g.release()
			return nil, err
		}
		return serverConn{ServerConn: c, guard: g}, nil
	}
}

// connGuard closes the control and data connections of a session when its
// context ends, which unblocks replies the server never sends.
type connGuard struct {
	mu    sync.Mutex
	stops []func() bool
}

func (g *connGuard) watch(ctx context.Context, nc net.Conn) {
	stop := context.AfterFunc(ctx, func() { nc.Close() })
	g.mu.Lock()
	g.stops = append(g.stops, stop)
	g.mu.Unlock()
}

func (g *connGuard) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, stop := range g.stops {
		stop()
	}
	g.stops = nil
}

type serverConn struct {
	*ftp.ServerConn
	guard *connGuard
}

func (c serverConn) Retr(path string) (io.ReadCloser, error) {
	return c.ServerConn.Retr(path)
}

func (c serverConn) Quit() error {
	err := c.ServerConn.Quit()
	c.guard.release()
	return err
}

// Open logs in with the URI's credentials (anonymous by default) and
// starts retrieving the file.
func (a *FTPAdapter) Open(ctx context.Context, src core.SourceDescriptor, _ core.Window) (*core.Stream, error) {
	u := src.URL()
	display := u.Redacted()

	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), defaultFTPPort)
	}

	user, password := anonymousUser, ""
	if u.User != nil {
		user = u.User.Username()
		password, _ = u.User.Password()
	}

	conn, err := a.dial(ctx, addr)
	if err != nil {
		return nil, errors.Transport(display, err)
	}

	if err := conn.Login(user, password); err != nil {
		conn.Quit()
		var proto *textproto.Error
		if stderrors.As(err, &proto) {
			return nil, errors.Authentication(display, err).WithContext("response", proto.Error())
		}
		return nil, errors.Transport(display, err)
	}

	rc, err := conn.Retr(u.Path)
	if err != nil {
		conn.Quit()
		e := errors.Transport(display, err)
		var proto *textproto.Error
		if stderrors.As(err, &proto) {
			e = e.WithContext("response", proto.Error())
		}
		return nil, e
	}

	return &core.Stream{
		ReadCloser: &ftpStream{body: transportBody{rc: rc, uri: display}, conn: conn},
		Size:       -1,
	}, nil
}

// ftpStream closes the data connection and then the session. Close may
// race with Read when a timeout fires; it runs once.
type ftpStream struct {
	body transportBody
	conn FTPConn
	once sync.Once
	err  error
}

func (s *ftpStream) Read(p []byte) (int, error) {
	return s.body.Read(p)
}

func (s *ftpStream) Close() error {
	s.once.Do(func() {
		closeErr := s.body.Close()
		quitErr := s.conn.Quit()
		s.err = stderrors.Join(closeErr, quitErr)
	})
	return s.err
}

var _ core.Opener = (*FTPAdapter)(nil)

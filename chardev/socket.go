package chardev

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
)

const (
	redialInterval = 100 * time.Millisecond
	maxFDsPerRead  = 16
)

// Config configures the socket back end.
type Config struct {
	Path   string `yaml:"path"`
	Server bool   `yaml:"server"`
}

// Socket is the UNIX socket capable of passing file descriptors.
type Socket struct {
	conn *net.UnixConn
	oob  []byte
}

// Connect returns socket connected to the peer. It blocks until peer is available.
func Connect(ctx context.Context, config Config) (*Socket, error) {
	if config.Path == "" {
		return nil, errors.New("socket path is not specified")
	}
	if config.Server {
		return accept(ctx, config.Path)
	}
	return dial(ctx, config.Path)
}

// Pair returns two sockets connected to each other.
func Pair() (*Socket, *Socket, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}

	s1, err := fromFD(fds[0], "memexpose-pair-0")
	if err != nil {
		_ = unix.Close(fds[1])
		return nil, nil, err
	}
	s2, err := fromFD(fds[1], "memexpose-pair-1")
	if err != nil {
		_ = s1.Close()
		return nil, nil, err
	}
	return s1, s2, nil
}

// Read reads bytes and file descriptors sent by the peer.
func (s *Socket) Read(b []byte) (int, []*os.File, error) {
	n, oobn, _, _, err := s.conn.ReadMsgUnix(b, s.oob)
	if err != nil {
		return n, nil, errors.WithStack(err)
	}
	if n == 0 && oobn == 0 {
		return 0, nil, errors.WithStack(net.ErrClosed)
	}
	if oobn == 0 {
		return n, nil, nil
	}

	files, err := parseRights(s.oob[:oobn])
	if err != nil {
		return n, nil, err
	}
	return n, files, nil
}

// Write writes all the bytes. If file is not nil, its descriptor is passed together with the data.
func (s *Socket) Write(b []byte, file *os.File) error {
	var oob []byte
	if file != nil {
		oob = unix.UnixRights(int(file.Fd()))
	}

	for len(b) > 0 || oob != nil {
		n, _, err := s.conn.WriteMsgUnix(b, oob, nil)
		if err != nil {
			return errors.WithStack(err)
		}
		b = b[n:]
		oob = nil
	}
	return nil
}

// Close closes the socket.
func (s *Socket) Close() error {
	return errors.WithStack(s.conn.Close())
}

func fromFD(fd int, name string) (*Socket, error) {
	f := os.NewFile(uintptr(fd), name)
	defer f.Close()

	conn, err := net.FileConn(f)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		_ = conn.Close()
		return nil, errors.Errorf("unexpected connection type %T", conn)
	}
	return newSocket(uc), nil
}

func newSocket(conn *net.UnixConn) *Socket {
	return &Socket{
		conn: conn,
		oob:  make([]byte, unix.CmsgSpace(maxFDsPerRead*4)),
	}
}

func parseRights(oob []byte) ([]*os.File, error) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var files []*os.File
	for _, msg := range msgs {
		fds, err := unix.ParseUnixRights(&msg)
		if err != nil {
			continue
		}
		for _, fd := range fds {
			files = append(files, os.NewFile(uintptr(fd), "memexpose-received"))
		}
	}
	return files, nil
}

func accept(ctx context.Context, path string) (*Socket, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, errors.WithStack(err)
	}

	ls, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer ls.Close()

	logger.Get(ctx).Info("Waiting for peer", zap.String("path", path))

	var conn *net.UnixConn
	err = parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("accept", parallel.Exit, func(ctx context.Context) error {
			c, err := ls.AcceptUnix()
			if err != nil {
				if ctx.Err() != nil {
					return errors.WithStack(ctx.Err())
				}
				return errors.WithStack(err)
			}
			conn = c
			return nil
		})
		spawn("watchdog", parallel.Continue, func(ctx context.Context) error {
			<-ctx.Done()
			_ = ls.Close()
			return nil
		})
		return nil
	})
	if err != nil {
		if conn != nil {
			_ = conn.Close()
		}
		return nil, err
	}
	return newSocket(conn), nil
}

func dial(ctx context.Context, path string) (*Socket, error) {
	log := logger.Get(ctx)
	addr := &net.UnixAddr{Name: path, Net: "unix"}
	for {
		conn, err := net.DialUnix("unix", nil, addr)
		if err == nil {
			return newSocket(conn), nil
		}

		log.Debug("Peer not ready", zap.String("path", path), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, errors.WithStack(ctx.Err())
		case <-time.After(redialInterval):
		}
	}
}

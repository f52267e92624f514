package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"
	"time"

	"framepipe/internal/api"
	"framepipe/internal/daemon"
	"framepipe/internal/logging"
	"framepipe/internal/runstore"
	"framepipe/internal/workflow"
)

// serviceName prefixes every RPC method.
const serviceName = "Framepipe"

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logging.NewComponentLogger(logger, "ipc"), ctx: serverCtx}
	if err := rpcServer.RegisterName(serviceName, srv); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String("impact", "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String("impact", "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually before restarting the daemon"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func requireID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("run id is required")
	}
	return id, nil
}

func (s *service) Submit(req SubmitRequest, resp *SubmitResponse) error {
	id, err := s.daemon.Submit(s.ctx, req.Pipeline, req.Input)
	if err != nil {
		return err
	}
	resp.ID = id
	s.logger.Debug("run submitted via IPC", logging.String(logging.FieldRunID, id))
	return nil
}

func (s *service) Status(req RunRequest, resp *StatusResponse) error {
	id, err := requireID(req.ID)
	if err != nil {
		return err
	}
	run, err := s.daemon.Describe(s.ctx, id)
	if err != nil {
		return err
	}
	resp.ID = run.ID
	resp.Status = string(run.Status)
	return nil
}

func (s *service) Describe(req RunRequest, resp *DescribeResponse) error {
	id, err := requireID(req.ID)
	if err != nil {
		return err
	}
	run, err := s.daemon.Describe(s.ctx, id)
	if err != nil {
		return err
	}
	resp.Run = api.FromRun(run)
	return nil
}

func (s *service) Result(req ResultRequest, resp *ResultResponse) error {
	id, err := requireID(req.ID)
	if err != nil {
		return err
	}
	timeout := time.Duration(req.TimeoutMillis) * time.Millisecond
	run, err := s.daemon.Result(s.ctx, id, timeout)
	pending := errors.Is(err, workflow.ErrStillRunning)
	if err != nil && !pending {
		return err
	}
	*resp = api.NewResultResponse(id, run, pending)
	return nil
}

func (s *service) Cancel(req RunRequest, resp *CancelResponse) error {
	id, err := requireID(req.ID)
	if err != nil {
		return err
	}
	s.logger.Debug("run cancel requested", logging.String(logging.FieldRunID, id))
	if err := s.daemon.Cancel(s.ctx, id); err != nil {
		return err
	}
	run, err := s.daemon.Describe(s.ctx, id)
	if err != nil {
		return err
	}
	resp.Run = api.FromRun(run)
	return nil
}

func (s *service) Resume(req RunRequest, resp *ResumeResponse) error {
	id, err := requireID(req.ID)
	if err != nil {
		return err
	}
	run, err := s.daemon.Resume(s.ctx, id)
	if err != nil {
		return err
	}
	resp.Run = api.FromRun(run)
	return nil
}

func (s *service) List(req ListRequest, resp *ListResponse) error {
	statuses := make([]runstore.Status, 0, len(req.Statuses))
	for _, value := range req.Statuses {
		parsed, ok := runstore.ParseStatus(value)
		if !ok {
			return fmt.Errorf("unknown status %q", value)
		}
		statuses = append(statuses, parsed)
	}
	runs, err := s.daemon.ListRuns(s.ctx, statuses)
	if err != nil {
		return err
	}
	resp.Runs = api.FromRuns(runs)
	return nil
}

func (s *service) Workers(_ WorkersRequest, resp *WorkersResponse) error {
	*resp = api.FromSnapshot(s.daemon.Workers())
	return nil
}

func (s *service) DaemonStatus(_ DaemonStatusRequest, resp *DaemonStatusResponse) error {
	*resp = daemon.APIStatus(s.daemon.Status(s.ctx))
	return nil
}

func (s *service) Health(_ HealthRequest, resp *HealthResponse) error {
	resp.Checks = api.FromChecks(s.daemon.Health(s.ctx))
	return nil
}

func (s *service) Remove(req RunRequest, resp *RemoveResponse) error {
	id, err := requireID(req.ID)
	if err != nil {
		return err
	}
	if err := s.daemon.Remove(s.ctx, id); err != nil {
		return err
	}
	resp.Removed = true
	return nil
}

func (s *service) ClearCompleted(_ ClearCompletedRequest, resp *ClearCompletedResponse) error {
	removed, err := s.daemon.ClearCompleted(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	return nil
}

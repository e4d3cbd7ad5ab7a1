// Package transport exposes the out-of-scope Session/notify contract
// (spec.md §6 "Session interface") over gRPC, adapted from the
// teacher's pkg/api gRPC server but slimmed to a single thin service:
// push output lines to a connected session, and accept a line of input
// for a task parked on ResultNeedInput. Rather than hand-writing and
// committing generated .pb.go stubs for two string-shaped messages, the
// service is declared directly against google.golang.org/protobuf's
// well-known wrapperspb.StringValue, which is itself a proto.Message the
// grpc codec already knows how to marshal.
package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/cuemby/moo/internal/ids"
	"github.com/cuemby/moo/internal/obslog"
)

// Scheduler is the narrow slice of internal/scheduler.Scheduler this
// service needs, kept local to avoid a transport->scheduler->vm import
// chain pulling in more than the Session contract requires.
type Scheduler interface {
	ProvideInput(id ids.TaskID, line string) error
}

// Server implements the Session gRPC service: a server-streaming
// Notifications call and a unary ProvideInput call.
type Server struct {
	sched Scheduler

	mu       sync.Mutex
	byPlayer map[string][]chan string
}

// New creates a Session service bound to sched.
func New(sched Scheduler) *Server {
	return &Server{sched: sched, byPlayer: make(map[string][]chan string)}
}

// Notify implements vm.Session, fanning a line out to every stream
// subscribed for player (spec.md §6 Session interface "notify").
func (s *Server) Notify(player ids.ObjID, line string) {
	key := player.String()
	s.mu.Lock()
	subs := append([]chan string{}, s.byPlayer[key]...)
	s.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- line:
		default:
			obslog.WithComponent("transport").Warn().Str("player", key).Msg("dropped notification: subscriber not draining")
		}
	}
}

func (s *Server) subscribe(player string) chan string {
	ch := make(chan string, 64)
	s.mu.Lock()
	s.byPlayer[player] = append(s.byPlayer[player], ch)
	s.mu.Unlock()
	return ch
}

// notifications streams lines for one player connection until ctx is
// cancelled by the client disconnecting.
func (s *Server) notifications(req *wrapperspb.StringValue, stream grpc.ServerStream) error {
	ch := s.subscribe(req.GetValue())
	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-ch:
			if err := stream.SendMsg(wrapperspb.String(line)); err != nil {
				return err
			}
		}
	}
}

// provideInput implements ProvideInput("<taskID>:<line>") -> "ok",
// encoding both fields into one StringValue so no second message type
// needs defining.
func (s *Server) provideInput(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	parts := strings.SplitN(req.GetValue(), ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("transport: malformed ProvideInput payload %q", req.GetValue())
	}
	taskID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("transport: bad task id: %w", err)
	}
	if err := s.sched.ProvideInput(ids.TaskID(taskID), parts[1]); err != nil {
		return nil, err
	}
	return wrapperspb.String("ok"), nil
}

// ServiceDesc is the hand-declared gRPC service descriptor (spec.md §6.1
// "grpc Session service using well-known protobuf types"), registered
// with a *grpc.Server the same way the teacher registers its generated
// WarrenAPIServer descriptor in pkg/api.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "moo.Session",
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ProvideInput",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				in := new(wrapperspb.StringValue)
				if err := dec(in); err != nil {
					return nil, err
				}
				s := srv.(*Server)
				if interceptor == nil {
					return s.provideInput(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/moo.Session/ProvideInput"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return s.provideInput(ctx, req.(*wrapperspb.StringValue))
				}
				return interceptor(ctx, in, info, handler)
			},
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Notifications",
			ServerStreams: true,
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				s := srv.(*Server)
				req := new(wrapperspb.StringValue)
				if err := stream.RecvMsg(req); err != nil {
					return err
				}
				return s.notifications(req, stream)
			},
		},
	},
	Metadata: "moo/session.proto",
}

// Register attaches the Session service to an existing *grpc.Server,
// mirroring pkg/api's RegisterWarrenAPIServer call.
func Register(gs *grpc.Server, sched Scheduler) *Server {
	s := New(sched)
	gs.RegisterService(&ServiceDesc, s)
	return s
}

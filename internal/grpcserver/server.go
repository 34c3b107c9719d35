// Package grpcserver exposes job submission and status over gRPC. Messages
// are google.protobuf.Struct so the service needs no generated code.
package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"senhts/internal/pipeline"
	"senhts/internal/storage"
)

const serviceName = "senhts.Harmonizer"

// HarmonizerServer is the service contract.
type HarmonizerServer interface {
	// Submit takes {type, target, output, options} and returns {job_id}.
	Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	// Status takes {job_id} and returns {job_id, type, status, error, meta}.
	Status(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*HarmonizerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: unaryHandler("Submit", HarmonizerServer.Submit)},
		{MethodName: "Status", Handler: unaryHandler("Status", HarmonizerServer.Status)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "senhts/harmonizer.proto",
}

func unaryHandler(method string, call func(HarmonizerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(HarmonizerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(HarmonizerServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Submitter accepts pipeline jobs.
type Submitter interface {
	Submit(job pipeline.Job) error
}

// JobStore reads persisted job state.
type JobStore interface {
	Job(id string) (storage.JobRecord, error)
	JobMeta(id string) (map[string]any, error)
}

// Server implements HarmonizerServer on top of the job pipeline.
type Server struct {
	pipeline Submitter
	store    JobStore
	log      *slog.Logger
}

// New creates a Server.
func New(pipe Submitter, store JobStore, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{pipeline: pipe, store: store, log: log}
}

// RegisterWithServer attaches the service to grpcServer.
func (s *Server) RegisterWithServer(grpcServer *grpc.Server) {
	grpcServer.RegisterService(&serviceDesc, s)
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	listen, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(16*1024*1024),
		grpc.MaxSendMsgSize(16*1024*1024),
	)
	s.RegisterWithServer(grpcServer)

	go func() {
		<-ctx.Done()
		grpcServer.GracefulStop()
	}()

	s.log.Info("gRPC server starting", "addr", listen.Addr().String())
	if err := grpcServer.Serve(listen); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *Server) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.AsMap()
	jobType := pipeline.JobBuild
	if v, ok := fields["type"].(string); ok && v != "" {
		t, err := pipeline.ParseJobType(v)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		jobType = t
	}

	job := pipeline.Job{Type: jobType}
	job.ID, _ = fields["id"].(string)
	if job.ID == "" {
		job.ID = string(jobType) + "-" + uuid.NewString()
	}
	job.Target, _ = fields["target"].(string)
	job.Output, _ = fields["output"].(string)
	if opts, ok := fields["options"].(map[string]any); ok {
		job.Options = opts
	}

	if err := s.pipeline.Submit(job); err != nil {
		code := codes.InvalidArgument
		if errors.Is(err, pipeline.ErrQueueFull) {
			code = codes.ResourceExhausted
		}
		return nil, status.Error(code, err.Error())
	}
	s.log.Info("job queued", "id", job.ID, "type", job.Type, "via", "grpc")
	return structpb.NewStruct(map[string]any{"job_id": job.ID})
}

func (s *Server) Status(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, _ := in.AsMap()["job_id"].(string)
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "job_id is required")
	}
	rec, err := s.store.Job(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, status.Error(codes.NotFound, err.Error())
	}
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	out := map[string]any{
		"job_id": rec.ID,
		"type":   rec.JobType,
		"status": rec.Status,
		"error":  rec.Error,
	}
	if meta, err := s.store.JobMeta(id); err == nil && meta != nil {
		out["meta"] = meta
	}
	res, err := structpb.NewStruct(out)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return res, nil
}

// Client calls a remote Harmonizer service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Submit queues a job and returns its id.
func (c *Client) Submit(ctx context.Context, jobType pipeline.JobType, target string, options map[string]any) (string, error) {
	in, err := structpb.NewStruct(map[string]any{
		"type":    string(jobType),
		"target":  target,
		"options": options,
	})
	if err != nil {
		return "", err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Submit", in, out); err != nil {
		return "", err
	}
	return out.GetFields()["job_id"].GetStringValue(), nil
}

// Status returns the job state fields.
func (c *Client) Status(ctx context.Context, id string) (map[string]any, error) {
	in, err := structpb.NewStruct(map[string]any{"job_id": id})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Status", in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

package goprofv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	Session_Attach_FullMethodName             = "/goprof.v1.Session/Attach"
	Session_Detach_FullMethodName             = "/goprof.v1.Session/Detach"
	Session_Start_FullMethodName              = "/goprof.v1.Session/Start"
	Session_Reset_FullMethodName              = "/goprof.v1.Session/Reset"
	Session_Analyze_FullMethodName            = "/goprof.v1.Session/Analyze"
	Session_UpdateFilter_FullMethodName       = "/goprof.v1.Session/UpdateFilter"
	Session_ArmCodeProfiling_FullMethodName   = "/goprof.v1.Session/ArmCodeProfiling"
	Session_GetState_FullMethodName           = "/goprof.v1.Session/GetState"
	Session_GetLatestResults_FullMethodName   = "/goprof.v1.Session/GetLatestResults"
	Session_Ping_FullMethodName               = "/goprof.v1.Session/Ping"
	Session_SetLabelTransition_FullMethodName = "/goprof.v1.Session/SetLabelTransition"
	Session_SetMaxDuration_FullMethodName     = "/goprof.v1.Session/SetMaxDuration"
	Session_SetStartWait_FullMethodName       = "/goprof.v1.Session/SetStartWait"
	Session_Watch_FullMethodName              = "/goprof.v1.Session/Watch"
)

// SessionClient is the client API for the Session service.
type SessionClient interface {
	Attach(ctx context.Context, in *AttachRequest, opts ...grpc.CallOption) (*AttachResponse, error)
	Detach(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Start(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Reset(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Analyze(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error)
	UpdateFilter(ctx context.Context, in *FilterRequest, opts ...grpc.CallOption) (*emptypb.Empty, error)
	ArmCodeProfiling(ctx context.Context, in *ArmRequest, opts ...grpc.CallOption) (*emptypb.Empty, error)
	GetState(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*StateResponse, error)
	GetLatestResults(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*ResultsResponse, error)
	Ping(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	SetLabelTransition(ctx context.Context, in *wrapperspb.BoolValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	SetMaxDuration(ctx context.Context, in *DurationRequest, opts ...grpc.CallOption) (*emptypb.Empty, error)
	SetStartWait(ctx context.Context, in *DurationRequest, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Watch(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (Session_WatchClient, error)
}

type sessionClient struct {
	cc grpc.ClientConnInterface
}

// NewSessionClient wraps a connection. Every call is sent with the goprof codec.
func NewSessionClient(cc grpc.ClientConnInterface) SessionClient {
	return &sessionClient{cc}
}

func invoke[Req any, Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in *Req, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sessionClient) Attach(ctx context.Context, in *AttachRequest, opts ...grpc.CallOption) (*AttachResponse, error) {
	return invoke[AttachRequest, AttachResponse](ctx, c.cc, Session_Attach_FullMethodName, in, opts)
}

func (c *sessionClient) Detach(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty, emptypb.Empty](ctx, c.cc, Session_Detach_FullMethodName, in, opts)
}

func (c *sessionClient) Start(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty, emptypb.Empty](ctx, c.cc, Session_Start_FullMethodName, in, opts)
}

func (c *sessionClient) Reset(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty, emptypb.Empty](ctx, c.cc, Session_Reset_FullMethodName, in, opts)
}

func (c *sessionClient) Analyze(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty, emptypb.Empty](ctx, c.cc, Session_Analyze_FullMethodName, in, opts)
}

func (c *sessionClient) UpdateFilter(ctx context.Context, in *FilterRequest, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[FilterRequest, emptypb.Empty](ctx, c.cc, Session_UpdateFilter_FullMethodName, in, opts)
}

func (c *sessionClient) ArmCodeProfiling(ctx context.Context, in *ArmRequest, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[ArmRequest, emptypb.Empty](ctx, c.cc, Session_ArmCodeProfiling_FullMethodName, in, opts)
}

func (c *sessionClient) GetState(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*StateResponse, error) {
	return invoke[emptypb.Empty, StateResponse](ctx, c.cc, Session_GetState_FullMethodName, in, opts)
}

func (c *sessionClient) GetLatestResults(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*ResultsResponse, error) {
	return invoke[emptypb.Empty, ResultsResponse](ctx, c.cc, Session_GetLatestResults_FullMethodName, in, opts)
}

func (c *sessionClient) Ping(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	return invoke[emptypb.Empty, wrapperspb.StringValue](ctx, c.cc, Session_Ping_FullMethodName, in, opts)
}

func (c *sessionClient) SetLabelTransition(ctx context.Context, in *wrapperspb.BoolValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[wrapperspb.BoolValue, emptypb.Empty](ctx, c.cc, Session_SetLabelTransition_FullMethodName, in, opts)
}

func (c *sessionClient) SetMaxDuration(ctx context.Context, in *DurationRequest, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[DurationRequest, emptypb.Empty](ctx, c.cc, Session_SetMaxDuration_FullMethodName, in, opts)
}

func (c *sessionClient) SetStartWait(ctx context.Context, in *DurationRequest, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[DurationRequest, emptypb.Empty](ctx, c.cc, Session_SetStartWait_FullMethodName, in, opts)
}

func (c *sessionClient) Watch(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (Session_WatchClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &Session_ServiceDesc.Streams[0], Session_Watch_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &sessionWatchClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// Session_WatchClient receives session events.
type Session_WatchClient interface {
	Recv() (*Event, error)
	grpc.ClientStream
}

type sessionWatchClient struct {
	grpc.ClientStream
}

func (x *sessionWatchClient) Recv() (*Event, error) {
	m := new(Event)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// SessionServer is the server API for the Session service.
type SessionServer interface {
	Attach(context.Context, *AttachRequest) (*AttachResponse, error)
	Detach(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Start(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Reset(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Analyze(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	UpdateFilter(context.Context, *FilterRequest) (*emptypb.Empty, error)
	ArmCodeProfiling(context.Context, *ArmRequest) (*emptypb.Empty, error)
	GetState(context.Context, *emptypb.Empty) (*StateResponse, error)
	GetLatestResults(context.Context, *emptypb.Empty) (*ResultsResponse, error)
	Ping(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	SetLabelTransition(context.Context, *wrapperspb.BoolValue) (*emptypb.Empty, error)
	SetMaxDuration(context.Context, *DurationRequest) (*emptypb.Empty, error)
	SetStartWait(context.Context, *DurationRequest) (*emptypb.Empty, error)
	Watch(*emptypb.Empty, Session_WatchServer) error
	mustEmbedUnimplementedSessionServer()
}

// UnimplementedSessionServer must be embedded for forward compatibility.
type UnimplementedSessionServer struct{}

func (UnimplementedSessionServer) Attach(context.Context, *AttachRequest) (*AttachResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Attach not implemented")
}
func (UnimplementedSessionServer) Detach(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Detach not implemented")
}
func (UnimplementedSessionServer) Start(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Start not implemented")
}
func (UnimplementedSessionServer) Reset(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Reset not implemented")
}
func (UnimplementedSessionServer) Analyze(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Analyze not implemented")
}
func (UnimplementedSessionServer) UpdateFilter(context.Context, *FilterRequest) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method UpdateFilter not implemented")
}
func (UnimplementedSessionServer) ArmCodeProfiling(context.Context, *ArmRequest) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method ArmCodeProfiling not implemented")
}
func (UnimplementedSessionServer) GetState(context.Context, *emptypb.Empty) (*StateResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetState not implemented")
}
func (UnimplementedSessionServer) GetLatestResults(context.Context, *emptypb.Empty) (*ResultsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetLatestResults not implemented")
}
func (UnimplementedSessionServer) Ping(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Ping not implemented")
}
func (UnimplementedSessionServer) SetLabelTransition(context.Context, *wrapperspb.BoolValue) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method SetLabelTransition not implemented")
}
func (UnimplementedSessionServer) SetMaxDuration(context.Context, *DurationRequest) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method SetMaxDuration not implemented")
}
func (UnimplementedSessionServer) SetStartWait(context.Context, *DurationRequest) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method SetStartWait not implemented")
}
func (UnimplementedSessionServer) Watch(*emptypb.Empty, Session_WatchServer) error {
	return status.Error(codes.Unimplemented, "method Watch not implemented")
}
func (UnimplementedSessionServer) mustEmbedUnimplementedSessionServer() {}

// RegisterSessionServer attaches srv to the gRPC registrar.
func RegisterSessionServer(s grpc.ServiceRegistrar, srv SessionServer) {
	s.RegisterService(&Session_ServiceDesc, srv)
}

func unaryHandler[Req any, Resp any](method string, call func(SessionServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SessionServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SessionServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func _Session_Watch_Handler(srv any, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(SessionServer).Watch(m, &sessionWatchServer{stream})
}

// Session_WatchServer pushes session events to one controller.
type Session_WatchServer interface {
	Send(*Event) error
	grpc.ServerStream
}

type sessionWatchServer struct {
	grpc.ServerStream
}

func (x *sessionWatchServer) Send(m *Event) error {
	return x.ServerStream.SendMsg(m)
}

// Session_ServiceDesc is the grpc.ServiceDesc for the Session service.
var Session_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "goprof.v1.Session",
	HandlerType: (*SessionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Attach", Handler: unaryHandler(Session_Attach_FullMethodName, SessionServer.Attach)},
		{MethodName: "Detach", Handler: unaryHandler(Session_Detach_FullMethodName, SessionServer.Detach)},
		{MethodName: "Start", Handler: unaryHandler(Session_Start_FullMethodName, SessionServer.Start)},
		{MethodName: "Reset", Handler: unaryHandler(Session_Reset_FullMethodName, SessionServer.Reset)},
		{MethodName: "Analyze", Handler: unaryHandler(Session_Analyze_FullMethodName, SessionServer.Analyze)},
		{MethodName: "UpdateFilter", Handler: unaryHandler(Session_UpdateFilter_FullMethodName, SessionServer.UpdateFilter)},
		{MethodName: "ArmCodeProfiling", Handler: unaryHandler(Session_ArmCodeProfiling_FullMethodName, SessionServer.ArmCodeProfiling)},
		{MethodName: "GetState", Handler: unaryHandler(Session_GetState_FullMethodName, SessionServer.GetState)},
		{MethodName: "GetLatestResults", Handler: unaryHandler(Session_GetLatestResults_FullMethodName, SessionServer.GetLatestResults)},
		{MethodName: "Ping", Handler: unaryHandler(Session_Ping_FullMethodName, SessionServer.Ping)},
		{MethodName: "SetLabelTransition", Handler: unaryHandler(Session_SetLabelTransition_FullMethodName, SessionServer.SetLabelTransition)},
		{MethodName: "SetMaxDuration", Handler: unaryHandler(Session_SetMaxDuration_FullMethodName, SessionServer.SetMaxDuration)},
		{MethodName: "SetStartWait", Handler: unaryHandler(Session_SetStartWait_FullMethodName, SessionServer.SetStartWait)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       _Session_Watch_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "goprof/v1/session.proto",
}

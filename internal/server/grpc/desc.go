package grpcserver

import (
	"context"

	"google.golang.org/grpc"

	"github.com/and161185/callrelay/internal/api"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "callrelay.v1.Relay"

// Full method names.
const (
	MethodRequestCode     = "/" + ServiceName + "/RequestCode"
	MethodRedeemCode      = "/" + ServiceName + "/RedeemCode"
	MethodRegisterDevice  = "/" + ServiceName + "/RegisterDevice"
	MethodInitiateCall    = "/" + ServiceName + "/InitiateCall"
	MethodSubmitOffer     = "/" + ServiceName + "/SubmitOffer"
	MethodSubmitAnswer    = "/" + ServiceName + "/SubmitAnswer"
	MethodSubmitCandidate = "/" + ServiceName + "/SubmitCandidate"
	MethodDrainEvents     = "/" + ServiceName + "/DrainEvents"
	MethodWatchEvents     = "/" + ServiceName + "/WatchEvents"
	MethodStats           = "/" + ServiceName + "/Stats"
	MethodGetCall         = "/" + ServiceName + "/GetCall"
)

// RelayServer is the server API of callrelay.v1.Relay.
type RelayServer interface {
	RequestCode(context.Context, *api.RequestCodeRequest) (*api.RequestCodeResponse, error)
	RedeemCode(context.Context, *api.RedeemCodeRequest) (*api.RedeemCodeResponse, error)
	RegisterDevice(context.Context, *api.RegisterDeviceRequest) (*api.RegisterDeviceResponse, error)
	InitiateCall(context.Context, *api.InitiateCallRequest) (*api.InitiateCallResponse, error)
	SubmitOffer(context.Context, *api.OfferRequest) (*api.Ack, error)
	SubmitAnswer(context.Context, *api.AnswerRequest) (*api.Ack, error)
	SubmitCandidate(context.Context, *api.CandidateRequest) (*api.Ack, error)
	DrainEvents(context.Context, *api.EventsRequest) (*api.EventsResponse, error)
	WatchEvents(*api.EventsRequest, grpc.ServerStreamingServer[api.EventsResponse]) error
	Stats(context.Context, *api.StatsRequest) (*api.StatsResponse, error)
	GetCall(context.Context, *api.CallRequest) (*api.CallResponse, error)
}

// RegisterRelayServer registers srv on s.
func RegisterRelayServer(s grpc.ServiceRegistrar, srv RelayServer) {
	s.RegisterService(&relayServiceDesc, srv)
}

func unary[Req, Resp any](name string, call func(RelayServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(RelayServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(RelayServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(api.EventsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(RelayServer).WatchEvents(in, &grpc.GenericServerStream[api.EventsRequest, api.EventsResponse]{ServerStream: stream})
}

var relayServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RelayServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("RequestCode", RelayServer.RequestCode),
		unary("RedeemCode", RelayServer.RedeemCode),
		unary("RegisterDevice", RelayServer.RegisterDevice),
		unary("InitiateCall", RelayServer.InitiateCall),
		unary("SubmitOffer", RelayServer.SubmitOffer),
		unary("SubmitAnswer", RelayServer.SubmitAnswer),
		unary("SubmitCandidate", RelayServer.SubmitCandidate),
		unary("DrainEvents", RelayServer.DrainEvents),
		unary("Stats", RelayServer.Stats),
		unary("GetCall", RelayServer.GetCall),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "callrelay/v1/relay",
}

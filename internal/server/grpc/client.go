package grpcserver

import (
	"context"

	"google.golang.org/grpc"

	"github.com/and161185/callrelay/internal/api"
)

// Client is the client API of callrelay.v1.Relay. Every call is sent with the
// JSON content-subtype.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *Client, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RequestCode(ctx context.Context, in *api.RequestCodeRequest, opts ...grpc.CallOption) (*api.RequestCodeResponse, error) {
	return invoke[api.RequestCodeResponse](ctx, c, MethodRequestCode, in, opts)
}

func (c *Client) RedeemCode(ctx context.Context, in *api.RedeemCodeRequest, opts ...grpc.CallOption) (*api.RedeemCodeResponse, error) {
	return invoke[api.RedeemCodeResponse](ctx, c, MethodRedeemCode, in, opts)
}

func (c *Client) RegisterDevice(ctx context.Context, in *api.RegisterDeviceRequest, opts ...grpc.CallOption) (*api.RegisterDeviceResponse, error) {
	return invoke[api.RegisterDeviceResponse](ctx, c, MethodRegisterDevice, in, opts)
}

func (c *Client) InitiateCall(ctx context.Context, in *api.InitiateCallRequest, opts ...grpc.CallOption) (*api.InitiateCallResponse, error) {
	return invoke[api.InitiateCallResponse](ctx, c, MethodInitiateCall, in, opts)
}

func (c *Client) SubmitOffer(ctx context.Context, in *api.OfferRequest, opts ...grpc.CallOption) (*api.Ack, error) {
	return invoke[api.Ack](ctx, c, MethodSubmitOffer, in, opts)
}

func (c *Client) SubmitAnswer(ctx context.Context, in *api.AnswerRequest, opts ...grpc.CallOption) (*api.Ack, error) {
	return invoke[api.Ack](ctx, c, MethodSubmitAnswer, in, opts)
}

func (c *Client) SubmitCandidate(ctx context.Context, in *api.CandidateRequest, opts ...grpc.CallOption) (*api.Ack, error) {
	return invoke[api.Ack](ctx, c, MethodSubmitCandidate, in, opts)
}

func (c *Client) DrainEvents(ctx context.Context, in *api.EventsRequest, opts ...grpc.CallOption) (*api.EventsResponse, error) {
	return invoke[api.EventsResponse](ctx, c, MethodDrainEvents, in, opts)
}

func (c *Client) Stats(ctx context.Context, in *api.StatsRequest, opts ...grpc.CallOption) (*api.StatsResponse, error) {
	return invoke[api.StatsResponse](ctx, c, MethodStats, in, opts)
}

func (c *Client) GetCall(ctx context.Context, in *api.CallRequest, opts ...grpc.CallOption) (*api.CallResponse, error) {
	return invoke[api.CallResponse](ctx, c, MethodGetCall, in, opts)
}

// WatchEvents opens the event stream for in.PhoneNumber.
func (c *Client) WatchEvents(ctx context.Context, in *api.EventsRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[api.EventsResponse], error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &relayServiceDesc.Streams[0], MethodWatchEvents, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[api.EventsRequest, api.EventsResponse]{ClientStream: stream}
	if err := x.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

package connect

import (
	"context"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// AdminClient calls the admin service.
type AdminClient struct {
	getStatus    *connect.Client[emptypb.Empty, structpb.Struct]
	skip         *connect.Client[emptypb.Empty, structpb.Struct]
	pause        *connect.Client[emptypb.Empty, structpb.Struct]
	resume       *connect.Client[emptypb.Empty, structpb.Struct]
	previous     *connect.Client[emptypb.Empty, structpb.Struct]
	listQueue    *connect.Client[emptypb.Empty, structpb.Struct]
	requestTrack *connect.Client[structpb.Struct, structpb.Struct]
}

// NewAdminClient creates a client for the admin service at baseURL.
func NewAdminClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *AdminClient {
	baseURL = strings.TrimRight(baseURL, "/")
	return &AdminClient{
		getStatus:    connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+GetStatusProcedure, opts...),
		skip:         connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+SkipProcedure, opts...),
		pause:        connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+PauseProcedure, opts...),
		resume:       connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+ResumeProcedure, opts...),
		previous:     connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+PreviousProcedure, opts...),
		listQueue:    connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+ListQueueProcedure, opts...),
		requestTrack: connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+RequestTrackProcedure, opts...),
	}
}

// GetStatus calls AdminService.GetStatus.
func (c *AdminClient) GetStatus(ctx context.Context) (map[string]any, error) {
	return call(ctx, c.getStatus, &emptypb.Empty{})
}

// Skip calls AdminService.Skip.
func (c *AdminClient) Skip(ctx context.Context) (map[string]any, error) {
	return call(ctx, c.skip, &emptypb.Empty{})
}

// Pause calls AdminService.Pause.
func (c *AdminClient) Pause(ctx context.Context) (map[string]any, error) {
	return call(ctx, c.pause, &emptypb.Empty{})
}

// Resume calls AdminService.Resume.
func (c *AdminClient) Resume(ctx context.Context) (map[string]any, error) {
	return call(ctx, c.resume, &emptypb.Empty{})
}

// Previous calls AdminService.Previous.
func (c *AdminClient) Previous(ctx context.Context) (map[string]any, error) {
	return call(ctx, c.previous, &emptypb.Empty{})
}

// ListQueue calls AdminService.ListQueue.
func (c *AdminClient) ListQueue(ctx context.Context) (map[string]any, error) {
	return call(ctx, c.listQueue, &emptypb.Empty{})
}

// RequestTrack calls AdminService.RequestTrack with the given request fields.
func (c *AdminClient) RequestTrack(ctx context.Context, fields map[string]any) (map[string]any, error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return call(ctx, c.requestTrack, msg)
}

func call[Req any](ctx context.Context, client *connect.Client[Req, structpb.Struct], msg *Req) (map[string]any, error) {
	resp, err := client.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return resp.Msg.AsMap(), nil
}

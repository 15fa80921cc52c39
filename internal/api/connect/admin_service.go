// Package connect provides the Connect RPC admin service.
package connect

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/19radio/internal/app/queue"
	"github.com/osa030/19radio/internal/app/requests"
	"github.com/osa030/19radio/internal/app/station"
	"github.com/osa030/19radio/internal/domain/track"
)

// AdminServiceName is the fully-qualified name of the admin service.
const AdminServiceName = "radio.v1.AdminService"

// Procedure paths of the admin service.
const (
	GetStatusProcedure    = "/" + AdminServiceName + "/GetStatus"
	SkipProcedure         = "/" + AdminServiceName + "/Skip"
	PauseProcedure        = "/" + AdminServiceName + "/Pause"
	ResumeProcedure       = "/" + AdminServiceName + "/Resume"
	PreviousProcedure     = "/" + AdminServiceName + "/Previous"
	ListQueueProcedure    = "/" + AdminServiceName + "/ListQueue"
	RequestTrackProcedure = "/" + AdminServiceName + "/RequestTrack"
)

// Station is the part of the station manager the admin service drives.
type Station interface {
	GetStatus() *station.Status
	Snapshot() queue.Snapshot
	Skip() error
	Pause() error
	Resume() error
	Previous() error
	RequestTrack(ctx context.Context, req track.Request) (track.Request, error)
}

// AdminService implements the AdminService RPC.
type AdminService struct {
	station Station
}

// NewAdminService creates a new AdminService.
func NewAdminService(st Station) *AdminService {
	return &AdminService{station: st}
}

// NewAdminServiceHandler builds an HTTP handler that serves every admin
// procedure and returns the path prefix to mount it on.
func NewAdminServiceHandler(svc *AdminService, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(GetStatusProcedure, connect.NewUnaryHandler(GetStatusProcedure, svc.GetStatus, opts...))
	mux.Handle(SkipProcedure, connect.NewUnaryHandler(SkipProcedure, svc.Skip, opts...))
	mux.Handle(PauseProcedure, connect.NewUnaryHandler(PauseProcedure, svc.Pause, opts...))
	mux.Handle(ResumeProcedure, connect.NewUnaryHandler(ResumeProcedure, svc.Resume, opts...))
	mux.Handle(PreviousProcedure, connect.NewUnaryHandler(PreviousProcedure, svc.Previous, opts...))
	mux.Handle(ListQueueProcedure, connect.NewUnaryHandler(ListQueueProcedure, svc.ListQueue, opts...))
	mux.Handle(RequestTrackProcedure, connect.NewUnaryHandler(RequestTrackProcedure, svc.RequestTrack, opts...))
	return "/" + AdminServiceName + "/", mux
}

// GetStatus returns the current station status.
func (s *AdminService) GetStatus(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	status := s.station.GetStatus()

	fields := map[string]any{
		"name":           status.Name,
		"state":          status.State.String(),
		"current":        trackValue(status.Current),
		"previous":       trackValue(status.Previous),
		"queue_size":     len(status.Pending),
		"request_count":  len(status.Requests),
		"listeners":      status.Listeners,
		"prefetching":    status.Prefetching,
		"tracks_started": status.TracksStarted,
		"uptime_sec":     int64(status.Uptime.Seconds()),
	}
	return newResponse(fields)
}

// Skip skips the current track.
func (s *AdminService) Skip(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return result(s.station.Skip(), "Track skipped")
}

// Pause pauses playback.
func (s *AdminService) Pause(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return result(s.station.Pause(), "Playback paused")
}

// Resume resumes playback.
func (s *AdminService) Resume(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return result(s.station.Resume(), "Playback resumed")
}

// Previous returns to the previous track.
func (s *AdminService) Previous(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return result(s.station.Previous(), "Returned to previous track")
}

// ListQueue lists the queued tracks and the pending requests.
func (s *AdminService) ListQueue(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	snap := s.station.Snapshot()
	status := s.station.GetStatus()

	pending := make([]any, len(snap.Pending))
	for i := range snap.Pending {
		pending[i] = trackValue(&snap.Pending[i])
	}
	reqs := make([]any, len(status.Requests))
	for i, r := range status.Requests {
		reqs[i] = map[string]any{
			"id":           r.ID,
			"title":        r.Title,
			"url":          r.URL,
			"kind":         string(r.Kind),
			"requested_by": r.RequestedBy,
			"duration":     r.Duration,
		}
	}

	return newResponse(map[string]any{
		"current":  trackValue(snap.Current),
		"previous": trackValue(snap.Previous),
		"pending":  pending,
		"requests": reqs,
	})
}

// RequestTrack submits a listener request.
func (s *AdminService) RequestTrack(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	fields := req.Msg.GetFields()
	r := track.Request{
		Title:       fields["title"].GetStringValue(),
		URL:         fields["url"].GetStringValue(),
		Kind:        track.Kind(fields["kind"].GetStringValue()),
		RequestedBy: fields["requested_by"].GetStringValue(),
		Duration:    fields["duration"].GetStringValue(),
	}

	added, err := s.station.RequestTrack(ctx, r)
	if err != nil {
		code := requests.RejectionCode(err)
		if code == "" {
			return nil, connect.NewError(connect.CodeInternal, err)
		}
		return newResponse(map[string]any{
			"success": false,
			"message": err.Error(),
			"code":    code,
		})
	}

	return newResponse(map[string]any{
		"success": true,
		"message": "Request accepted",
		"id":      added.ID,
		"title":   added.Title,
		"kind":    string(added.Kind),
	})
}

func result(err error, message string) (*connect.Response[structpb.Struct], error) {
	if err != nil {
		return newResponse(map[string]any{"success": false, "message": err.Error()})
	}
	return newResponse(map[string]any{"success": true, "message": message})
}

func newResponse(fields map[string]any) (*connect.Response[structpb.Struct], error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// trackValue converts a track into a struct value; nil becomes null.
func trackValue(t *track.Track) any {
	if t == nil {
		return nil
	}
	return map[string]any{
		"title":        t.Title,
		"location":     t.Location,
		"bitrate":      t.Bitrate,
		"duration":     t.Duration,
		"requested_by": t.RequestedBy,
	}
}

package grpc

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "schedula.v1.SchedulingService"

// SchedulingServiceServer is the handler type registered under ServiceName.
type SchedulingServiceServer interface {
	ListWeeklyAvailability(context.Context, *ListWeeklyAvailabilityRequest) (*WeeklyAvailabilityResponse, error)
	ReplaceWeeklyAvailability(context.Context, *ReplaceWeeklyAvailabilityRequest) (*WeeklyAvailabilityResponse, error)
	ListBlocks(context.Context, *ListBlocksRequest) (*ListBlocksResponse, error)
	CreateBlock(context.Context, *CreateBlockRequest) (*BlockResponse, error)
	UpdateBlock(context.Context, *UpdateBlockRequest) (*BlockResponse, error)
	DeleteBlock(context.Context, *DeleteBlockRequest) (*DeleteBlockResponse, error)
	GetAvailableMonthDays(context.Context, *GetAvailableMonthDaysRequest) (*GetAvailableMonthDaysResponse, error)
	GetAvailableSlotsForDay(context.Context, *GetAvailableSlotsForDayRequest) (*GetAvailableSlotsForDayResponse, error)
	CreateAppointment(context.Context, *CreateAppointmentRequest) (*AppointmentResponse, error)
	BookSlot(context.Context, *BookSlotRequest) (*AppointmentResponse, error)
	GetAppointment(context.Context, *GetAppointmentRequest) (*AppointmentResponse, error)
	ListDoctorAppointments(context.Context, *ListDoctorAppointmentsRequest) (*ListDoctorAppointmentsResponse, error)
	StartAppointment(context.Context, *TransitionRequest) (*AppointmentResponse, error)
	FinishAppointment(context.Context, *TransitionRequest) (*AppointmentResponse, error)
	CancelAppointment(context.Context, *TransitionRequest) (*AppointmentResponse, error)
}

var _ SchedulingServiceServer = (*SchedulingServer)(nil)

// ServiceDesc describes the scheduling API. Messages travel with the json codec.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SchedulingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("ListWeeklyAvailability", SchedulingServiceServer.ListWeeklyAvailability),
		unary("ReplaceWeeklyAvailability", SchedulingServiceServer.ReplaceWeeklyAvailability),
		unary("ListBlocks", SchedulingServiceServer.ListBlocks),
		unary("CreateBlock", SchedulingServiceServer.CreateBlock),
		unary("UpdateBlock", SchedulingServiceServer.UpdateBlock),
		unary("DeleteBlock", SchedulingServiceServer.DeleteBlock),
		unary("GetAvailableMonthDays", SchedulingServiceServer.GetAvailableMonthDays),
		unary("GetAvailableSlotsForDay", SchedulingServiceServer.GetAvailableSlotsForDay),
		unary("CreateAppointment", SchedulingServiceServer.CreateAppointment),
		unary("BookSlot", SchedulingServiceServer.BookSlot),
		unary("GetAppointment", SchedulingServiceServer.GetAppointment),
		unary("ListDoctorAppointments", SchedulingServiceServer.ListDoctorAppointments),
		unary("StartAppointment", SchedulingServiceServer.StartAppointment),
		unary("FinishAppointment", SchedulingServiceServer.FinishAppointment),
		unary("CancelAppointment", SchedulingServiceServer.CancelAppointment),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "schedula/v1/scheduling.json",
}

func RegisterSchedulingServiceServer(s grpc.ServiceRegistrar, srv SchedulingServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// FullMethod returns the invoke path of a method on the scheduling service.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unary[Req, Resp any](method string, call func(SchedulingServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(SchedulingServiceServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

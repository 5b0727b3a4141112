package grpcserver

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "cardkeeper.v1.CardKeeper"

// protoFile is the descriptor path server reflection looks up through ServiceDesc.Metadata.
const protoFile = "cardkeeper/v1/cardkeeper.proto"

// Method names of the CardKeeper service.
const (
	MethodCreateDeck      = "CreateDeck"
	MethodAddCard         = "AddCard"
	MethodGetDueCards     = "GetDueCards"
	MethodSubmitReview    = "SubmitReview"
	MethodCheckIntegrity  = "CheckIntegrity"
	MethodRepairIntegrity = "RepairIntegrity"
	MethodBackupHistory   = "BackupHistory"
	MethodRestoreBackup   = "RestoreBackup"
)

// CardKeeperServer is the server API. Every message is a google.protobuf.Struct carrying the same
// JSON shape as the HTTP surface.
type CardKeeperServer interface {
	CreateDeck(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddCard(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetDueCards(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitReview(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CheckIntegrity(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RepairIntegrity(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BackupHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RestoreBackup(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(CardKeeperServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func method(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(CardKeeperServer)
			if ic == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return ic(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// FullMethod returns "/cardkeeper.v1.CardKeeper/<name>".
func FullMethod(name string) string { return "/" + ServiceName + "/" + name }

// ServiceDesc registers CardKeeperServer on a grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CardKeeperServer)(nil),
	Methods: []grpc.MethodDesc{
		method(MethodCreateDeck, CardKeeperServer.CreateDeck),
		method(MethodAddCard, CardKeeperServer.AddCard),
		method(MethodGetDueCards, CardKeeperServer.GetDueCards),
		method(MethodSubmitReview, CardKeeperServer.SubmitReview),
		method(MethodCheckIntegrity, CardKeeperServer.CheckIntegrity),
		method(MethodRepairIntegrity, CardKeeperServer.RepairIntegrity),
		method(MethodBackupHistory, CardKeeperServer.BackupHistory),
		method(MethodRestoreBackup, CardKeeperServer.RestoreBackup),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: protoFile,
}

var (
	describeOnce sync.Once
	describeErr  error
)

// registerDescriptor adds the service's file descriptor to the global registry so server
// reflection can describe it. There is no .proto source: the descriptor is built from
// ServiceDesc and every method takes and returns google.protobuf.Struct.
func registerDescriptor() error {
	describeOnce.Do(func() {
		if _, err := protoregistry.GlobalFiles.FindFileByPath(protoFile); err == nil {
			return
		}
		fd, err := protodesc.NewFile(fileDescriptorProto(), protoregistry.GlobalFiles)
		if err != nil {
			describeErr = fmt.Errorf("build %s: %w", protoFile, err)
			return
		}
		describeErr = protoregistry.GlobalFiles.RegisterFile(fd)
	})
	return describeErr
}

func fileDescriptorProto() *descriptorpb.FileDescriptorProto {
	const structType = ".google.protobuf.Struct"
	methods := make([]*descriptorpb.MethodDescriptorProto, 0, len(ServiceDesc.Methods))
	for _, m := range ServiceDesc.Methods {
		methods = append(methods, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(m.MethodName),
			InputType:  proto.String(structType),
			OutputType: proto.String(structType),
		})
	}
	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String(protoFile),
		Package:    proto.String("cardkeeper.v1"),
		Dependency: []string{"google/protobuf/struct.proto"},
		Syntax:     proto.String("proto3"),
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name:   proto.String("CardKeeper"),
			Method: methods,
		}},
	}
}

// Client is a thin caller for CardKeeper over any connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

// Call invokes method name with in and returns the response payload.
func (c *Client) Call(ctx context.Context, name string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(name), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

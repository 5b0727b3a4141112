package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/cardkeeper/internal/auth"
	"github.com/and161185/cardkeeper/internal/backup"
	"github.com/and161185/cardkeeper/internal/convert"
	"github.com/and161185/cardkeeper/internal/model"
	"github.com/and161185/cardkeeper/internal/repository/memstore"
	"github.com/and161185/cardkeeper/internal/service"
)

const bufSize = 1 << 20

var signKey = []byte("test-secret")

func startBufGRPC(t *testing.T) *Client {
	t.Helper()
	log := zaptest.NewLogger(t)

	svc := service.NewServices(memstore.New(), backup.NewRing(backup.DefaultCapacity), nil, nil, log, service.SystemClock)

	lis := bufconn.Listen(bufSize)
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(
		RecoverUnary(log),
		LoggingUnary(log),
		AuthUnary(auth.NewVerifier(signKey, 0)),
	))
	New(svc, log).Register(gs)
	healthpb.RegisterHealthServer(gs, health.NewServer())
	reflection.Register(gs)
	go func() { _ = gs.Serve(lis) }()

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close(); gs.Stop(); _ = lis.Close() })
	return NewClient(cc)
}

func ctxAs(t *testing.T, userID string, admin bool) context.Context {
	t.Helper()
	tok, err := auth.Sign(signKey, auth.Identity{UserID: userID, Admin: admin}, time.Hour, time.Now())
	require.NoError(t, err)
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+tok)
}

func mustStruct(t *testing.T, v any) *structpb.Struct {
	t.Helper()
	s, err := convert.ToStruct(v)
	require.NoError(t, err)
	return s
}

func requireCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok, "not a status: %v", err)
	require.Equal(t, want, st.Code(), st.Message())
}

func TestServer_E2E_ReviewFlow(t *testing.T) {
	t.Parallel()
	cl := startBufGRPC(t)
	ctx := ctxAs(t, "alice", false)

	out, err := cl.Call(ctx, MethodCreateDeck, mustStruct(t, map[string]any{"courseId": "bio", "title": "Cells"}))
	require.NoError(t, err)
	var deck model.Deck
	require.NoError(t, convert.FromStruct(out, &deck))
	require.NotEqual(t, uuid.Nil, deck.ID)
	assert.Equal(t, "alice", deck.OwnerUserID)

	out, err = cl.Call(ctx, MethodAddCard, mustStruct(t, map[string]any{
		"deckId": deck.ID,
		"card":   map[string]any{"question": "What is a cell?", "answer": "The unit of life"},
	}))
	require.NoError(t, err)
	var card model.Card
	require.NoError(t, convert.FromStruct(out, &card))
	require.NotEqual(t, uuid.Nil, card.ID)

	out, err = cl.Call(ctx, MethodGetDueCards, mustStruct(t, map[string]any{"deckId": deck.ID}))
	require.NoError(t, err)
	var due []model.DueCard
	require.NoError(t, convert.Unwrap(out, "cards", &due))
	require.Len(t, due, 1)
	assert.Equal(t, card.ID, due[0].ID)
	assert.Equal(t, "Cells", due[0].DeckTitle)

	// backup timestamps are matched to the millisecond
	time.Sleep(5 * time.Millisecond)
	before := time.Now()
	out, err = cl.Call(ctx, MethodSubmitReview, mustStruct(t, map[string]any{
		"deckId": deck.ID, "cardId": card.ID, "rating": "good",
	}))
	require.NoError(t, err)
	var res model.ReviewResult
	require.NoError(t, convert.FromStruct(out, &res))
	assert.Equal(t, 1, res.RepetitionCount)
	assert.WithinDuration(t, before.Add(24*time.Hour), res.NextReviewDue, time.Minute)

	out, err = cl.Call(ctx, MethodGetDueCards, mustStruct(t, map[string]any{"deckId": deck.ID}))
	require.NoError(t, err)
	require.NoError(t, convert.Unwrap(out, "cards", &due))
	assert.Empty(t, due)

	out, err = cl.Call(ctx, MethodBackupHistory, mustStruct(t, map[string]any{"deckId": deck.ID}))
	require.NoError(t, err)
	var recs []model.BackupRecord
	require.NoError(t, convert.Unwrap(out, "records", &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, service.OpReview, recs[0].Operation)
	assert.Equal(t, service.OpAddCard, recs[1].Operation)

	out, err = cl.Call(ctx, MethodRestoreBackup, mustStruct(t, map[string]any{
		"deckId": deck.ID, "timestamp": recs[1].Timestamp,
	}))
	require.NoError(t, err)
	var restored model.Deck
	require.NoError(t, convert.FromStruct(out, &restored))
	assert.Empty(t, restored.Cards)

	out, err = cl.Call(ctx, MethodCheckIntegrity, nil)
	require.NoError(t, err)
	var rep model.IntegrityReport
	require.NoError(t, convert.FromStruct(out, &rep))
	assert.Equal(t, 1, rep.DecksScanned)
	assert.True(t, rep.Clean())
}

func TestServer_Errors(t *testing.T) {
	t.Parallel()
	cl := startBufGRPC(t)
	alice := ctxAs(t, "alice", false)

	_, err := cl.Call(context.Background(), MethodCreateDeck, mustStruct(t, map[string]any{"courseId": "c", "title": "t"}))
	requireCode(t, err, codes.Unauthenticated)

	bad := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer nope")
	_, err = cl.Call(bad, MethodCreateDeck, nil)
	requireCode(t, err, codes.Unauthenticated)

	_, err = cl.Call(alice, MethodCreateDeck, mustStruct(t, map[string]any{"courseId": "c", "title": "  "}))
	requireCode(t, err, codes.InvalidArgument)

	out, err := cl.Call(alice, MethodCreateDeck, mustStruct(t, map[string]any{"courseId": "c", "title": "t"}))
	require.NoError(t, err)
	var deck model.Deck
	require.NoError(t, convert.FromStruct(out, &deck))

	add := mustStruct(t, map[string]any{"deckId": deck.ID, "card": map[string]any{"question": "q", "answer": "a"}})
	out, err = cl.Call(alice, MethodAddCard, add)
	require.NoError(t, err)
	var card model.Card
	require.NoError(t, convert.FromStruct(out, &card))

	_, err = cl.Call(alice, MethodAddCard, add)
	requireCode(t, err, codes.AlreadyExists)

	_, err = cl.Call(ctxAs(t, "mallory", false), MethodAddCard,
		mustStruct(t, map[string]any{"deckId": deck.ID, "card": map[string]any{"question": "x", "answer": "y"}}))
	requireCode(t, err, codes.PermissionDenied)

	_, err = cl.Call(alice, MethodSubmitReview, mustStruct(t, map[string]any{"deckId": deck.ID, "cardId": card.ID, "rating": 9}))
	requireCode(t, err, codes.InvalidArgument)

	_, err = cl.Call(alice, MethodSubmitReview, mustStruct(t, map[string]any{"deckId": deck.ID, "cardId": card.ID, "rating": "meh"}))
	requireCode(t, err, codes.InvalidArgument)

	_, err = cl.Call(alice, MethodSubmitReview, mustStruct(t, map[string]any{
		"deckId": deck.ID, "cardId": uuid.Must(uuid.NewV4()), "rating": 3,
	}))
	requireCode(t, err, codes.NotFound)

	_, err = cl.Call(alice, MethodRestoreBackup, mustStruct(t, map[string]any{"deckId": deck.ID, "timestamp": time.Now().Add(time.Hour)}))
	requireCode(t, err, codes.NotFound)
}

func TestServer_IntegrityScoping(t *testing.T) {
	t.Parallel()
	cl := startBufGRPC(t)

	for _, u := range []string{"alice", "bob"} {
		_, err := cl.Call(ctxAs(t, u, false), MethodCreateDeck, mustStruct(t, map[string]any{"courseId": "c", "title": u}))
		require.NoError(t, err)
	}

	_, err := cl.Call(ctxAs(t, "alice", false), MethodCheckIntegrity, mustStruct(t, map[string]any{"all": true}))
	requireCode(t, err, codes.PermissionDenied)
	_, err = cl.Call(ctxAs(t, "alice", false), MethodRepairIntegrity, mustStruct(t, map[string]any{"userId": "bob"}))
	requireCode(t, err, codes.PermissionDenied)

	admin := ctxAs(t, "ops", true)
	out, err := cl.Call(admin, MethodCheckIntegrity, mustStruct(t, map[string]any{"all": true}))
	require.NoError(t, err)
	var rep model.IntegrityReport
	require.NoError(t, convert.FromStruct(out, &rep))
	assert.Equal(t, 2, rep.DecksScanned)

	out, err = cl.Call(admin, MethodRepairIntegrity, mustStruct(t, map[string]any{"userId": "bob"}))
	require.NoError(t, err)
	var res service.RepairResult
	require.NoError(t, convert.FromStruct(out, &res))
	assert.Equal(t, 1, res.DecksScanned)
	assert.Zero(t, res.Repaired)
}

func TestServer_HealthIsPublic(t *testing.T) {
	t.Parallel()
	cl := startBufGRPC(t)

	resp, err := healthpb.NewHealthClient(cl.cc).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestRegisterDescriptor(t *testing.T) {
	require.NoError(t, registerDescriptor())
	require.NoError(t, registerDescriptor())

	d, err := protoregistry.GlobalFiles.FindDescriptorByName(ServiceName)
	require.NoError(t, err)
	sd, ok := d.(protoreflect.ServiceDescriptor)
	require.True(t, ok)
	require.Equal(t, len(ServiceDesc.Methods), sd.Methods().Len())
	m := sd.Methods().ByName(MethodGetDueCards)
	require.NotNil(t, m)
	assert.Equal(t, protoreflect.FullName("google.protobuf.Struct"), m.Input().FullName())
	assert.Equal(t, protoreflect.FullName("google.protobuf.Struct"), m.Output().FullName())
}

func TestServer_ReflectionDescribesService(t *testing.T) {
	t.Parallel()
	cl := startBufGRPC(t)

	stream, err := reflectionpb.NewServerReflectionClient(cl.cc).ServerReflectionInfo(context.Background())
	require.NoError(t, err)
	require.NoError(t, stream.Send(&reflectionpb.ServerReflectionRequest{
		MessageRequest: &reflectionpb.ServerReflectionRequest_FileContainingSymbol{FileContainingSymbol: ServiceName},
	}))
	resp, err := stream.Recv()
	require.NoError(t, err)
	require.Nil(t, resp.GetErrorResponse())

	raw := resp.GetFileDescriptorResponse().GetFileDescriptorProto()
	require.NotEmpty(t, raw)
	var fdp descriptorpb.FileDescriptorProto
	require.NoError(t, proto.Unmarshal(raw[0], &fdp))
	assert.Equal(t, ServiceDesc.Metadata, fdp.GetName())
	require.Len(t, fdp.GetService(), 1)
	assert.Len(t, fdp.GetService()[0].GetMethod(), len(ServiceDesc.Methods))
	require.NoError(t, stream.CloseSend())
}

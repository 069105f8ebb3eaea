// Package geyser implements C12's off-box firehose transport: a
// server-streaming gRPC endpoint that re-publishes pubsub.Hub updates as
// structpb.Struct messages, the geyser-plugin-style interface external
// indexers and archivers consume (spec §6 "geyser_grpc: addr, port").
//
// The service description below is hand-written rather than protoc-
// generated: SubscribeUpdates carries a single well-known message type,
// google.protobuf.Struct, so the wire contract needs no generated
// marshaling code, only the grpc.ServiceDesc plumbing protoc would
// otherwise emit.
package geyser

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ephemeral-svm/validator/internal/pubsub"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

// GeyserServer is the service interface RegisterGeyserServer wires into
// a *grpc.Server. SubscribeUpdates is the service's one RPC: a
// server-streaming call that runs until the client disconnects or
// cancels its context.
type GeyserServer interface {
	SubscribeUpdates(*structpb.Struct, Geyser_SubscribeUpdatesServer) error
}

// Geyser_SubscribeUpdatesServer is the send-only stream handle a
// SubscribeUpdates implementation uses to deliver updates.
type Geyser_SubscribeUpdatesServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type geyserSubscribeUpdatesServer struct{ grpc.ServerStream }

func (x *geyserSubscribeUpdatesServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func _Geyser_SubscribeUpdates_Handler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(GeyserServer).SubscribeUpdates(req, &geyserSubscribeUpdatesServer{stream})
}

// ServiceDesc is the grpc.ServiceDesc RegisterGeyserServer hands to the
// grpc.Server; its shape mirrors what protoc-gen-go-grpc would generate
// for a single server-streaming method.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "evalidator.geyser.Geyser",
	HandlerType: (*GeyserServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "SubscribeUpdates",
			Handler:       _Geyser_SubscribeUpdates_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "internal/geyser/service.go",
}

// RegisterGeyserServer registers srv against s, the same call shape a
// generated *_grpc.pb.go file's RegisterXServer would have.
func RegisterGeyserServer(s grpc.ServiceRegistrar, srv GeyserServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Service adapts a *pubsub.Hub to GeyserServer: each client names the
// accounts, owners, and update kinds it wants in its subscribe request,
// and Service fans the matching Hub channels into one ordered stream.
type Service struct {
	log *zap.Logger
	hub *pubsub.Hub
}

func New(log *zap.Logger, hub *pubsub.Hub) *Service {
	return &Service{log: log, hub: hub}
}

var _ GeyserServer = (*Service)(nil)

// SubscribeUpdates reads req's "accounts" (list of base58 pubkeys),
// "owners" (list of base58 program ids), "slots" (bool) and
// "transactions" (bool) fields and streams matching pubsub.Hub updates
// until the client disconnects.
func (s *Service) SubscribeUpdates(req *structpb.Struct, stream Geyser_SubscribeUpdatesServer) error {
	ctx := stream.Context()
	fields := req.GetFields()

	out := make(chan *structpb.Struct, 256)
	done := make(chan struct{})
	var wg sync.WaitGroup
	var unsubs []func()
	defer func() {
		close(done)
		for _, fn := range unsubs {
			fn()
		}
	}()

	for _, v := range fields["accounts"].GetListValue().GetValues() {
		pubkey, err := solanatypes.PubkeyFromBase58(v.GetStringValue())
		if err != nil {
			s.log.Warn("geyser: skipping malformed account filter", zap.String("value", v.GetStringValue()))
			continue
		}
		id, ch := s.hub.AccountSubscribe(pubkey)
		unsubs = append(unsubs, func() { s.hub.AccountUnsubscribe(id) })
		wg.Add(1)
		go forwardAccounts(&wg, done, ctx, out, ch)
	}

	for _, v := range fields["owners"].GetListValue().GetValues() {
		owner, err := solanatypes.PubkeyFromBase58(v.GetStringValue())
		if err != nil {
			s.log.Warn("geyser: skipping malformed owner filter", zap.String("value", v.GetStringValue()))
			continue
		}
		id, ch := s.hub.ProgramSubscribe(owner, nil)
		unsubs = append(unsubs, func() { s.hub.ProgramUnsubscribe(id) })
		wg.Add(1)
		go forwardAccounts(&wg, done, ctx, out, ch)
	}

	if fields["slots"].GetBoolValue() {
		id, ch := s.hub.SlotSubscribe()
		unsubs = append(unsubs, func() { s.hub.SlotUnsubscribe(id) })
		wg.Add(1)
		go forwardSlots(&wg, done, ctx, out, ch)
	}

	if fields["transactions"].GetBoolValue() {
		id, ch := s.hub.LogsSubscribe(nil)
		unsubs = append(unsubs, func() { s.hub.LogsUnsubscribe(id) })
		wg.Add(1)
		go forwardLogs(&wg, done, ctx, out, ch)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	for {
		select {
		case v, ok := <-out:
			if !ok {
				return nil
			}
			if err := stream.Send(v); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func forwardAccounts(wg *sync.WaitGroup, done chan struct{}, ctx context.Context, out chan<- *structpb.Struct, ch <-chan pubsub.AccountUpdate) {
	defer wg.Done()
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				return
			}
			send(done, ctx, out, accountStruct(u))
		case <-done:
			return
		}
	}
}

func forwardSlots(wg *sync.WaitGroup, done chan struct{}, ctx context.Context, out chan<- *structpb.Struct, ch <-chan pubsub.SlotUpdate) {
	defer wg.Done()
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				return
			}
			send(done, ctx, out, slotStruct(u))
		case <-done:
			return
		}
	}
}

func forwardLogs(wg *sync.WaitGroup, done chan struct{}, ctx context.Context, out chan<- *structpb.Struct, ch <-chan pubsub.LogsUpdate) {
	defer wg.Done()
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				return
			}
			send(done, ctx, out, logsStruct(u))
		case <-done:
			return
		}
	}
}

func send(done <-chan struct{}, ctx context.Context, out chan<- *structpb.Struct, v *structpb.Struct) {
	if v == nil {
		return
	}
	select {
	case out <- v:
	case <-ctx.Done():
	case <-done:
	}
}

// accountStruct, slotStruct and logsStruct build the wire Struct for
// each update kind. Lamports and slot numbers round-trip through
// float64, the only numeric type google.protobuf.Value supports;
// Non-goal: exact precision above 2^53 lamports is not preserved.
func accountStruct(u pubsub.AccountUpdate) *structpb.Struct {
	v, err := structpb.NewStruct(map[string]any{
		"type":       "account",
		"slot":       float64(u.Slot),
		"pubkey":     u.Pubkey.String(),
		"owner":      u.Account.Owner.String(),
		"lamports":   float64(u.Account.Lamports),
		"executable": u.Account.Executable,
		"rent_epoch": float64(u.Account.RentEpoch),
		"data":       string(u.Account.Data),
	})
	if err != nil {
		return nil
	}
	return v
}

func slotStruct(u pubsub.SlotUpdate) *structpb.Struct {
	v, err := structpb.NewStruct(map[string]any{
		"type":   "slot",
		"slot":   float64(u.Slot),
		"parent": float64(u.Parent),
		"root":   float64(u.Root),
	})
	if err != nil {
		return nil
	}
	return v
}

func logsStruct(u pubsub.LogsUpdate) *structpb.Struct {
	logs := make([]any, len(u.Logs))
	for i, l := range u.Logs {
		logs[i] = l
	}
	v, err := structpb.NewStruct(map[string]any{
		"type":      "transaction",
		"signature": u.Signature.String(),
		"err":       u.Err,
		"logs":      logs,
	})
	if err != nil {
		return nil
	}
	return v
}

package api

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/pairchat/internal/bus"
	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/matheus3301/pairchat/internal/dialog"
	"github.com/matheus3301/pairchat/internal/messages"
	"github.com/matheus3301/pairchat/internal/presence"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Users is the slice of the profile store the admin service needs.
type Users interface {
	CreateUser(ctx context.Context, username, firstName, lastName string) (*chat.User, error)
	GetUserByID(ctx context.Context, id string) (*chat.User, error)
	GetUserByUsername(ctx context.Context, username string) (*chat.User, error)
	UserCount(ctx context.Context) (int64, error)
	SchemaVersion() (uint, error)
}

// TokenIssuer signs access tokens.
type TokenIssuer interface {
	Issue(userID string) (string, error)
}

// Deps are the collaborators of Service.
type Deps struct {
	Instance string
	Presence *presence.Registry
	Dialogs  *dialog.Directory
	Messages *messages.Log
	Users    Users
	Tokens   TokenIssuer
	Bus      *bus.Bus
	Logger   *zap.Logger
}

// Service implements AdminServer.
type Service struct {
	Deps
	startedAt time.Time
}

// NewService creates the admin service.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Service{Deps: d, startedAt: time.Now()}
}

func (s *Service) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	conns, online := s.Presence.Counts()
	fields := map[string]any{
		"instance":     s.Instance,
		"uptime_ms":    time.Since(s.startedAt).Milliseconds(),
		"connections":  conns,
		"online_users": online,
		"dialogs":      s.Dialogs.Count(),
		"messages":     s.Messages.Count(),
		"bus_dropped":  s.Bus.Dropped(),
	}
	// The user count is informational; a store hiccup must not hide the rest.
	if n, err := s.Users.UserCount(ctx); err == nil {
		fields["users"] = n
	} else {
		s.Logger.Warn("user count failed", zap.Error(err))
	}
	if v, err := s.Users.SchemaVersion(); err == nil {
		fields["schema_version"] = v
	}
	return structpb.NewStruct(fields)
}

func (s *Service) ListPresence(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	users := s.Presence.Snapshots()
	slices.SortFunc(users, func(a, b chat.User) int {
		return cmp.Compare(a.Username, b.Username)
	})
	list := make([]any, 0, len(users))
	for _, u := range users {
		list = append(list, map[string]any{
			"id":           u.ID,
			"username":     u.Username,
			"online":       u.Online,
			"last_seen_ms": millis(u.LastSeen),
			"connections":  len(s.Presence.ConnectionsForUser(u.ID)),
		})
	}
	return structpb.NewStruct(map[string]any{"users": list})
}

func (s *Service) CreateUser(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	u, err := s.Users.CreateUser(ctx, field(in, "username"), field(in, "first_name"), field(in, "last_name"))
	if err != nil {
		return nil, toStatus("create user", err)
	}
	token, err := s.Tokens.Issue(u.ID)
	if err != nil {
		return nil, toStatus("issue token", err)
	}
	s.Logger.Info("user created", zap.String("user_id", u.ID), zap.String("username", u.Username))
	return structpb.NewStruct(map[string]any{
		"id":         u.ID,
		"username":   u.Username,
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"token":      token,
	})
}

// IssueToken signs a token for an existing user named by user_id or username.
func (s *Service) IssueToken(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var (
		u   *chat.User
		err error
	)
	switch id, name := field(in, "user_id"), field(in, "username"); {
	case id != "":
		u, err = s.Users.GetUserByID(ctx, id)
	case name != "":
		u, err = s.Users.GetUserByUsername(ctx, name)
	default:
		return nil, grpcstatus.Error(codes.InvalidArgument, "user_id or username is required")
	}
	if err != nil {
		return nil, toStatus("lookup user", err)
	}
	if u == nil {
		return nil, toStatus("lookup user", chat.ErrUserNotFound)
	}
	token, err := s.Tokens.Issue(u.ID)
	if err != nil {
		return nil, toStatus("issue token", err)
	}
	return structpb.NewStruct(map[string]any{"user_id": u.ID, "username": u.Username, "token": token})
}

// WatchEvents streams bus events whose kind starts with the requested
// prefix until the client goes away. Events a slow watcher cannot keep up
// with are dropped by the bus.
func (s *Service) WatchEvents(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	if s.Bus == nil {
		return grpcstatus.Error(codes.Unavailable, "event bus not configured")
	}
	ch, unsub := s.Bus.Subscribe(field(in, "prefix"), 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			msg, err := eventStruct(evt)
			if err != nil {
				s.Logger.Warn("skipping unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func eventStruct(evt bus.Event) (*structpb.Struct, error) {
	raw, err := json.Marshal(evt.Payload)
	if err != nil {
		return nil, err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{
		"event_id": uuid.NewString(),
		"kind":     evt.Kind,
		"ts_ms":    evt.Timestamp.UnixMilli(),
		"payload":  payload,
	})
}

func field(s *structpb.Struct, key string) string {
	return strings.TrimSpace(s.GetFields()[key].GetStringValue())
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func toStatus(op string, err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, chat.ErrBadRequest):
		code = codes.InvalidArgument
	case errors.Is(err, chat.ErrUserNotFound):
		code = codes.NotFound
	case errors.Is(err, chat.ErrUnauthenticated):
		code = codes.Unauthenticated
	case errors.Is(err, chat.ErrUpstreamUnavailable):
		code = codes.Unavailable
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}

package service

import (
	"context"
	"errors"
	"sync"

	"github.com/adwski/chat-backend/backend/model"
	"github.com/rs/zerolog"
)

var (
	ErrValidation   = errors.New("invalid request")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrConflict     = errors.New("already exists")

	ErrConnect    = errors.New("unable to connect")
	ErrDisconnect = errors.New("unable to disconnect")
)

type (
	Store interface {
		CreateUser(ctx context.Context, user *model.User) error
		UserByID(ctx context.Context, id string) (*model.User, error)
		UserByEmail(ctx context.Context, email string) (*model.User, error)
		UsersByIDs(ctx context.Context, ids []string) ([]model.User, error)
		SearchUsers(ctx context.Context, search, excludeID string) ([]model.User, error)

		FindDirectChat(ctx context.Context, userA, userB string) (*model.Chat, error)
		CreateChat(ctx context.Context, chat *model.Chat) error
		ChatByID(ctx context.Context, id string) (*model.Chat, error)
		ChatsOfUser(ctx context.Context, userID string) ([]model.Chat, error)
		RenameChat(ctx context.Context, chatID, name string) (*model.Chat, error)
		AddChatUser(ctx context.Context, chatID string, user *model.User) (*model.Chat, error)
		RemoveChatUser(ctx context.Context, chatID, userID string) (*model.Chat, error)
		DeleteChat(ctx context.Context, chatID string) error

		CreateMessage(ctx context.Context, msg *model.Message) error
		MessagesOfChat(ctx context.Context, chatID string) ([]model.Message, error)
		MarkRead(ctx context.Context, chatID, userID string) (int64, error)
	}

	PasswordHasher interface {
		Hash(password string) (string, error)
		Verify(password, hash string) bool
	}

	TokenIssuer interface {
		Issue(userID string) (string, error)
		Validate(token string) (string, error)
	}

	Registry interface {
		Identity(connID string) (string, bool)
		LeaveAll(connID string) []string
	}

	Switch interface {
		Connect(connID string, wire model.Wire) error
		Disconnect(connID string)
	}

	Router interface {
		Serve(ctx context.Context, connID string, rx <-chan model.Frame)
	}

	Service struct {
		store  Store
		hasher PasswordHasher
		tokens TokenIssuer
		reg    Registry
		sw     Switch
		router Router
		logger zerolog.Logger

		mx       *sync.Mutex
		sessions map[string]*session
	}

	// session tracks the routing goroutine of a live connection.
	session struct {
		cancel context.CancelFunc
		done   chan struct{}
	}

	Config struct {
		Store    Store
		Hasher   PasswordHasher
		Tokens   TokenIssuer
		Registry Registry
		Switch   Switch
		Router   Router
		Logger   *zerolog.Logger
	}
)

func NewService(cfg Config) *Service {
	return &Service{
		store:  cfg.Store,
		hasher: cfg.Hasher,
		tokens: cfg.Tokens,
		reg:    cfg.Registry,
		sw:     cfg.Switch,
		router: cfg.Router,
		logger: cfg.Logger.With().Str("component", "service").Logger(),

		mx:       &sync.Mutex{},
		sessions: make(map[string]*session),
	}
}

// CreateSession attaches a live connection and starts routing its
// inbound frames. Routing stops when ctx is done or session is deleted.
func (svc *Service) CreateSession(ctx context.Context, connID string, wire model.Wire) error {
	if err := svc.sw.Connect(connID, wire); err != nil {
		return errors.Join(ErrConnect, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	sess := &session{cancel: cancel, done: make(chan struct{})}
	svc.mx.Lock()
	svc.sessions[connID] = sess
	svc.mx.Unlock()

	go func() {
		defer close(sess.done)
		svc.router.Serve(ctx, connID, wire.RX)
	}()

	svc.logger.Debug().Str("connID", connID).Msg("session created")
	return nil
}

// DeleteSession stops routing for connection and releases all its room
// memberships. Memberships are released only after the last inbound frame
// is routed, so that a late join cannot outlive the connection.
func (svc *Service) DeleteSession(ctx context.Context, connID string) error {
	svc.mx.Lock()
	sess, ok := svc.sessions[connID]
	delete(svc.sessions, connID)
	svc.mx.Unlock()

	svc.sw.Disconnect(connID)
	if !ok {
		svc.release(connID)
		return nil
	}

	sess.cancel()
	select {
	case <-sess.done:
		svc.release(connID)
		return nil
	case <-ctx.Done():
		go func() {
			<-sess.done
			svc.release(connID)
		}()
		return errors.Join(ErrDisconnect, ctx.Err())
	}
}

func (svc *Service) release(connID string) {
	userID, _ := svc.reg.Identity(connID)
	rooms := svc.reg.LeaveAll(connID)
	svc.logger.Debug().
		Str("connID", connID).
		Str("userID", userID).
		Strs("rooms", rooms).
		Msg("session deleted")
}

// storeErr lifts storage errors into the service error taxonomy.
func storeErr(err error, what string) error {
	switch {
	case errors.Is(err, model.ErrRecordNotFound):
		return errors.Join(ErrNotFound, errors.New(what+" not found"))
	case errors.Is(err, model.ErrDuplicateRecord):
		return errors.Join(ErrConflict, errors.New(what+" already exists"))
	}
	return err
}

func validation(msg string) error {
	return errors.Join(ErrValidation, errors.New(msg))
}

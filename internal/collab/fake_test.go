package collab

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codehive/server/internal/auth"
	"github.com/codehive/server/internal/infra/events"
	"github.com/codehive/server/internal/realtime"
)

// fakeRepository is an in-memory Repository that mirrors the behavior of
// the GORM implementation, including change-feed publication.
type fakeRepository struct {
	mu          sync.Mutex
	rooms       map[uuid.UUID]*Room
	members     map[uuid.UUID]*Member
	invitations map[uuid.UUID]*Invitation
	messages    []*Message
	outputs     []*Output
	feed        realtime.Feed

	// failUpdateStatus makes UpdateInvitationStatus fail, for exercising
	// partial-transition handling.
	failUpdateStatus error

	// failCreateRoom makes CreateRoomWithOwner fail before any write, the
	// way a rolled-back transaction would.
	failCreateRoom error

	// afterListMembers runs once after ListMembers returns, for injecting
	// writes between a snapshot read and the next operation.
	afterListMembers func()
}

func newFakeRepository(feed realtime.Feed) *fakeRepository {
	return &fakeRepository{
		rooms:       make(map[uuid.UUID]*Room),
		members:     make(map[uuid.UUID]*Member),
		invitations: make(map[uuid.UUID]*Invitation),
		feed:        feed,
	}
}

func (f *fakeRepository) publish(table string, typ realtime.EventType, row any) {
	if f.feed == nil {
		return
	}
	event, err := realtime.NewTableEvent(table, typ, row)
	if err != nil {
		return
	}
	_ = f.feed.Publish(context.Background(), event)
}

func (f *fakeRepository) CreateRoomWithOwner(_ context.Context, room *Room, owner *Member) error {
	f.mu.Lock()
	if err := f.failCreateRoom; err != nil {
		f.mu.Unlock()
		return err
	}
	now := time.Now()
	room.CreatedAt = now
	room.UpdatedAt = now
	rcp := *room
	f.rooms[room.ID] = &rcp
	mcp := *owner
	f.members[owner.ID] = &mcp
	f.mu.Unlock()
	f.publish(TableRooms, realtime.EventInsert, room)
	f.publish(TableMembers, realtime.EventInsert, owner)
	return nil
}

func (f *fakeRepository) GetRoomByID(_ context.Context, id uuid.UUID) (*Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok := f.rooms[id]; ok {
		cp := *room
		return &cp, nil
	}
	return nil, ErrRoomNotFound
}

func (f *fakeRepository) GetRoomByOwnerAndName(_ context.Context, ownerID uuid.UUID, name string) (*Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, room := range f.rooms {
		if room.OwnerID == ownerID && room.Name == name {
			cp := *room
			return &cp, nil
		}
	}
	return nil, ErrRoomNotFound
}

func (f *fakeRepository) ListRoomsByUser(_ context.Context, userID uuid.UUID) ([]*Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rooms []*Room
	for _, member := range f.members {
		if member.UserID != userID {
			continue
		}
		if room, ok := f.rooms[member.RoomID]; ok {
			cp := *room
			rooms = append(rooms, &cp)
		}
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
	})
	return rooms, nil
}

func (f *fakeRepository) UpsertMember(_ context.Context, member *Member) error {
	f.mu.Lock()
	for id, existing := range f.members {
		if existing.RoomID == member.RoomID && existing.UserID == member.UserID {
			existing.Username = member.Username
			existing.Status = member.Status
			existing.JoinedAt = member.JoinedAt
			member.ID = id
			cp := *existing
			f.mu.Unlock()
			f.publish(TableMembers, realtime.EventInsert, &cp)
			return nil
		}
	}
	cp := *member
	f.members[member.ID] = &cp
	f.mu.Unlock()
	f.publish(TableMembers, realtime.EventInsert, member)
	return nil
}

func (f *fakeRepository) GetMember(_ context.Context, roomID, userID uuid.UUID) (*Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, member := range f.members {
		if member.RoomID == roomID && member.UserID == userID {
			cp := *member
			return &cp, nil
		}
	}
	return nil, ErrNotAMember
}

func (f *fakeRepository) ListMembers(_ context.Context, roomID uuid.UUID) ([]*Member, error) {
	f.mu.Lock()
	var members []*Member
	for _, member := range f.members {
		if member.RoomID == roomID {
			cp := *member
			members = append(members, &cp)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	hook := f.afterListMembers
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return members, nil
}

func (f *fakeRepository) CountMembers(_ context.Context, roomID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, member := range f.members {
		if member.RoomID == roomID {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepository) RemoveMember(_ context.Context, roomID, userID uuid.UUID) error {
	f.mu.Lock()
	for id, member := range f.members {
		if member.RoomID == roomID && member.UserID == userID {
			cp := *member
			delete(f.members, id)
			f.mu.Unlock()
			f.publish(TableMembers, realtime.EventDelete, &cp)
			return nil
		}
	}
	f.mu.Unlock()
	return ErrNotAMember
}

func (f *fakeRepository) CreateInvitation(_ context.Context, invitation *Invitation) error {
	f.mu.Lock()
	now := time.Now()
	invitation.CreatedAt = now
	invitation.UpdatedAt = now
	cp := *invitation
	f.invitations[invitation.ID] = &cp
	f.mu.Unlock()
	f.publish(TableInvitations, realtime.EventInsert, invitation)
	return nil
}

func (f *fakeRepository) GetInvitationByID(_ context.Context, id uuid.UUID) (*Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if invitation, ok := f.invitations[id]; ok {
		cp := *invitation
		return &cp, nil
	}
	return nil, ErrInvitationNotFound
}

func (f *fakeRepository) GetPendingInvitationByEmail(_ context.Context, roomID uuid.UUID, email string) (*Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, invitation := range f.invitations {
		if invitation.RoomID == roomID &&
			strings.EqualFold(invitation.InviteeEmail, email) &&
			invitation.Status == InvitationPending {
			cp := *invitation
			return &cp, nil
		}
	}
	return nil, ErrInvitationNotFound
}

func (f *fakeRepository) ListPendingInvitations(_ context.Context, inviteeID uuid.UUID, inviteeEmail string) ([]*Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var invitations []*Invitation
	for _, invitation := range f.invitations {
		if invitation.Status != InvitationPending {
			continue
		}
		matchesID := invitation.InviteeID != nil && *invitation.InviteeID == inviteeID
		matchesEmail := strings.EqualFold(invitation.InviteeEmail, inviteeEmail)
		if matchesID || matchesEmail {
			cp := *invitation
			invitations = append(invitations, &cp)
		}
	}
	sort.Slice(invitations, func(i, j int) bool {
		return invitations[i].CreatedAt.After(invitations[j].CreatedAt)
	})
	return invitations, nil
}

func (f *fakeRepository) UpdateInvitationStatus(_ context.Context, id uuid.UUID, from, to InvitationStatus) error {
	f.mu.Lock()
	if f.failUpdateStatus != nil {
		f.mu.Unlock()
		return f.failUpdateStatus
	}
	invitation, ok := f.invitations[id]
	if !ok {
		f.mu.Unlock()
		return ErrInvitationNotFound
	}
	if invitation.Status != from {
		f.mu.Unlock()
		return ErrInvitationProcessed
	}
	invitation.Status = to
	invitation.UpdatedAt = time.Now()
	cp := *invitation
	f.mu.Unlock()
	f.publish(TableInvitations, realtime.EventUpdate, &cp)
	return nil
}

func (f *fakeRepository) CreateMessage(_ context.Context, message *Message) error {
	f.mu.Lock()
	message.CreatedAt = time.Now()
	cp := *message
	f.messages = append(f.messages, &cp)
	f.mu.Unlock()
	f.publish(TableMessages, realtime.EventInsert, message)
	return nil
}

func (f *fakeRepository) ListMessages(_ context.Context, roomID uuid.UUID, limit int) ([]*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var messages []*Message
	for _, message := range f.messages {
		if message.RoomID == roomID {
			cp := *message
			messages = append(messages, &cp)
		}
	}
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

func (f *fakeRepository) CreateOutput(_ context.Context, output *Output) error {
	f.mu.Lock()
	output.CreatedAt = time.Now()
	cp := *output
	f.outputs = append(f.outputs, &cp)
	f.mu.Unlock()
	f.publish(TableOutputs, realtime.EventInsert, output)
	return nil
}

func (f *fakeRepository) ListOutputs(_ context.Context, roomID uuid.UUID, limit int) ([]*Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var outputs []*Output
	for _, output := range f.outputs {
		if output.RoomID == roomID {
			cp := *output
			outputs = append(outputs, &cp)
		}
	}
	if len(outputs) > limit {
		outputs = outputs[len(outputs)-limit:]
	}
	return outputs, nil
}

// fakeDirectory is an in-memory UserDirectory.
type fakeDirectory struct {
	mu    sync.Mutex
	users map[uuid.UUID]*UserInfo

	// failLookups makes every lookup fail, for exercising fallback labels.
	failLookups error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{users: make(map[uuid.UUID]*UserInfo)}
}

func (d *fakeDirectory) add(info UserInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[info.ID] = &info
}

func (d *fakeDirectory) ByID(_ context.Context, id uuid.UUID) (*UserInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failLookups != nil {
		return nil, d.failLookups
	}
	if info, ok := d.users[id]; ok {
		cp := *info
		return &cp, nil
	}
	return nil, ErrUserNotFound
}

func (d *fakeDirectory) ByEmail(_ context.Context, email string) (*UserInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failLookups != nil {
		return nil, d.failLookups
	}
	for _, info := range d.users {
		if strings.EqualFold(info.Email, email) {
			cp := *info
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

// fixture bundles the collaborators most tests need.
type fixture struct {
	repo      *fakeRepository
	directory *fakeDirectory
	feed      *realtime.MemoryFeed
	presence  *realtime.MemoryPresence
	bus       *events.Bus

	rooms       *RoomService
	invitations *InvitationManager
	reconciler  *Reconciler
	chat        *ChatService
}

func newFixture() *fixture {
	logger := zap.NewNop()
	feed := realtime.NewMemoryFeed()
	presence := realtime.NewMemoryPresence()
	repo := newFakeRepository(feed)
	directory := newFakeDirectory()
	bus := events.NewBus(logger)

	return &fixture{
		repo:        repo,
		directory:   directory,
		feed:        feed,
		presence:    presence,
		bus:         bus,
		rooms:       NewRoomService(repo, directory, bus, 4, 3, logger),
		invitations: NewInvitationManager(repo, directory, feed, bus, 4, logger),
		reconciler:  NewReconciler(repo, feed, presence, logger),
		chat:        NewChatService(repo, feed, 20, logger),
	}
}

// addUser registers an account in the directory and returns its identity.
func (fx *fixture) addUser(email, name string) auth.Identity {
	id := uuid.New()
	fx.directory.add(UserInfo{ID: id, Email: email, DisplayName: name})
	return auth.Identity{UserID: id, Email: email}
}

// createRoom creates a room owned by the identity, with the owner member row.
func (fx *fixture) createRoom(ctx context.Context, owner auth.Identity, name string) *Room {
	room, err := fx.rooms.Create(ctx, owner, &CreateRoomRequest{Name: name})
	if err != nil {
		panic(err)
	}
	return room
}

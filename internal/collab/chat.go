package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codehive/server/internal/auth"
	"github.com/codehive/server/internal/realtime"
)

// MaxSharedCodeLength caps the code snippet stored with a shared output.
const MaxSharedCodeLength = 1000

// ChatService handles room chat messages and shared code outputs.
type ChatService struct {
	repo         Repository
	feed         realtime.Feed
	historyLimit int
	logger       *zap.Logger
}

// NewChatService creates a ChatService. historyLimit caps how many messages
// and outputs History and RecentOutputs return; zero means 20.
func NewChatService(repo Repository, feed realtime.Feed, historyLimit int, logger *zap.Logger) *ChatService {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &ChatService{
		repo:         repo,
		feed:         feed,
		historyLimit: historyLimit,
		logger:       logger,
	}
}

// History returns the latest messages in the room, oldest first.
func (s *ChatService) History(ctx context.Context, roomID uuid.UUID, identity auth.Identity) ([]*Message, error) {
	if _, err := s.repo.GetMember(ctx, roomID, identity.UserID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, roomID, s.historyLimit)
}

// Post appends a chat message to the room. Only members can post.
func (s *ChatService) Post(ctx context.Context, roomID uuid.UUID, identity auth.Identity, content string, isAI bool) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	member, err := s.repo.GetMember(ctx, roomID, identity.UserID)
	if err != nil {
		return nil, err
	}

	message := &Message{
		ID:       uuid.New(),
		RoomID:   roomID,
		UserID:   identity.UserID,
		Username: member.Username,
		Content:  content,
		IsAI:     isAI,
	}
	if err := s.repo.CreateMessage(ctx, message); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return message, nil
}

// SubscribeMessages delivers new messages posted in the room.
func (s *ChatService) SubscribeMessages(ctx context.Context, roomID uuid.UUID, fn func(*Message)) (*realtime.Subscription, error) {
	return s.feed.Subscribe(ctx, TableMessages, func(event realtime.TableEvent) {
		if event.Type != realtime.EventInsert {
			return
		}
		var message Message
		if err := json.Unmarshal(event.Row, &message); err != nil {
			s.logger.Warn("malformed message event", zap.Error(err))
			return
		}
		if message.RoomID != roomID {
			return
		}
		fn(&message)
	})
}

// RecentOutputs returns the latest shared outputs in the room, oldest first.
func (s *ChatService) RecentOutputs(ctx context.Context, roomID uuid.UUID, identity auth.Identity) ([]*Output, error) {
	if _, err := s.repo.GetMember(ctx, roomID, identity.UserID); err != nil {
		return nil, err
	}
	return s.repo.ListOutputs(ctx, roomID, s.historyLimit)
}

// Share records a code execution result in the room. The code snippet is
// truncated to MaxSharedCodeLength; the full source never leaves the editor.
func (s *ChatService) Share(ctx context.Context, roomID uuid.UUID, identity auth.Identity, code, output, language string) (*Output, error) {
	member, err := s.repo.GetMember(ctx, roomID, identity.UserID)
	if err != nil {
		return nil, err
	}

	code = truncateRunes(code, MaxSharedCodeLength)

	shared := &Output{
		ID:       uuid.New(),
		RoomID:   roomID,
		UserID:   identity.UserID,
		Username: member.Username,
		Code:     code,
		Output:   output,
		Language: language,
	}
	if err := s.repo.CreateOutput(ctx, shared); err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	return shared, nil
}

// truncateRunes shortens s to at most max characters. Cutting on a byte
// offset could split a multi-byte rune and produce invalid UTF-8, which
// Postgres rejects on insert.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	count := 0
	for i := range s {
		if count == max {
			return s[:i]
		}
		count++
	}
	return s
}

// SubscribeOutputs delivers new shared outputs in the room.
func (s *ChatService) SubscribeOutputs(ctx context.Context, roomID uuid.UUID, fn func(*Output)) (*realtime.Subscription, error) {
	return s.feed.Subscribe(ctx, TableOutputs, func(event realtime.TableEvent) {
		if event.Type != realtime.EventInsert {
			return
		}
		var output Output
		if err := json.Unmarshal(event.Row, &output); err != nil {
			s.logger.Warn("malformed output event", zap.Error(err))
			return
		}
		if output.RoomID != roomID {
			return
		}
		fn(&output)
	})
}

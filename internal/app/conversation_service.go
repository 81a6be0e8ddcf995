package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"ragchat/internal/model"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageEnqueue       = errors.New("message enqueue failed")
)

type AsyncMessagePublisher interface {
	Publish(ctx context.Context, msg model.Message) error
}

type ConversationRepo interface {
	Create(conversation *model.Conversation) error
	GetByIDAndOwnerID(id string, ownerID uint) (*model.Conversation, error)
	ListByOwnerID(ownerID uint) ([]model.Conversation, error)
}

type MessageRepo interface {
	ListByConversationID(conversationID string, limit int) ([]model.Message, error)
}

type HistoryCache interface {
	GetHistory(ctx context.Context, conversationID string) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, conversationID string, messages []model.Message) error
	DeleteHistory(ctx context.Context, conversationID string) error
	MarkDirty(ctx context.Context, conversationID string) error
	IsDirty(ctx context.Context, conversationID string) (bool, error)
}

// ConversationService owns conversation rows and their message history. It
// implements the engine's ConversationStore: reads go through the Redis
// cache when clean, appends are published to the persist queue in role order.
type ConversationService struct {
	convRepo     ConversationRepo
	messageRepo  MessageRepo
	publisher    AsyncMessagePublisher
	historyCache HistoryCache
}

func NewConversationService(
	convRepo ConversationRepo,
	messageRepo MessageRepo,
	publisher AsyncMessagePublisher,
	historyCache HistoryCache,
) *ConversationService {
	return &ConversationService{
		convRepo:     convRepo,
		messageRepo:  messageRepo,
		publisher:    publisher,
		historyCache: historyCache,
	}
}

// EnsureConversation resolves an existing conversation owned by ownerID, or
// creates a fresh one when conversationID is empty.
func (s *ConversationService) EnsureConversation(ownerID uint, conversationID string) (*model.Conversation, error) {
	if ownerID == 0 {
		return nil, ErrInvalidInput
	}
	if conversationID == "" {
		conversation := &model.Conversation{
			ID:      uuid.NewString(),
			OwnerID: ownerID,
		}
		if err := s.convRepo.Create(conversation); err != nil {
			return nil, err
		}
		return conversation, nil
	}

	conversation, err := s.convRepo.GetByIDAndOwnerID(conversationID, ownerID)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, ErrConversationNotFound
	}
	return conversation, nil
}

func (s *ConversationService) ListConversations(ownerID uint) ([]model.Conversation, error) {
	if ownerID == 0 {
		return nil, ErrInvalidInput
	}
	return s.convRepo.ListByOwnerID(ownerID)
}

// RecentMessages returns up to limit messages in chronological order; a
// non-positive limit means all of them. The cache key carries no window
// size, so a cache entry must always hold the full history: reads fetch the
// whole conversation, cache it when clean, and trim to the requested limit
// on the way out.
func (s *ConversationService) RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	if s.historyCache != nil {
		dirty, err := s.historyCache.IsDirty(ctx, conversationID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, conversationID); cacheErr == nil && hit {
				return trimMessages(cached, limit), nil
			}
		}
	}

	messages, err := s.messageRepo.ListByConversationID(conversationID, 0)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, conversationID); dirtyErr == nil && !dirty {
			_ = s.historyCache.SetHistory(ctx, conversationID, messages)
		}
	}
	return trimMessages(messages, limit), nil
}

// AppendTurn enqueues the user question and the assistant answer as two
// messages, user first. The cache is invalidated and marked dirty before
// publishing so a concurrent read cannot re-cache the pre-turn window.
func (s *ConversationService) AppendTurn(ctx context.Context, conversationID, question, answer string) error {
	if s.publisher == nil {
		return ErrMessageEnqueue
	}
	if s.historyCache != nil {
		_ = s.historyCache.MarkDirty(ctx, conversationID)
		_ = s.historyCache.DeleteHistory(ctx, conversationID)
	}

	now := time.Now()
	userMessage := model.Message{
		ConversationID: conversationID,
		Role:           model.RoleUser,
		Content:        question,
		CreatedAt:      now,
	}
	if err := s.publisher.Publish(ctx, userMessage); err != nil {
		return ErrMessageEnqueue
	}

	assistantMessage := model.Message{
		ConversationID: conversationID,
		Role:           model.RoleAssistant,
		Content:        answer,
		CreatedAt:      now.Add(time.Millisecond),
	}
	if err := s.publisher.Publish(ctx, assistantMessage); err != nil {
		return ErrMessageEnqueue
	}
	return nil
}

func trimMessages(messages []model.Message, limit int) []model.Message {
	if limit > 0 && len(messages) > limit {
		return messages[:limit]
	}
	return messages
}

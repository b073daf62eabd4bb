package notify

import (
	"context"
	"log/slog"
)

// Broadcaster pushes an event to every live subscriber of a room.
type Broadcaster interface {
	Publish(room string, event any)
}

// Service is the notification fan-out: durable feed rows plus best-effort
// live delivery to the owner's room.
type Service struct {
	repo Repository
	hub  Broadcaster
	log  *slog.Logger
}

func NewService(repo Repository, hub Broadcaster, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, hub: hub, log: log}
}

// NotifyParams describes one notification to deliver.
type NotifyParams struct {
	UserID   string
	Type     string
	Title    string
	Content  string
	Metadata map[string]any
}

// Notify persists the notification and pushes it to the user's live room.
// The insert is the durability boundary: if it fails the notification is
// lost loudly, while a failed live push only means the client sees it on
// the next feed fetch.
func (s *Service) Notify(ctx context.Context, params NotifyParams) (Notification, error) {
	n, err := s.repo.Insert(ctx, Notification{
		ID:       newID(),
		UserID:   params.UserID,
		Type:     params.Type,
		Title:    params.Title,
		Content:  params.Content,
		Metadata: params.Metadata,
	})
	if err != nil {
		return Notification{}, err
	}

	if s.hub != nil {
		s.hub.Publish("user:"+n.UserID, map[string]any{
			"type":         "notification",
			"notification": n,
		})
	}
	return n, nil
}

// List returns the user's feed newest-first.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]Notification, error) {
	return s.repo.ListByUser(ctx, userID, limit)
}

// UnreadCount reports how many feed entries the user has not read.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.repo.UnreadCount(ctx, userID)
}

// MarkRead marks one of the user's notifications read. Acting on someone
// else's notification is ErrForbidden; re-marking one already read is a
// no-op.
func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if n.UserID != userID {
		return ErrForbidden
	}
	return s.repo.MarkRead(ctx, userID, id)
}

// MarkAllRead clears the user's unread set.
func (s *Service) MarkAllRead(ctx context.Context, userID string) error {
	return s.repo.MarkAllRead(ctx, userID)
}

package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/CyberAshu/Vedawave/chatsync/rest"
)

// restHistory serves HistoryAPI from the REST client.
type restHistory struct {
	client *rest.Client
}

// NewRESTHistory returns a HistoryAPI backed by the server's REST endpoints.
func NewRESTHistory(client *rest.Client) HistoryAPI {
	return restHistory{client: client}
}

func (h restHistory) GetMessages(ctx context.Context, conversationID int64, limit, offset int) ([]Message, error) {
	raw, err := h.client.GetMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, err
	}
	page := make([]Message, 0, len(raw))
	for i, r := range raw {
		var m Message
		if err := json.Unmarshal(r, &m); err != nil {
			return nil, WrapError(ErrorSerialization, fmt.Sprintf("decode message %d of page", i), err)
		}
		page = append(page, m)
	}
	return page, nil
}

func (h restHistory) MarkSeen(ctx context.Context, conversationID int64) error {
	return h.client.MarkSeen(ctx, conversationID)
}

func (h restHistory) EditMessage(ctx context.Context, messageID int64, content string) error {
	return h.client.EditMessage(ctx, messageID, content)
}

func (h restHistory) DeleteMessage(ctx context.Context, messageID int64) error {
	return h.client.DeleteMessage(ctx, messageID)
}

func (h restHistory) AddReaction(ctx context.Context, messageID int64, emoji string) error {
	return h.client.AddReaction(ctx, messageID, emoji)
}

func (h restHistory) Upload(ctx context.Context, filename string, r io.Reader) (Attachment, error) {
	f, err := h.client.Upload(ctx, filename, r)
	if err != nil {
		return Attachment{}, err
	}
	return Attachment{Filename: f.Filename, FileURL: f.FileURL, FileType: f.FileType, FileSize: f.FileSize}, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"quote-archiver/internal/domain"
)

// CreateNotification persists a new notification.
func (c *Client) CreateNotification(ctx context.Context, n domain.Notification) error {
	if n.ID == "" || n.Recipient == "" {
		return errors.New("repository: CreateNotification: id and recipient are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tables.Notifications),
		Item:                notificationItem(n),
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return fmt.Errorf("repository: CreateNotification: %w", err)
	}
	return nil
}

// ExpiredNotifications returns up to limit notifications created before
// cutoff, oldest first, resuming after the given cursor.
func (c *Client) ExpiredNotifications(ctx context.Context, cutoff time.Time, limit int, after domain.PageCursor) ([]domain.Notification, error) {
	var startKey map[string]types.AttributeValue
	if !after.IsZero() {
		startKey = cursorKey(kindNotification, after.ID, after.CreatedAt)
	}
	items, err := c.queryExpired(ctx, c.tables.Notifications, kindNotification, cutoff, limit, startKey)
	if err != nil {
		return nil, fmt.Errorf("repository: ExpiredNotifications query: %w", err)
	}

	out := make([]domain.Notification, 0, len(items))
	for _, item := range items {
		n, err := itemToNotification(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ExpiredNotifications unmarshal: %w", err)
		}
		out = append(out, n)
	}
	return out, nil
}

// DeleteNotifications removes all ids in one atomic transaction.
func (c *Client) DeleteNotifications(ctx context.Context, ids []string) error {
	if err := c.deleteIDs(ctx, c.tables.Notifications, ids); err != nil {
		return fmt.Errorf("repository: DeleteNotifications: %w", err)
	}
	return nil
}

func notificationItem(n domain.Notification) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id":             &types.AttributeValueMemberS{Value: n.ID},
		"kind":           &types.AttributeValueMemberS{Value: kindNotification},
		"recipient":      &types.AttributeValueMemberS{Value: n.Recipient},
		"quoteRequestId": &types.AttributeValueMemberS{Value: n.QuoteRequestID},
		"title":          &types.AttributeValueMemberS{Value: n.Title},
		"body":           &types.AttributeValueMemberS{Value: n.Body},
		"createdAt":      millisAttr(n.CreatedAt),
		"read":           &types.AttributeValueMemberBOOL{Value: n.Read},
	}
}

func itemToNotification(item map[string]types.AttributeValue) (domain.Notification, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Notification{}, err
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Notification{}, err
	}
	return domain.Notification{
		ID:             id,
		Recipient:      optStrAttr(item, "recipient"),
		QuoteRequestID: optStrAttr(item, "quoteRequestId"),
		Title:          optStrAttr(item, "title"),
		Body:           optStrAttr(item, "body"),
		CreatedAt:      createdAt,
		Read:           boolAttr(item, "read"),
	}, nil
}

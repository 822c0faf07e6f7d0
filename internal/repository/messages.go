package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"quote-archiver/internal/domain"
)

// CreateMessage persists a new message. The id must not exist yet.
func (c *Client) CreateMessage(ctx context.Context, msg domain.Message) error {
	if msg.ID == "" {
		return errors.New("repository: CreateMessage: id is required")
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("repository: CreateMessage: %w", err)
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tables.Messages),
		Item:                messageItem(msg),
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return fmt.Errorf("repository: CreateMessage: %w", err)
	}
	return nil
}

// ListMessages returns the messages of one quote request with
// from <= createdAt < to, oldest first. A zero to means no upper bound; a
// range shorter than one millisecond is empty.
func (c *Client) ListMessages(ctx context.Context, quoteRequestID string, from, to time.Time) ([]domain.Message, error) {
	if !to.IsZero() && to.UnixMilli() <= from.UnixMilli() {
		return nil, nil
	}
	cond := "quoteRequestId = :qr AND #createdAt >= :from"
	values := map[string]types.AttributeValue{
		":qr":   &types.AttributeValueMemberS{Value: quoteRequestID},
		":from": millisAttr(from),
	}
	if !to.IsZero() {
		cond = "quoteRequestId = :qr AND #createdAt BETWEEN :from AND :to"
		values[":to"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(to.UnixMilli()-1, 10)}
	}

	var (
		msgs     []domain.Message
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(c.tables.Messages),
			IndexName:                 aws.String(indexByTenant),
			KeyConditionExpression:    aws.String(cond),
			ExpressionAttributeNames:  map[string]string{"#createdAt": "createdAt"},
			ExpressionAttributeValues: values,
			ScanIndexForward:          aws.Bool(true),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: ListMessages query: %w", err)
		}
		for _, item := range out.Items {
			msg, err := itemToMessage(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListMessages unmarshal: %w", err)
			}
			msgs = append(msgs, msg)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return msgs, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// MarkRead adds identity to the readBy set of an existing message.
func (c *Client) MarkRead(ctx context.Context, messageID, identity string) error {
	if messageID == "" || identity == "" {
		return errors.New("repository: MarkRead: message id and identity are required")
	}
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tables.Messages),
		Key:                 map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: messageID}},
		UpdateExpression:    aws.String("ADD readBy :reader"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":reader": &types.AttributeValueMemberSS{Value: []string{identity}},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("repository: MarkRead %s: %w", messageID, ErrNotFound)
		}
		return fmt.Errorf("repository: MarkRead: %w", err)
	}
	return nil
}

// ExpiredMessages returns up to limit messages created before cutoff, oldest
// first, resuming after the given cursor.
func (c *Client) ExpiredMessages(ctx context.Context, cutoff time.Time, limit int, after domain.PageCursor) ([]domain.Message, error) {
	var startKey map[string]types.AttributeValue
	if !after.IsZero() {
		startKey = cursorKey(kindMessage, after.ID, after.CreatedAt)
	}
	items, err := c.queryExpired(ctx, c.tables.Messages, kindMessage, cutoff, limit, startKey)
	if err != nil {
		return nil, fmt.Errorf("repository: ExpiredMessages query: %w", err)
	}

	msgs := make([]domain.Message, 0, len(items))
	for _, item := range items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ExpiredMessages unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// DeleteMessages removes all ids in one atomic transaction.
func (c *Client) DeleteMessages(ctx context.Context, ids []string) error {
	if err := c.deleteIDs(ctx, c.tables.Messages, ids); err != nil {
		return fmt.Errorf("repository: DeleteMessages: %w", err)
	}
	return nil
}

func messageItem(msg domain.Message) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"id":             &types.AttributeValueMemberS{Value: msg.ID},
		"kind":           &types.AttributeValueMemberS{Value: kindMessage},
		"quoteRequestId": &types.AttributeValueMemberS{Value: msg.QuoteRequestID},
		"text":           &types.AttributeValueMemberS{Value: msg.Text},
		"senderIdentity": &types.AttributeValueMemberS{Value: msg.SenderIdentity},
		"senderUnit":     &types.AttributeValueMemberS{Value: msg.SenderUnit},
		"createdAt":      millisAttr(msg.CreatedAt),
	}
	files := make([]types.AttributeValue, 0, len(msg.Files))
	for _, f := range msg.Files {
		files = append(files, &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"name":     &types.AttributeValueMemberS{Value: f.Name},
			"url":      &types.AttributeValueMemberS{Value: f.URL},
			"mimeType": &types.AttributeValueMemberS{Value: f.MimeType},
			"size":     &types.AttributeValueMemberN{Value: strconv.FormatInt(f.Size, 10)},
		}})
	}
	item["files"] = &types.AttributeValueMemberL{Value: files}
	// String sets cannot be empty.
	if len(msg.ReadBy) > 0 {
		item["readBy"] = &types.AttributeValueMemberSS{Value: msg.ReadBy}
	}
	return item
}

// itemToMessage converts a DynamoDB attribute map to a Message.
func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Message{}, err
	}
	qr, err := strAttr(item, "quoteRequestId")
	if err != nil {
		return domain.Message{}, err
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Message{}, err
	}
	files, err := filesAttr(item)
	if err != nil {
		return domain.Message{}, err
	}

	return domain.Message{
		ID:             id,
		QuoteRequestID: qr,
		Text:           optStrAttr(item, "text"),
		SenderIdentity: optStrAttr(item, "senderIdentity"),
		SenderUnit:     optStrAttr(item, "senderUnit"),
		CreatedAt:      createdAt,
		Files:          files,
		ReadBy:         stringSetAttr(item, "readBy"),
	}, nil
}

func filesAttr(item map[string]types.AttributeValue) ([]domain.Attachment, error) {
	raw, ok := item["files"]
	if !ok {
		return nil, nil
	}
	list, ok := raw.(*types.AttributeValueMemberL)
	if !ok {
		return nil, errors.New("repository: attribute \"files\" is not a list")
	}
	if len(list.Value) == 0 {
		return nil, nil
	}
	files := make([]domain.Attachment, 0, len(list.Value))
	for i, v := range list.Value {
		m, ok := v.(*types.AttributeValueMemberM)
		if !ok {
			return nil, fmt.Errorf("repository: files[%d] is not a map", i)
		}
		// Size is optional; a present but malformed size is an error.
		var size int64
		if _, ok := m.Value["size"]; ok {
			n, err := int64Attr(m.Value, "size")
			if err != nil {
				return nil, fmt.Errorf("repository: files[%d]: %w", i, err)
			}
			size = n
		}
		files = append(files, domain.Attachment{
			Name:     optStrAttr(m.Value, "name"),
			URL:      optStrAttr(m.Value, "url"),
			MimeType: optStrAttr(m.Value, "mimeType"),
			Size:     size,
		})
	}
	return files, nil
}

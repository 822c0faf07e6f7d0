package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"quote-archiver/internal/domain"
)

const (
	kindMessage      = "message"
	kindNotification = "notification"

	// indexByCreatedAt is the GSI (kind, createdAt) used for expiry scans.
	indexByCreatedAt = "kind-createdAt-index"
	// indexByTenant is the GSI (quoteRequestId, createdAt) on the messages table.
	indexByTenant = "quoteRequestId-createdAt-index"

	// MaxBatchSize is the largest atomic batch DynamoDB accepts
	// (TransactWriteItems action limit).
	MaxBatchSize = 100
)

var (
	// ErrNotFound is returned when the addressed record does not exist.
	ErrNotFound = domain.ErrNotFound
	// ErrBatchTooLarge is returned when a delete batch exceeds MaxBatchSize.
	ErrBatchTooLarge = fmt.Errorf("repository: batch exceeds %d items", MaxBatchSize)
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Tables names the DynamoDB tables backing the live store. Locks is optional;
// without it the lease operations are unavailable.
type Tables struct {
	Messages      string
	Notifications string
	Locks         string
}

// Client is the live document store for messages, notifications and job
// leases.
type Client struct {
	api    dynamodbAPI
	tables Tables
}

// New creates a new repository Client.
func New(api dynamodbAPI, tables Tables) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	tables.Messages = strings.TrimSpace(tables.Messages)
	tables.Notifications = strings.TrimSpace(tables.Notifications)
	tables.Locks = strings.TrimSpace(tables.Locks)
	if tables.Messages == "" {
		return nil, errors.New("repository: messages table name must not be empty")
	}
	if tables.Notifications == "" {
		return nil, errors.New("repository: notifications table name must not be empty")
	}
	return &Client{api: api, tables: tables}, nil
}

// HasLocks reports whether a lock table is configured.
func (c *Client) HasLocks() bool {
	return c.tables.Locks != ""
}

// queryExpired reads up to limit items of the given kind with
// createdAt < cutoff, ascending, starting after the cursor key. It follows
// LastEvaluatedKey when DynamoDB cuts a response short at its 1MB limit so a
// short page reliably means the scan is exhausted.
func (c *Client) queryExpired(ctx context.Context, table, kind string, cutoff time.Time, limit int, startKey map[string]types.AttributeValue) ([]map[string]types.AttributeValue, error) {
	if limit <= 0 {
		return nil, errors.New("repository: limit must be positive")
	}
	items := make([]map[string]types.AttributeValue, 0, limit)
	for len(items) < limit {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(table),
			IndexName:              aws.String(indexByCreatedAt),
			KeyConditionExpression: aws.String("#kind = :kind AND #createdAt < :cutoff"),
			ExpressionAttributeNames: map[string]string{
				"#kind":      "kind",
				"#createdAt": "createdAt",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":kind":   &types.AttributeValueMemberS{Value: kind},
				":cutoff": millisAttr(cutoff),
			},
			ScanIndexForward:  aws.Bool(true),
			Limit:             aws.Int32(int32(limit - len(items))),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return items, nil
}

// cursorKey rebuilds the ExclusiveStartKey of an index scan from the last
// record seen: table key plus index keys.
func cursorKey(kind, id string, createdAt time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id":        &types.AttributeValueMemberS{Value: id},
		"kind":      &types.AttributeValueMemberS{Value: kind},
		"createdAt": millisAttr(createdAt),
	}
}

// deleteIDs removes ids from table in a single transaction.
func (c *Client) deleteIDs(ctx context.Context, table string, ids []string) error {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	if len(ids) > MaxBatchSize {
		return ErrBatchTooLarge
	}
	items := make([]types.TransactWriteItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(table),
				Key:       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
			},
		})
	}
	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return err
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func millisAttr(t time.Time) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.UnixMilli(), 10)}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

// optStrAttr returns "" for absent attributes.
func optStrAttr(item map[string]types.AttributeValue, key string) string {
	s, _ := strAttr(item, key)
	return s
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	ms, err := int64Attr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func boolAttr(item map[string]types.AttributeValue, key string) bool {
	b, ok := item[key].(*types.AttributeValueMemberBOOL)
	return ok && b.Value
}

func stringSetAttr(item map[string]types.AttributeValue, key string) []string {
	ss, ok := item[key].(*types.AttributeValueMemberSS)
	if !ok || len(ss.Value) == 0 {
		return nil
	}
	out := append([]string(nil), ss.Value...)
	sort.Strings(out)
	return out
}

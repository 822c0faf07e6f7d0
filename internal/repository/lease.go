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

// ErrLeaseLost is returned by ReleaseLease when the lease is no longer held
// by the caller.
var ErrLeaseLost = errors.New("repository: lease no longer held")

// AcquireLease takes the named lease for owner until now+ttl. It returns
// false without error when another owner holds an unexpired lease.
func (c *Client) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration, now time.Time) (domain.Lease, bool, error) {
	if !c.HasLocks() {
		return domain.Lease{}, false, errors.New("repository: AcquireLease: lock table not configured")
	}
	if name == "" || owner == "" {
		return domain.Lease{}, false, errors.New("repository: AcquireLease: name and owner are required")
	}
	if ttl <= 0 {
		return domain.Lease{}, false, errors.New("repository: AcquireLease: ttl must be positive")
	}

	lease := domain.Lease{Name: name, Owner: owner, ExpiresAt: now.Add(ttl).UTC()}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tables.Locks),
		Item: map[string]types.AttributeValue{
			"id":         &types.AttributeValueMemberS{Value: name},
			"owner":      &types.AttributeValueMemberS{Value: owner},
			"expiresAt":  millisAttr(lease.ExpiresAt),
			"acquiredAt": millisAttr(now),
		},
		ConditionExpression:      aws.String("attribute_not_exists(id) OR expiresAt < :now OR #owner = :owner"),
		ExpressionAttributeNames: map[string]string{"#owner": "owner"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":   millisAttr(now),
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return domain.Lease{}, false, nil
		}
		return domain.Lease{}, false, fmt.Errorf("repository: AcquireLease: %w", err)
	}
	return lease, true, nil
}

// ReleaseLease deletes the lease if owner still holds it.
func (c *Client) ReleaseLease(ctx context.Context, lease domain.Lease) error {
	if !c.HasLocks() {
		return errors.New("repository: ReleaseLease: lock table not configured")
	}
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(c.tables.Locks),
		Key:                      map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: lease.Name}},
		ConditionExpression:      aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{"#owner": "owner"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: lease.Owner},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrLeaseLost
		}
		return fmt.Errorf("repository: ReleaseLease: %w", err)
	}
	return nil
}

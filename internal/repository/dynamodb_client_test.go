package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"quote-archiver/internal/domain"
)

type fakeDynamo struct {
	putErr       error
	updateErr    error
	deleteErr    error
	queryOuts    []*dynamodb.QueryOutput
	queryErr     error
	txErr        error
	lastPutInput *dynamodb.PutItemInput
	lastUpdateIn *dynamodb.UpdateItemInput
	lastDeleteIn *dynamodb.DeleteItemInput
	queryIns     []*dynamodb.QueryInput
	lastTxInput  *dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdateIn = in
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.lastDeleteIn = in
	return &dynamodb.DeleteItemOutput{}, f.deleteErr
}

// Query pops the next canned output; an exhausted queue yields an empty page.
func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryIns = append(f.queryIns, in)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if len(f.queryOuts) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	out := f.queryOuts[0]
	f.queryOuts = f.queryOuts[1:]
	return out, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

var t0 = time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)

func makeMessageItem(id, qr, text string, createdAt time.Time) map[string]types.AttributeValue {
	return messageItem(domain.Message{
		ID:             id,
		QuoteRequestID: qr,
		Text:           text,
		SenderIdentity: "u1",
		SenderUnit:     "sales",
		CreatedAt:      createdAt,
	})
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, Tables{Messages: "messages", Notifications: "notifications", Locks: "locks"})
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Tables{Messages: "m", Notifications: "n"})
	require.ErrorContains(t, err, "must not be nil")

	_, err = New(&fakeDynamo{}, Tables{Notifications: "n"})
	require.ErrorContains(t, err, "messages table")

	_, err = New(&fakeDynamo{}, Tables{Messages: "m", Notifications: " "})
	require.ErrorContains(t, err, "notifications table")

	c, err := New(&fakeDynamo{}, Tables{Messages: "m", Notifications: "n"})
	require.NoError(t, err)
	require.False(t, c.HasLocks())
}

func TestCreateMessage_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	msg := domain.Message{
		ID:             "m1",
		QuoteRequestID: "qr1",
		SenderIdentity: "u1",
		CreatedAt:      t0,
		Files:          []domain.Attachment{{Name: "quote.pdf", URL: "https://x/quote.pdf", MimeType: "application/pdf", Size: 42}},
	}
	require.NoError(t, c.CreateMessage(context.Background(), msg))

	in := db.lastPutInput
	require.Equal(t, "messages", *in.TableName)
	require.Equal(t, "attribute_not_exists(id)", *in.ConditionExpression)
	require.Equal(t, kindMessage, in.Item["kind"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, fmt.Sprint(t0.UnixMilli()), in.Item["createdAt"].(*types.AttributeValueMemberN).Value)
	require.NotContains(t, in.Item, "readBy")

	back, err := itemToMessage(in.Item)
	require.NoError(t, err)
	require.Equal(t, msg, back)
}

func TestCreateMessage_Invalid(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	err := c.CreateMessage(context.Background(), domain.Message{QuoteRequestID: "qr1", SenderIdentity: "u1", Text: "hi"})
	require.ErrorContains(t, err, "id is required")

	err = c.CreateMessage(context.Background(), domain.Message{ID: "m1", QuoteRequestID: "qr1", SenderIdentity: "u1"})
	require.ErrorIs(t, err, domain.ErrEmptyMessage)
	require.Nil(t, db.lastPutInput)
}

func TestCreateMessage_DynamoError(t *testing.T) {
	db := &fakeDynamo{putErr: errors.New("ProvisionedThroughputExceededException")}
	c := mustNewClient(t, db)
	err := c.CreateMessage(context.Background(), domain.Message{ID: "m1", QuoteRequestID: "qr1", SenderIdentity: "u1", Text: "hi"})
	require.ErrorContains(t, err, "CreateMessage")
}

func TestListMessages_FollowsPages(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{
			Items:            []map[string]types.AttributeValue{makeMessageItem("m1", "qr1", "first", t0)},
			LastEvaluatedKey: cursorKey(kindMessage, "m1", t0),
		},
		{Items: []map[string]types.AttributeValue{makeMessageItem("m2", "qr1", "second", t0.Add(time.Minute))}},
	}}
	c := mustNewClient(t, db)

	msgs, err := c.ListMessages(context.Background(), "qr1", t0.Add(-time.Hour), time.Time{})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "first", msgs[0].Text)
	require.Equal(t, "second", msgs[1].Text)

	require.Len(t, db.queryIns, 2)
	require.Equal(t, indexByTenant, *db.queryIns[0].IndexName)
	require.Equal(t, "quoteRequestId = :qr AND #createdAt >= :from", *db.queryIns[0].KeyConditionExpression)
	require.NotEmpty(t, db.queryIns[1].ExclusiveStartKey)
}

func TestListMessages_UpperBoundIsExclusive(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	_, err := c.ListMessages(context.Background(), "qr1", t0, t0.Add(time.Hour))
	require.NoError(t, err)
	in := db.queryIns[0]
	require.Contains(t, *in.KeyConditionExpression, "BETWEEN :from AND :to")
	require.Equal(t, fmt.Sprint(t0.Add(time.Hour).UnixMilli()-1), in.ExpressionAttributeValues[":to"].(*types.AttributeValueMemberN).Value)
}

func TestListMessages_EmptyMillisecondRangeSkipsQuery(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	msgs, err := c.ListMessages(context.Background(), "qr1", t0.Add(200*time.Microsecond), t0.Add(700*time.Microsecond))
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.Empty(t, db.queryIns)
}

func TestListMessages_MalformedItem(t *testing.T) {
	item := map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: "m1"}}
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{item}}}}
	c := mustNewClient(t, db)
	_, err := c.ListMessages(context.Background(), "qr1", t0, time.Time{})
	require.ErrorContains(t, err, "quoteRequestId")
}

func TestItemToMessage_AttachmentSize(t *testing.T) {
	item := makeMessageItem("m1", "qr1", "hi", t0)
	item["files"] = &types.AttributeValueMemberL{Value: []types.AttributeValue{
		&types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"name": &types.AttributeValueMemberS{Value: "a.pdf"},
			"url":  &types.AttributeValueMemberS{Value: "https://x/a.pdf"},
		}},
	}}
	msg, err := itemToMessage(item)
	require.NoError(t, err)
	require.Len(t, msg.Files, 1)
	require.Zero(t, msg.Files[0].Size)

	item["files"] = &types.AttributeValueMemberL{Value: []types.AttributeValue{
		&types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"name": &types.AttributeValueMemberS{Value: "a.pdf"},
			"size": &types.AttributeValueMemberN{Value: "12kb"},
		}},
	}}
	_, err = itemToMessage(item)
	require.ErrorContains(t, err, "files[0]")
	require.ErrorContains(t, err, "size")
}

func TestMarkRead(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.MarkRead(context.Background(), "m1", "u2"))
	require.Equal(t, "ADD readBy :reader", *db.lastUpdateIn.UpdateExpression)
	require.Equal(t, []string{"u2"}, db.lastUpdateIn.ExpressionAttributeValues[":reader"].(*types.AttributeValueMemberSS).Value)

	db.updateErr = &types.ConditionalCheckFailedException{Message: aws.String("nope")}
	err := c.MarkRead(context.Background(), "missing", "u2")
	require.ErrorIs(t, err, ErrNotFound)

	require.Error(t, c.MarkRead(context.Background(), "", "u2"))
}

func TestExpiredMessages_QueryShape(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{makeMessageItem("m1", "qr1", "old", t0)}},
	}}
	c := mustNewClient(t, db)
	cutoff := t0.Add(24 * time.Hour)

	msgs, err := c.ExpiredMessages(context.Background(), cutoff, 100, domain.PageCursor{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	in := db.queryIns[0]
	require.Equal(t, indexByCreatedAt, *in.IndexName)
	require.Equal(t, "#kind = :kind AND #createdAt < :cutoff", *in.KeyConditionExpression)
	require.True(t, *in.ScanIndexForward)
	require.Equal(t, int32(100), *in.Limit)
	require.Nil(t, in.ExclusiveStartKey)
	require.Equal(t, fmt.Sprint(cutoff.UnixMilli()), in.ExpressionAttributeValues[":cutoff"].(*types.AttributeValueMemberN).Value)
}

func TestExpiredMessages_ResumesAfterCursorAndFillsPage(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{
			Items:            []map[string]types.AttributeValue{makeMessageItem("m2", "qr1", "a", t0)},
			LastEvaluatedKey: cursorKey(kindMessage, "m2", t0),
		},
		{Items: []map[string]types.AttributeValue{makeMessageItem("m3", "qr1", "b", t0)}},
	}}
	c := mustNewClient(t, db)

	msgs, err := c.ExpiredMessages(context.Background(), t0.Add(time.Hour), 2, domain.PageCursor{ID: "m1", CreatedAt: t0})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "m1", db.queryIns[0].ExclusiveStartKey["id"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, int32(1), *db.queryIns[1].Limit)
}

func TestExpiredMessages_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryErr: errors.New("boom")})
	_, err := c.ExpiredMessages(context.Background(), t0, 10, domain.PageCursor{})
	require.ErrorContains(t, err, "ExpiredMessages")

	_, err = c.ExpiredMessages(context.Background(), t0, 0, domain.PageCursor{})
	require.ErrorContains(t, err, "limit must be positive")
}

func TestDeleteMessages_SingleTransaction(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.DeleteMessages(context.Background(), []string{"m1", "m2", "m1", ""}))
	require.Len(t, db.lastTxInput.TransactItems, 2)
	require.Equal(t, "messages", *db.lastTxInput.TransactItems[0].Delete.TableName)
}

func TestDeleteMessages_EmptyIsNoop(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.DeleteMessages(context.Background(), nil))
	require.Nil(t, db.lastTxInput)
}

func TestDeleteMessages_TooLarge(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	ids := make([]string, MaxBatchSize+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("m%d", i)
	}
	require.ErrorIs(t, c.DeleteMessages(context.Background(), ids), ErrBatchTooLarge)
	require.Nil(t, db.lastTxInput)
}

func TestDeleteMessages_TransactionError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{txErr: errors.New("TransactionCanceledException")})
	err := c.DeleteMessages(context.Background(), []string{"m1"})
	require.ErrorContains(t, err, "DeleteMessages")
}

func TestNotifications_RoundTrip(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	n := domain.Notification{ID: "n1", Recipient: "u1", QuoteRequestID: "qr1", Title: "New message", Body: "hi", CreatedAt: t0, Read: true}
	require.NoError(t, c.CreateNotification(context.Background(), n))
	require.Equal(t, "notifications", *db.lastPutInput.TableName)

	db.queryOuts = []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{db.lastPutInput.Item}}}
	got, err := c.ExpiredNotifications(context.Background(), t0.Add(time.Hour), 100, domain.PageCursor{})
	require.NoError(t, err)
	require.Equal(t, []domain.Notification{n}, got)
	require.Equal(t, kindNotification, db.queryIns[0].ExpressionAttributeValues[":kind"].(*types.AttributeValueMemberS).Value)

	require.NoError(t, c.DeleteNotifications(context.Background(), []string{"n1"}))
	require.Equal(t, "notifications", *db.lastTxInput.TransactItems[0].Delete.TableName)
}

func TestCreateNotification_RequiresRecipient(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	require.Error(t, c.CreateNotification(context.Background(), domain.Notification{ID: "n1"}))
}

func TestAcquireLease(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	lease, ok, err := c.AcquireLease(context.Background(), "archival", "run-1", 15*time.Minute, t0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, t0.Add(15*time.Minute), lease.ExpiresAt)
	require.Equal(t, "locks", *db.lastPutInput.TableName)
	require.Contains(t, *db.lastPutInput.ConditionExpression, "expiresAt < :now")

	db.putErr = &types.ConditionalCheckFailedException{Message: aws.String("held")}
	_, ok, err = c.AcquireLease(context.Background(), "archival", "run-2", 15*time.Minute, t0)
	require.NoError(t, err)
	require.False(t, ok)

	db.putErr = errors.New("boom")
	_, _, err = c.AcquireLease(context.Background(), "archival", "run-2", 15*time.Minute, t0)
	require.ErrorContains(t, err, "AcquireLease")
}

func TestReleaseLease(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	lease := domain.Lease{Name: "archival", Owner: "run-1"}

	require.NoError(t, c.ReleaseLease(context.Background(), lease))
	require.Equal(t, "#owner = :owner", *db.lastDeleteIn.ConditionExpression)

	db.deleteErr = &types.ConditionalCheckFailedException{Message: aws.String("stolen")}
	require.ErrorIs(t, c.ReleaseLease(context.Background(), lease), ErrLeaseLost)
}

func TestLease_NoLockTable(t *testing.T) {
	c, err := New(&fakeDynamo{}, Tables{Messages: "m", Notifications: "n"})
	require.NoError(t, err)
	_, _, err = c.AcquireLease(context.Background(), "archival", "run-1", time.Minute, t0)
	require.ErrorContains(t, err, "lock table")
	require.ErrorContains(t, c.ReleaseLease(context.Background(), domain.Lease{Name: "archival", Owner: "run-1"}), "lock table")
}

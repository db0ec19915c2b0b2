package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"talk-pdf/internal/domain"
)

const (
	skMeta           = "META#"
	skPrefixEntry    = "ENTRY#"
	pkPrefixConv     = "CONV#"
	pkPrefixUser     = "USER#"
	batchWriteLimit  = 25
	maxBatchAttempts = 5
)

// dynamodbAPI is the minimal DynamoDB interface required by Dynamo.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Dynamo stores conversations and entries in a single DynamoDB table.
//
// Conversation metadata lives at PK=CONV#<id>, SK=META# and is projected into
// the owner index (GSI1PK=USER#<userId>, GSI1SK=<created>#<id>). Entries live
// under the same partition at SK=ENTRY#<created>#<entryId>, so a forward query
// returns them in creation order.
type Dynamo struct {
	api       dynamodbAPI
	tableName string
	indexName string
}

var _ Store = (*Dynamo)(nil)

// NewDynamo creates a DynamoDB backed Store.
func NewDynamo(api dynamodbAPI, tableName, indexName string) (*Dynamo, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if strings.TrimSpace(indexName) == "" {
		return nil, errors.New("repository: index name must not be empty")
	}
	return &Dynamo{api: api, tableName: tableName, indexName: indexName}, nil
}

// convPK returns the DynamoDB partition key for a conversation.
func convPK(conversationID string) string {
	return pkPrefixConv + conversationID
}

func userPK(userID string) string {
	return pkPrefixUser + userID
}

func entrySK(e domain.Entry) string {
	return skPrefixEntry + formatTime(e.CreatedAt) + "#" + e.ID
}

// ListConversations queries the owner index newest first.
func (d *Dynamo) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		IndexName:              aws.String(d.indexName),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: userPK(userID)},
		},
		ScanIndexForward: aws.Bool(false),
	}

	items, err := d.queryAll(ctx, in)
	if err != nil {
		return nil, unavailable("ListConversations query", err)
	}

	convs := make([]domain.Conversation, 0, len(items))
	for _, item := range items {
		c, err := itemToConversation(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListConversations unmarshal: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, nil
}

// GetConversation reads the conversation metadata record.
func (d *Dynamo) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: convPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Conversation{}, unavailable("GetConversation get item", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Conversation{}, ErrNotFound
	}
	c, err := itemToConversation(out.Item)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation unmarshal: %w", err)
	}
	return c, nil
}

// CreateConversation writes a new conversation record owned by userID.
func (d *Dynamo) CreateConversation(ctx context.Context, userID, title string) (domain.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Conversation{}, errors.New("repository: CreateConversation: user id is required")
	}
	c := domain.Conversation{
		ID:        newID(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now(),
	}
	_, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                conversationItem(c),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return domain.Conversation{}, fmt.Errorf("repository: CreateConversation: %w", ErrConflict)
		}
		return domain.Conversation{}, unavailable("CreateConversation", err)
	}
	return c, nil
}

// DeleteConversation removes every entry of the conversation and then its
// metadata record. Absent items are not an error, so a retry after a partial
// failure converges.
func (d *Dynamo) DeleteConversation(ctx context.Context, id string) error {
	keys, err := d.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(id)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixEntry},
		},
		ProjectionExpression: aws.String("PK, SK"),
	})
	if err != nil {
		return unavailable("DeleteConversation query entries", err)
	}

	for start := 0; start < len(keys); start += batchWriteLimit {
		end := min(start+batchWriteLimit, len(keys))
		if err := d.batchDelete(ctx, keys[start:end]); err != nil {
			return unavailable("DeleteConversation delete entries", err)
		}
	}

	_, err = d.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: convPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
	})
	if err != nil {
		return unavailable("DeleteConversation delete meta", err)
	}
	return nil
}

// ListEntries queries all ENTRY# items for a conversation ordered chronologically.
func (d *Dynamo) ListEntries(ctx context.Context, conversationID string) ([]domain.Entry, error) {
	items, err := d.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixEntry},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, unavailable("ListEntries query", err)
	}

	entries := make([]domain.Entry, 0, len(items))
	for _, item := range items {
		e, err := itemToEntry(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListEntries unmarshal: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// AppendEntry inserts a transcript entry. Existing entries are never overwritten.
func (d *Dynamo) AppendEntry(ctx context.Context, e domain.Entry) error {
	if err := validateEntry("AppendEntry", e); err != nil {
		return err
	}
	_, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                entryItem(e),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("repository: AppendEntry: %w", ErrConflict)
		}
		return unavailable("AppendEntry", err)
	}
	return nil
}

// Close is a no-op; the SDK client owns no resources that need releasing.
func (d *Dynamo) Close() error { return nil }

func (d *Dynamo) queryAll(ctx context.Context, in *dynamodb.QueryInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	for {
		out, err := d.api.Query(ctx, in)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return items, nil
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// batchDelete deletes up to batchWriteLimit keys, resubmitting unprocessed
// items as the BatchWriteItem protocol requires.
func (d *Dynamo) batchDelete(ctx context.Context, keys []map[string]types.AttributeValue) error {
	requests := make([]types.WriteRequest, 0, len(keys))
	for _, k := range keys {
		requests = append(requests, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: map[string]types.AttributeValue{
				"PK": k["PK"],
				"SK": k["SK"],
			}},
		})
	}

	pending := map[string][]types.WriteRequest{d.tableName: requests}
	for attempt := 0; attempt < maxBatchAttempts; attempt++ {
		out, err := d.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return err
		}
		if out == nil || len(out.UnprocessedItems[d.tableName]) == 0 {
			return nil
		}
		pending = out.UnprocessedItems
	}
	return fmt.Errorf("%d delete requests still unprocessed after %d attempts", len(pending[d.tableName]), maxBatchAttempts)
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func conversationItem(c domain.Conversation) map[string]types.AttributeValue {
	created := formatTime(c.CreatedAt)
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: convPK(c.ID)},
		"SK":        &types.AttributeValueMemberS{Value: skMeta},
		"GSI1PK":    &types.AttributeValueMemberS{Value: userPK(c.UserID)},
		"GSI1SK":    &types.AttributeValueMemberS{Value: created + "#" + c.ID},
		"id":        &types.AttributeValueMemberS{Value: c.ID},
		"userId":    &types.AttributeValueMemberS{Value: c.UserID},
		"title":     &types.AttributeValueMemberS{Value: c.Title},
		"createdAt": &types.AttributeValueMemberS{Value: created},
	}
}

func entryItem(e domain.Entry) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(e.ConversationID)},
		"SK":             &types.AttributeValueMemberS{Value: entrySK(e)},
		"id":             &types.AttributeValueMemberS{Value: e.ID},
		"conversationId": &types.AttributeValueMemberS{Value: e.ConversationID},
		"userId":         &types.AttributeValueMemberS{Value: e.UserID},
		"question":       &types.AttributeValueMemberS{Value: e.Question},
		"response":       &types.AttributeValueMemberS{Value: e.Answer},
		"timestamp":      &types.AttributeValueMemberS{Value: formatTime(e.CreatedAt)},
	}
}

// itemToConversation converts a DynamoDB attribute map to a Conversation.
func itemToConversation(item map[string]types.AttributeValue) (domain.Conversation, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Conversation{}, err
	}
	userID, err := strAttr(item, "userId")
	if err != nil {
		return domain.Conversation{}, err
	}
	title, _ := strAttr(item, "title") // allow empty
	created, err := strAttr(item, "createdAt")
	if err != nil {
		return domain.Conversation{}, err
	}
	ts, err := parseTime(created)
	if err != nil {
		return domain.Conversation{}, err
	}
	return domain.Conversation{ID: id, UserID: userID, Title: title, CreatedAt: ts}, nil
}

// itemToEntry converts a DynamoDB attribute map to an Entry.
func itemToEntry(item map[string]types.AttributeValue) (domain.Entry, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Entry{}, err
	}
	convID, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.Entry{}, err
	}
	question, err := strAttr(item, "question")
	if err != nil {
		return domain.Entry{}, err
	}
	answer, _ := strAttr(item, "response") // allow empty
	userID, _ := strAttr(item, "userId")
	stamp, err := strAttr(item, "timestamp")
	if err != nil {
		return domain.Entry{}, err
	}
	ts, err := parseTime(stamp)
	if err != nil {
		return domain.Entry{}, err
	}
	return domain.Entry{
		ID:             id,
		ConversationID: convID,
		UserID:         userID,
		Question:       question,
		Answer:         answer,
		CreatedAt:      ts,
	}, nil
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

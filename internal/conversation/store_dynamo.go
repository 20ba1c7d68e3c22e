package conversation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/tatamali-wallet/pkg/logging"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

type sessionRecord struct {
	Session
	ExpiresAt int64 `dynamodbav:"expiresAt,omitempty"`
}

// DynamoStore persists sessions in a DynamoDB table keyed by "phone" and
// guards writes with a conditional put on "version".
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	ttl       time.Duration
	logger    *logging.Logger
	now       func() time.Time
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore builds a store backed by the provided DynamoDB client.
func NewDynamoStore(client dynamoAPI, tableName string, ttl time.Duration, logger *logging.Logger) *DynamoStore {
	if client == nil {
		panic("conversation: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("conversation: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		ttl:       ttl,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *DynamoStore) GetOrCreate(ctx context.Context, phone string) (Session, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"phone": &types.AttributeValueMemberS{Value: phone},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Session{}, fmt.Errorf("conversation: failed to load session: %w", err)
	}
	if len(out.Item) == 0 {
		return NewSession(phone), nil
	}
	var rec sessionRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return Session{}, fmt.Errorf("conversation: failed to decode session: %w", err)
	}
	return rec.Session, nil
}

func (s *DynamoStore) CompareAndSwap(ctx context.Context, phone string, expected, next Session) (bool, error) {
	stamped, err := prepareNext(phone, expected, next, s.now())
	if err != nil {
		return false, err
	}
	rec := sessionRecord{Session: stamped}
	if s.ttl > 0 {
		rec.ExpiresAt = stamped.UpdatedAt.Add(s.ttl).Unix()
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return false, fmt.Errorf("conversation: failed to marshal session: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}
	if expected.Version == 0 {
		input.ConditionExpression = aws.String("attribute_not_exists(phone)")
	} else {
		input.ConditionExpression = aws.String("#version = :expected")
		input.ExpressionAttributeNames = map[string]string{"#version": "version"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected.Version, 10)},
		}
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			s.logger.Debug("conversation: session version moved", "phone", logging.MaskPhone(phone), "expected", expected.Version)
			return false, nil
		}
		return false, fmt.Errorf("conversation: failed to persist session: %w", err)
	}
	return true, nil
}

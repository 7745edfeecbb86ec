package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vendorportal/vendorportal/internal/models"
)

var ErrUserExists = errors.New("user already exists")

type UserRepository struct {
	client    DynamoDBAPI
	tableName string
	logger    *logrus.Logger
	now       func() time.Time
}

func NewUserRepository(client DynamoDBAPI, tableName string, logger *logrus.Logger) *UserRepository {
	return &UserRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
		now:       time.Now,
	}
}

func (r *UserRepository) key(email string) map[string]types.AttributeValue {
	user := &models.User{Email: email}
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: user.GetPK()},
		"SK": &types.AttributeValueMemberS{Value: user.GetSK()},
	}
}

// GetByEmail returns nil, nil when no user exists for email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       r.key(email),
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to get user from DynamoDB")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var dbUser models.User
	if err := attributevalue.UnmarshalMap(result.Item, &dbUser); err != nil {
		r.logger.WithError(err).Error("Failed to unmarshal user from DynamoDB")
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}

	return &dbUser, nil
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	now := r.now().UTC()
	user.Email = models.NormalizeEmail(user.Email)
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.CreatedAt = now
	user.UpdatedAt = now

	item, err := attributevalue.MarshalMap(user)
	if err != nil {
		r.logger.WithError(err).Error("Failed to marshal user for DynamoDB")
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	item["PK"] = &types.AttributeValueMemberS{Value: user.GetPK()}
	item["SK"] = &types.AttributeValueMemberS{Value: user.GetSK()}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return ErrUserExists
		}
		r.logger.WithError(err).Error("Failed to create user in DynamoDB")
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// MarkVerified records that the user proved control of the address.
func (r *UserRepository) MarkVerified(ctx context.Context, user *models.User) error {
	now := r.now().UTC()

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.tableName),
		Key:              r.key(user.Email),
		UpdateExpression: aws.String("SET verified = :verified, verified_at = :verified_at, updated_at = :updated_at"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":verified":    &types.AttributeValueMemberBOOL{Value: true},
			":verified_at": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
			":updated_at":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to mark user verified in DynamoDB")
		return fmt.Errorf("failed to update user: %w", err)
	}

	user.Verified = true
	user.VerifiedAt = &now
	user.UpdatedAt = now
	return nil
}

// GetOrCreate resolves the user for email, creating it on first login.
// A concurrent create for the same address is resolved by re-reading.
func (r *UserRepository) GetOrCreate(ctx context.Context, email string) (*models.User, error) {
	email = models.NormalizeEmail(email)

	user, err := r.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if user != nil {
		return user, nil
	}

	newUser := &models.User{Email: email}
	if err := r.Create(ctx, newUser); err != nil {
		if !errors.Is(err, ErrUserExists) {
			return nil, err
		}
		existing, err := r.GetByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("failed to resolve user %s after conflicting create", email)
		}
		return existing, nil
	}

	r.logger.WithField("email", email).Info("Created user")
	return newUser, nil
}

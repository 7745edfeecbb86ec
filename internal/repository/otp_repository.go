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
	"github.com/sirupsen/logrus"
	"github.com/vendorportal/vendorportal/internal/models"
)

var ErrOTPNotFound = errors.New("OTP not found or expired")

// OTPRepository keeps OTP records in DynamoDB. Expiry relies on the table's TTL attribute.
type OTPRepository struct {
	client    DynamoDBAPI
	tableName string
	logger    *logrus.Logger
}

func NewOTPRepository(client DynamoDBAPI, tableName string, logger *logrus.Logger) *OTPRepository {
	return &OTPRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func otpKey(email string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("OTP#%s", models.NormalizeEmail(email))},
		"SK": &types.AttributeValueMemberS{Value: "METADATA"},
	}
}

// Save stores OTP data in DynamoDB with TTL
func (r *OTPRepository) Save(ctx context.Context, email string, otpData models.OTPData) error {
	item := otpKey(email)
	item["OTPHash"] = &types.AttributeValueMemberS{Value: otpData.OTPHash}
	item["Email"] = &types.AttributeValueMemberS{Value: otpData.Email}
	item["Attempts"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", otpData.Attempts)}
	item["CreatedAt"] = &types.AttributeValueMemberS{Value: otpData.CreatedAt.Format(time.RFC3339Nano)}
	item["ExpiresAt"] = &types.AttributeValueMemberS{Value: otpData.ExpiresAt.Format(time.RFC3339Nano)}
	item["TTL"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", otpData.ExpiresAt.Unix())}

	_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to store OTP in DynamoDB")
		return fmt.Errorf("failed to store OTP: %w", err)
	}

	return nil
}

// Get retrieves OTP data from DynamoDB
func (r *OTPRepository) Get(ctx context.Context, email string) (*models.OTPData, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            otpKey(email),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}

	if result.Item == nil {
		return nil, ErrOTPNotFound
	}

	var otpData models.OTPData
	if err := attributevalue.UnmarshalMap(result.Item, &otpData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OTP data: %w", err)
	}

	return &otpData, nil
}

// Delete removes OTP data from DynamoDB
func (r *OTPRepository) Delete(ctx context.Context, email string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       otpKey(email),
	})
	if err != nil {
		return fmt.Errorf("failed to delete OTP: %w", err)
	}

	return nil
}

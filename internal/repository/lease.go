package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	leasePK            = "LEASE#chat-sync"
	leaseSK            = "PASS#"
	defaultLeaseTTL    = 5 * time.Minute
	leaseAcquireClause = "attribute_not_exists(PK) OR expiresAt < :now"
	leaseReleaseClause = "#owner = :owner"
	leaseRenewUpdate   = "SET expiresAt = :expires, #ttl = :ttl"
)

// ErrLeaseLost is returned by Renew when owner no longer holds the lease.
var ErrLeaseLost = errors.New("repository: lease lost")

// dynamodbAPI is the minimal DynamoDB interface required by Lease.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Lease is a DynamoDB-backed mutual exclusion record that keeps sync passes
// from overlapping across processes. An expired lease can be taken over.
type Lease struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// NewLease creates a Lease on the given table. A non-positive ttl selects
// five minutes.
func NewLease(api dynamodbAPI, tableName string, ttl time.Duration) (*Lease, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	return &Lease{api: api, tableName: tableName, ttl: ttl, now: time.Now}, nil
}

// TryAcquire takes the lease for owner. It returns false without error when
// another owner holds an unexpired lease.
func (l *Lease) TryAcquire(ctx context.Context, owner string) (bool, error) {
	if owner == "" {
		return false, errors.New("repository: TryAcquire: owner is required")
	}
	now := l.now().UTC()
	_, err := l.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.tableName),
		Item:                leaseItem(owner, now, now.Add(l.ttl)),
		ConditionExpression: aws.String(leaseAcquireClause),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err != nil {
		var held *types.ConditionalCheckFailedException
		if errors.As(err, &held) {
			return false, nil
		}
		return false, fmt.Errorf("repository: TryAcquire: %w", err)
	}
	return true, nil
}

// Renew pushes the expiry of owner's lease one ttl past now.
func (l *Lease) Renew(ctx context.Context, owner string) error {
	expires := l.now().UTC().Add(l.ttl)
	_, err := l.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(l.tableName),
		Key:                      leaseKey(),
		UpdateExpression:         aws.String(leaseRenewUpdate),
		ConditionExpression:      aws.String(leaseReleaseClause),
		ExpressionAttributeNames: map[string]string{"#owner": "owner", "#ttl": "ttl"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner":   &types.AttributeValueMemberS{Value: owner},
			":expires": &types.AttributeValueMemberN{Value: strconv.FormatInt(expires.Unix(), 10)},
			":ttl":     &types.AttributeValueMemberN{Value: strconv.FormatInt(expires.Add(time.Hour).Unix(), 10)},
		},
	})
	if err != nil {
		var lost *types.ConditionalCheckFailedException
		if errors.As(err, &lost) {
			return ErrLeaseLost
		}
		return fmt.Errorf("repository: Renew: %w", err)
	}
	return nil
}

// RenewInterval is how often a holder should call Renew.
func (l *Lease) RenewInterval() time.Duration {
	return l.ttl / 3
}

// Release drops the lease if owner still holds it.
func (l *Lease) Release(ctx context.Context, owner string) error {
	_, err := l.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(l.tableName),
		Key:                      leaseKey(),
		ConditionExpression:      aws.String(leaseReleaseClause),
		ExpressionAttributeNames: map[string]string{"#owner": "owner"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		var lost *types.ConditionalCheckFailedException
		if errors.As(err, &lost) {
			return nil
		}
		return fmt.Errorf("repository: Release: %w", err)
	}
	return nil
}

func leaseKey() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: leasePK},
		"SK": &types.AttributeValueMemberS{Value: leaseSK},
	}
}

func leaseItem(owner string, acquired, expires time.Time) map[string]types.AttributeValue {
	item := leaseKey()
	item["owner"] = &types.AttributeValueMemberS{Value: owner}
	item["acquiredAt"] = &types.AttributeValueMemberS{Value: acquired.Format(time.RFC3339)}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expires.Unix(), 10)}
	// ttl lets DynamoDB reap abandoned leases.
	item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expires.Add(time.Hour).Unix(), 10)}
	return item
}

package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// DynamoDBMirror optionally mirrors every accepted StateStore write to a
// DynamoDB table keyed by (node_id, group), giving operators a durable,
// cross-AZ-visible audit trail of keeper state transitions. It never backs
// the local reconcile loop's read path: StateStore's on-disk file remains
// the sole source of truth, and the only writer of it. A mirror write
// failure is logged by the caller and never blocks or fails the local
// write.
type DynamoDBMirror struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoDBMirror(client *dynamodb.Client, tableName string) *DynamoDBMirror {
	return &DynamoDBMirror{client: client, tableName: tableName}
}

// item is the DynamoDB-facing projection of KeeperState plus the
// correlation id of the write that produced it.
type item struct {
	NodeID           int64  `dynamodbav:"node_id"`
	Group            int32  `dynamodbav:"group_id"`
	PgControlVersion uint32 `dynamodbav:"pg_control_version"`
	CurrentRole      string `dynamodbav:"current_role"`
	AssignedRole     string `dynamodbav:"assigned_role"`
	LastWriteID      string `dynamodbav:"last_write_id"`
}

// Mirror writes k to DynamoDB. When k.PgControlVersion is non-zero the
// write is conditioned on pg_control_version either not existing yet or
// matching its previously-mirrored value, reflecting the §3 invariant that
// pg_control_version, once non-zero, never changes; a zero value is
// written unconditionally.
func (m *DynamoDBMirror) Mirror(ctx context.Context, k KeeperState, writeID uuid.UUID) error {
	input, err := buildPutItemInput(m.tableName, k, writeID)
	if err != nil {
		return err
	}

	if _, err := m.client.PutItem(ctx, input); err != nil {
		var conditionErr *types.ConditionalCheckFailedException
		if errors.As(err, &conditionErr) {
			return fmt.Errorf("dynamodb mirror: pg_control_version changed unexpectedly for node %d: %w", k.CurrentNodeID, err)
		}
		return fmt.Errorf("write keeper state to dynamodb mirror: %w", err)
	}

	return nil
}

// buildPutItemInput builds the PutItemInput for k, pulled out of Mirror so
// the marshaling and conditional-expression logic can be tested without a
// DynamoDB endpoint.
func buildPutItemInput(tableName string, k KeeperState, writeID uuid.UUID) (*dynamodb.PutItemInput, error) {
	value, err := attributevalue.MarshalMap(item{
		NodeID:           k.CurrentNodeID,
		Group:            k.CurrentGroup,
		PgControlVersion: k.PgControlVersion,
		CurrentRole:      k.CurrentRole.String(),
		AssignedRole:     k.AssignedRole.String(),
		LastWriteID:      writeID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal keeper state for dynamodb mirror: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(tableName),
		Item:      value,
	}

	if k.PgControlVersion != 0 {
		input.ConditionExpression = aws.String(
			"attribute_not_exists(pg_control_version) OR pg_control_version = :prev",
		)
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":prev": &types.AttributeValueMemberN{Value: fmt.Sprint(k.PgControlVersion)},
		}
	}

	return input, nil
}

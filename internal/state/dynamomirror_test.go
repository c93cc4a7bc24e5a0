package state

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPutItemInput_OmitsConditionOnFirstWrite(t *testing.T) {
	k := KeeperState{CurrentNodeID: 1, CurrentGroup: 0, CurrentRole: Init, AssignedRole: Single}
	input, err := buildPutItemInput("keeper_state", k, uuid.New())
	require.NoError(t, err)

	assert.Equal(t, "keeper_state", *input.TableName)
	assert.Nil(t, input.ConditionExpression)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "init"}, input.Item["current_role"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "single"}, input.Item["assigned_role"])
}

func TestBuildPutItemInput_ConditionsOnPriorControlVersion(t *testing.T) {
	k := KeeperState{
		CurrentNodeID:    2,
		CurrentGroup:     0,
		PgControlVersion: 42,
		CurrentRole:      Primary,
		AssignedRole:     Primary,
	}
	input, err := buildPutItemInput("keeper_state", k, uuid.New())
	require.NoError(t, err)

	require.NotNil(t, input.ConditionExpression)
	assert.Equal(t, "attribute_not_exists(pg_control_version) OR pg_control_version = :prev", *input.ConditionExpression)
	assert.Equal(t, &types.AttributeValueMemberN{Value: "42"}, input.ExpressionAttributeValues[":prev"])
}

func TestBuildPutItemInput_StampsWriteID(t *testing.T) {
	writeID := uuid.New()
	k := KeeperState{CurrentNodeID: 3, CurrentRole: Secondary, AssignedRole: Secondary}
	input, err := buildPutItemInput("keeper_state", k, writeID)
	require.NoError(t, err)

	assert.Equal(t, &types.AttributeValueMemberS{Value: writeID.String()}, input.Item["last_write_id"])
}

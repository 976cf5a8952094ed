package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
)

// CommercialIndex is the sparse GSI over conversations keyed by the assigned
// agent. Unassigned conversations carry no CommercialID and stay out of it.
const CommercialIndex = "CommercialIndex"

// tableReadyTimeout bounds the wait for a freshly created table
const tableReadyTimeout = 2 * time.Minute

type tableSpec struct {
	name       string
	hashKey    string
	gsiName    string
	gsiHashKey string
}

// definition builds the CreateTable request for the spec
func (t tableSpec) definition() *dynamodb.CreateTableInput {
	input := &dynamodb.CreateTableInput{
		TableName: aws.String(t.name),
		KeySchema: []dbtypes.KeySchemaElement{
			{AttributeName: aws.String(t.hashKey), KeyType: dbtypes.KeyTypeHash},
		},
		AttributeDefinitions: []dbtypes.AttributeDefinition{
			{AttributeName: aws.String(t.hashKey), AttributeType: dbtypes.ScalarAttributeTypeS},
		},
		BillingMode: dbtypes.BillingModePayPerRequest,
	}
	if t.gsiName == "" {
		return input
	}

	input.AttributeDefinitions = append(input.AttributeDefinitions, dbtypes.AttributeDefinition{
		AttributeName: aws.String(t.gsiHashKey),
		AttributeType: dbtypes.ScalarAttributeTypeS,
	})
	input.GlobalSecondaryIndexes = []dbtypes.GlobalSecondaryIndex{{
		IndexName: aws.String(t.gsiName),
		KeySchema: []dbtypes.KeySchemaElement{
			{AttributeName: aws.String(t.gsiHashKey), KeyType: dbtypes.KeyTypeHash},
		},
		// the workload count only needs Status
		Projection: &dbtypes.Projection{
			ProjectionType:   dbtypes.ProjectionTypeInclude,
			NonKeyAttributes: []string{"Status"},
		},
	}}
	return input
}

func tableSpecs(config Config) []tableSpec {
	return []tableSpec{
		{name: config.ConversationsTable, hashKey: "ConversationID", gsiName: CommercialIndex, gsiHashKey: "CommercialID"},
		{name: config.AgentProfilesTable, hashKey: "AgentID"},
	}
}

// CreateTablesIfNotExist creates the conversation and profile tables against
// DynamoDB Local and waits until they are ACTIVE. In aws mode the tables and
// the CommercialIndex are provisioned outside the service.
func CreateTablesIfNotExist(ctx context.Context, client *dynamodb.Client, config Config, logger zerolog.Logger) error {
	for _, table := range tableSpecs(config) {
		_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(table.name),
		})
		if err == nil {
			logger.Debug().Str("table", table.name).Msg("table already exists")
			continue
		}

		if _, err := client.CreateTable(ctx, table.definition()); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table.name, err)
		}

		waiter := dynamodb.NewTableExistsWaiter(client)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table.name)}, tableReadyTimeout); err != nil {
			return fmt.Errorf("waiting for table %s: %w", table.name, err)
		}

		logger.Info().
			Str("table", table.name).
			Str("index", table.gsiName).
			Msg("table created")
	}

	return nil
}

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/rs/zerolog"
)

// DynamoDBStore implements Store using AWS DynamoDB
type DynamoDBStore struct {
	client *dynamodb.Client
	config Config
	logger zerolog.Logger
}

// NewDynamoDBStore creates a new DynamoDB store
func NewDynamoDBStore(ctx context.Context, cfg Config, logger zerolog.Logger) (*DynamoDBStore, error) {
	var client *dynamodb.Client

	if cfg.Mode == ModeLocal {
		// For local mode, build the client directly without LoadDefaultConfig.
		// LoadDefaultConfig queries the EC2 IMDS endpoint which hangs on EC2
		// instances when static credentials are intended.
		client = dynamodb.New(dynamodb.Options{
			Region:       cfg.Region,
			BaseEndpoint: aws.String(cfg.Endpoint),
			Credentials:  credentials.NewStaticCredentialsProvider("local", "local", ""),
		})
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = dynamodb.NewFromConfig(awsCfg)
	}

	logger = logger.With().Str("component", "dynamodb_store").Logger()
	store := &DynamoDBStore{
		client: client,
		config: cfg,
		logger: logger,
	}

	// Create tables in local mode
	if cfg.Mode == ModeLocal {
		if err := CreateTablesIfNotExist(ctx, client, cfg, logger); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("mode", string(cfg.Mode)).
		Str("region", cfg.Region).
		Msg("DynamoDB store initialized")

	return store, nil
}

func (s *DynamoDBStore) CreateConversation(ctx context.Context, conv types.Conversation) error {
	cond := expression.AttributeNotExists(expression.Name("ConversationID"))
	err := s.putConversation(ctx, conv, cond)
	if isConditionFailure(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *DynamoDBStore) GetConversation(ctx context.Context, id string) (types.Conversation, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.config.ConversationsTable),
		Key: map[string]dbtypes.AttributeValue{
			"ConversationID": &dbtypes.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return types.Conversation{}, fmt.Errorf("failed to get conversation: %w", err)
	}
	if result.Item == nil {
		return types.Conversation{}, ErrNotFound
	}

	var conv types.Conversation
	if err := attributevalue.UnmarshalMap(result.Item, &conv); err != nil {
		return types.Conversation{}, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return conv, nil
}

func (s *DynamoDBStore) SaveConversation(ctx context.Context, conv types.Conversation) error {
	cond := expression.AttributeExists(expression.Name("ConversationID")).
		And(expression.Name("Version").Equal(expression.Value(conv.Version - 1)))

	err := s.putConversation(ctx, conv, cond)
	if !isConditionFailure(err) {
		return err
	}

	// tell a missing item apart from a lost race
	if _, getErr := s.GetConversation(ctx, conv.ID); errors.Is(getErr, ErrNotFound) {
		return ErrNotFound
	}
	return ErrVersionConflict
}

func (s *DynamoDBStore) putConversation(ctx context.Context, conv types.Conversation, cond expression.ConditionBuilder) error {
	item, err := attributevalue.MarshalMap(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("failed to build expression: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.config.ConversationsTable),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionFailure(err) {
			return err
		}
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// CountActiveByCommercial queries the CommercialIndex for the agent's
// conversations and counts the ASSIGNED and ACTIVE ones
func (s *DynamoDBStore) CountActiveByCommercial(ctx context.Context, agentID types.AgentID) (int, error) {
	keyCond := expression.Key("CommercialID").Equal(expression.Value(string(agentID)))
	filter := expression.Name("Status").In(
		expression.Value(string(types.ConversationAssigned)),
		expression.Value(string(types.ConversationActive)),
	)
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).WithFilter(filter).Build()
	if err != nil {
		return 0, fmt.Errorf("failed to build expression: %w", err)
	}

	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.ConversationsTable),
		IndexName:                 aws.String(CommercialIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Select:                    dbtypes.SelectCount,
	})

	total := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to count conversations: %w", err)
		}
		total += int(page.Count)
	}
	return total, nil
}

func (s *DynamoDBStore) SaveAgentProfile(ctx context.Context, profile types.AgentProfile) error {
	item, err := attributevalue.MarshalMap(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal agent profile: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.AgentProfilesTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save agent profile: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) GetAgentProfile(ctx context.Context, agentID types.AgentID) (types.AgentProfile, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.config.AgentProfilesTable),
		Key: map[string]dbtypes.AttributeValue{
			"AgentID": &dbtypes.AttributeValueMemberS{Value: string(agentID)},
		},
	})
	if err != nil {
		return types.AgentProfile{}, fmt.Errorf("failed to get agent profile: %w", err)
	}
	if result.Item == nil {
		return types.AgentProfile{}, ErrNotFound
	}

	var profile types.AgentProfile
	if err := attributevalue.UnmarshalMap(result.Item, &profile); err != nil {
		return types.AgentProfile{}, fmt.Errorf("failed to unmarshal agent profile: %w", err)
	}
	return profile, nil
}

func (s *DynamoDBStore) ListAgentProfiles(ctx context.Context) ([]types.AgentProfile, error) {
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName: aws.String(s.config.AgentProfilesTable),
	})

	var profiles []types.AgentProfile
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent profiles: %w", err)
		}
		var batch []types.AgentProfile
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("failed to unmarshal agent profiles: %w", err)
		}
		profiles = append(profiles, batch...)
	}
	return profiles, nil
}

func (s *DynamoDBStore) Close() error { return nil }

func isConditionFailure(err error) bool {
	var ccf *dbtypes.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

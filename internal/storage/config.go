package storage

import "os"

// Mode selects the conversation/profile storage backend
type Mode string

const (
	ModeNone   Mode = "none" // in-process memory
	ModeSQLite Mode = "sqlite"
	ModeLocal  Mode = "local" // DynamoDB Local
	ModeAWS    Mode = "aws"
)

// Config holds storage configuration
type Config struct {
	Mode               Mode
	SQLitePath         string
	Endpoint           string // for local mode
	Region             string
	ConversationsTable string
	AgentProfilesTable string
}

// LoadConfig loads storage config from environment
func LoadConfig() Config {
	mode := Mode(getEnv("STORAGE_MODE", "none"))
	switch mode {
	case ModeSQLite, ModeLocal, ModeAWS:
	default:
		mode = ModeNone
	}

	return Config{
		Mode:               mode,
		SQLitePath:         getEnv("SQLITE_PATH", "data/presence.db"),
		Endpoint:           getEnv("DYNAMO_ENDPOINT", "http://localhost:8000"),
		Region:             getEnv("DYNAMO_REGION", "eu-central-1"),
		ConversationsTable: getEnv("DYNAMO_CONVERSATIONS_TABLE", "presence-conversations"),
		AgentProfilesTable: getEnv("DYNAMO_AGENT_PROFILES_TABLE", "presence-agent-profiles"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

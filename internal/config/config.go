package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	RAG     RAGConfig
	Session SessionConfig
	Log     LogConfig
	Trace   TraceConfig
}

// Load 从环境变量加载配置。CONFIG_FILE 指向的 YAML 文件会覆盖 RAG 配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	rag, err := loadRAGConfig()
	if err != nil {
		return nil, err
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := ApplyVariantFile(path, &rag); err != nil {
			return nil, err
		}
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	trace, err := loadTraceConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		AI:      ai,
		RAG:     rag,
		Session: session,
		Log:     loadLogConfig(),
		Trace:   trace,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	origins := splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"))

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey         string
	APIKeyParam    string
	AccessKey      string
	SecretKey      string
	Model          string
	BaseURL        string
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	StreamResponse bool
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("ARK_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		APIKeyParam:    strings.TrimSpace(os.Getenv("ARK_API_KEY_PARAM")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:          strings.TrimSpace(os.Getenv("Model")),
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
	}, nil
}

// Empty-context policies. PolicyRefuse skips the model when retrieval
// finds nothing; PolicyGenerate still calls it with an empty context block.
const (
	PolicyRefuse   = "refuse"
	PolicyGenerate = "generate"
)

// RAGConfig 描述向量检索相关配置。
type RAGConfig struct {
	Collection         string  `yaml:"collection"`
	DBPath             string  `yaml:"db_path"`
	Compress           bool    `yaml:"compress"`
	EmbeddingProvider  string  `yaml:"embedding_provider"`
	EmbeddingModel     string  `yaml:"embedding_model"`
	OllamaBaseURL      string  `yaml:"ollama_base_url"`
	OpenAIAPIKey       string  `yaml:"-"`
	TopK               int     `yaml:"top_k"`
	MaxDistance        float64 `yaml:"max_distance"`
	EmptyContextPolicy string  `yaml:"empty_context_policy"`
	DataFile           string  `yaml:"data_file"`
}

func loadRAGConfig() (RAGConfig, error) {
	topK := 3
	if override, err := parseOptionalIntEnv("RAG_TOP_K"); err != nil {
		return RAGConfig{}, err
	} else if override != nil {
		topK = *override
	}

	maxDistance := 0.0
	if override, err := parseOptionalFloatEnv("RAG_MAX_DISTANCE"); err != nil {
		return RAGConfig{}, err
	} else if override != nil {
		maxDistance = *override
	}

	compress, err := parseBoolEnv("RAG_DB_COMPRESS", false)
	if err != nil {
		return RAGConfig{}, err
	}

	cfg := RAGConfig{
		Collection:         getEnvOrDefault("RAG_COLLECTION", "dichvucong_rag"),
		DBPath:             getEnvOrDefault("RAG_DB_PATH", "./chroma_db"),
		Compress:           compress,
		EmbeddingProvider:  getEnvOrDefault("RAG_EMBEDDING_PROVIDER", "ollama"),
		EmbeddingModel:     getEnvOrDefault("RAG_EMBEDDING_MODEL", "bge-m3"),
		OllamaBaseURL:      getEnvOrDefault("OLLAMA_BASE_URL", ""),
		OpenAIAPIKey:       strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		TopK:               topK,
		MaxDistance:        maxDistance,
		EmptyContextPolicy: getEnvOrDefault("RAG_EMPTY_CONTEXT_POLICY", PolicyRefuse),
		DataFile:           getEnvOrDefault("RAG_DATA_FILE", "all_procedures_normalized.json"),
	}
	return cfg, cfg.Validate()
}

// Validate 检查 RAG 配置的取值范围。
func (c RAGConfig) Validate() error {
	if strings.TrimSpace(c.Collection) == "" {
		return fmt.Errorf("RAG collection name is required")
	}
	if c.TopK < 1 || c.TopK > 10 {
		return fmt.Errorf("invalid RAG_TOP_K value %d: must be within [1,10]", c.TopK)
	}
	if c.MaxDistance < 0 {
		return fmt.Errorf("invalid RAG_MAX_DISTANCE value %v", c.MaxDistance)
	}
	switch c.EmptyContextPolicy {
	case PolicyRefuse, PolicyGenerate:
	default:
		return fmt.Errorf("invalid RAG_EMPTY_CONTEXT_POLICY value %q", c.EmptyContextPolicy)
	}
	switch c.EmbeddingProvider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("invalid RAG_EMBEDDING_PROVIDER value %q", c.EmbeddingProvider)
	}
	return nil
}

// SessionConfig 描述会话存储配置。
type SessionConfig struct {
	TTL time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	ttl, err := parseDurationEnv("SESSION_TTL", 2*time.Hour)
	if err != nil {
		return SessionConfig{}, err
	}
	return SessionConfig{TTL: ttl}, nil
}

// LogConfig 描述日志输出配置。
type LogConfig struct {
	FilePath   string
	Production bool
}

func loadLogConfig() LogConfig {
	return LogConfig{
		FilePath:   getEnvOrDefault("LOG_FILE_PATH", "logs/app.log"),
		Production: getEnvOrDefault("GO_ENV", "development") == "production",
	}
}

// TraceConfig 描述 OpenTelemetry 配置。
type TraceConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
}

func loadTraceConfig() (TraceConfig, error) {
	enabled, err := parseBoolEnv("OTEL_ENABLED", false)
	if err != nil {
		return TraceConfig{}, err
	}
	return TraceConfig{
		Enabled:     enabled,
		Endpoint:    getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		ServiceName: getEnvOrDefault("OTEL_SERVICE_NAME", "procedure-assistant"),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

package parlor

import (
	"log"
	"os"

	"github.com/parlorchat/parlor/content"
	"github.com/parlorchat/parlor/docparse"
	"github.com/parlorchat/parlor/models"
	"github.com/parlorchat/parlor/providers"
	"github.com/parlorchat/parlor/rag"
	"github.com/parlorchat/parlor/stores"
	"github.com/parlorchat/parlor/toolruntime"
)

// DefaultHistoryWindow bounds how many prior turns accompany a request.
const DefaultHistoryWindow = 10

// Config assembles a Pipeline's collaborators.
type Config struct {
	Registry      *providers.Registry
	Store         stores.TurnStore
	Retriever     rag.Retriever
	Tools         *toolruntime.Runtime
	Parser        docparse.Parser
	Agents        map[string]models.AgentConfig
	HistoryWindow int
	Logger        *log.Logger
}

// NewConfig creates a configuration with default values: an empty provider
// registry, the built-in tool runtime, the plain-text parser, and no store
// or retriever (both optional collaborators).
func NewConfig() *Config {
	return &Config{
		Registry:      providers.NewRegistry(),
		Tools:         toolruntime.NewWithDefaults(),
		Parser:        docparse.NewPlainText(),
		Agents:        make(map[string]models.AgentConfig),
		HistoryWindow: DefaultHistoryWindow,
		Logger:        log.New(os.Stderr, "[parlor] ", log.LstdFlags),
	}
}

// WithRegistry sets the provider registry.
func (c *Config) WithRegistry(registry *providers.Registry) *Config {
	c.Registry = registry
	return c
}

// WithStore sets the conversation-history store.
func (c *Config) WithStore(store stores.TurnStore) *Config {
	c.Store = store
	return c
}

// WithSQLiteStore sets a SQLite store at the given path.
func (c *Config) WithSQLiteStore(dbPath string) *Config {
	store, err := stores.NewSQLiteStoreSimple(dbPath)
	if err != nil {
		panic("Failed to create SQLite store: " + err.Error())
	}
	c.Store = store
	return c
}

// WithPostgresStore sets a PostgreSQL store with the given connection parameters.
func (c *Config) WithPostgresStore(host, user, password, dbname string, port int) *Config {
	store, err := stores.NewPostgresStoreDefault(host, user, password, dbname, port)
	if err != nil {
		panic("Failed to create PostgreSQL store: " + err.Error())
	}
	c.Store = store
	return c
}

// WithRetriever sets the knowledge-base retrieval collaborator.
func (c *Config) WithRetriever(retriever rag.Retriever) *Config {
	c.Retriever = retriever
	return c
}

// WithTools sets the tool runtime.
func (c *Config) WithTools(tools *toolruntime.Runtime) *Config {
	c.Tools = tools
	return c
}

// WithParser sets the document parser used for attachment text extraction.
func (c *Config) WithParser(parser docparse.Parser) *Config {
	c.Parser = parser
	return c
}

// WithAgent registers a named agent configuration.
func (c *Config) WithAgent(agent models.AgentConfig) *Config {
	c.Agents[agent.ID] = agent
	return c
}

// WithHistoryWindow sets how many prior turns accompany each request.
func (c *Config) WithHistoryWindow(n int) *Config {
	c.HistoryWindow = n
	return c
}

// New builds a Pipeline from the configuration.
func New(cfg *Config) *Pipeline {
	if cfg == nil {
		cfg = NewConfig()
	}
	if cfg.Registry == nil {
		cfg.Registry = providers.NewRegistry()
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[parlor] ", log.LstdFlags)
	}

	return &Pipeline{
		registry:      cfg.Registry,
		store:         cfg.Store,
		augmenter:     rag.NewAugmenter(cfg.Retriever),
		adapter:       content.New(cfg.Parser),
		tools:         cfg.Tools,
		agents:        cfg.Agents,
		historyWindow: cfg.HistoryWindow,
		logger:        cfg.Logger,
	}
}

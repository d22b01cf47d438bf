package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"rag-chatbot/internal/chromemdb"
	"rag-chatbot/internal/config"
	"rag-chatbot/internal/db"
	"rag-chatbot/internal/embedding"
	"rag-chatbot/internal/helper"
	"rag-chatbot/internal/history"
	"rag-chatbot/internal/ingest"
	"rag-chatbot/internal/llmservice"
	"rag-chatbot/internal/models"
	"rag-chatbot/internal/rag"
	"rag-chatbot/internal/tui"
)

const defaultConfigPath = "key.json"

// vectorStore is what startup needs from either backend.
type vectorStore interface {
	rag.Searcher
	IndexChunks(ctx context.Context, chunks []models.Chunk) (int, error)
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	configPath := flag.String("config", defaultConfigPath, "Path to the JSON or YAML settings file")
	sessionFlag := flag.String("session", "", "Chat session id (defaults to chat_session_id or a new UUID)")
	useTUI := flag.Bool("tui", false, "Run the terminal UI instead of the line prompt")
	showSources := flag.Bool("sources", false, "Print the retrieved sources after each answer")
	reset := flag.Bool("reset", false, "Drop the existing index before loading the source")
	export := flag.Bool("export", false, "Write a chromem backup to export_file after indexing")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if err := cfg.ApplyTracingEnv(); err != nil {
		log.Fatal().Err(err).Msg("Error exporting tracing environment")
	}

	ctx := context.Background()

	embedder, err := embedding.New(ctx, cfg.Embedding)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}
	log.Info().Str("model", embedder.Model()).Int("dimension", embedder.Dimension()).Msg("Embedding model ready")

	store, closeStore, err := openStore(ctx, cfg, embedder, *reset)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening vector store")
	}
	defer closeStore()

	if err := indexSource(ctx, cfg, store); err != nil {
		log.Fatal().Err(err).Msg("Error indexing source")
	}
	if *export {
		cs, ok := store.(*chromemdb.VectorDBManager)
		if !ok {
			log.Fatal().Str("vector_store", cfg.VectorStore).Msg("Export is only available for the chroma store")
		}
		if err := cs.Export(ctx); err != nil {
			log.Fatal().Err(err).Msg("Error exporting collection")
		}
	}

	chat, closeHistory, err := newChat(cfg, store)
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating chat")
	}
	defer closeHistory()

	sessionID, err := resolveSession(*sessionFlag, cfg.ChatSessionID)
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating session id")
	}
	log.Info().Str("session", sessionID).Msg("Chat session started")

	if *useTUI {
		if _, err := tea.NewProgram(tui.New(ctx, chat, sessionID, *showSources), tea.WithAltScreen()).Run(); err != nil {
			log.Fatal().Err(err).Msg("Error running terminal UI")
		}
		return
	}
	if err := repl(ctx, chat, sessionID, os.Stdin, os.Stdout, *showSources); err != nil {
		log.Fatal().Err(err).Msg("Error answering question")
	}
}

func openStore(ctx context.Context, cfg *config.Config, embedder *embedding.Provider, reset bool) (vectorStore, func(), error) {
	switch cfg.VectorStore {
	case config.VectorStorePGVector:
		bunDB := db.NewDB(db.ConnectDB(cfg.PGVector.DSN), cfg.PGVector.Debug)
		closeFn := func() {
			if err := bunDB.Close(); err != nil {
				log.Warn().Err(err).Msg("Error closing database")
			}
		}
		store := db.NewStore(bunDB, embedder, embedder.Dimension())
		if reset {
			if err := store.Drop(ctx); err != nil {
				closeFn()
				return nil, nil, err
			}
		}
		if err := store.Init(ctx); err != nil {
			closeFn()
			return nil, nil, err
		}
		return store, closeFn, nil
	default:
		if err := helper.CreateFolder(cfg.ChromaDB.PersistDirectory); err != nil {
			return nil, nil, err
		}
		store, err := chromemdb.NewVectorDBManager(cfg.ChromaDB, embedder.EmbeddingFunc())
		if err != nil {
			return nil, nil, err
		}
		if reset {
			if err := store.DeleteCollection(); err != nil {
				return nil, nil, err
			}
		}
		return store, func() {}, nil
	}
}

func indexSource(ctx context.Context, cfg *config.Config, store vectorStore) error {
	locator, err := cfg.SourceLocator()
	if err != nil {
		return err
	}
	loader, err := ingest.NewLoader(locator, ingest.LoaderOptions{
		Selectors: cfg.RemoteContentSelectors,
		Timeout:   time.Duration(cfg.FetchTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return err
	}
	splitter, err := ingest.NewRecursiveSplitter(cfg.Split.ChunkSize, cfg.ChunkOverlap())
	if err != nil {
		return err
	}

	log.Info().Str("source", locator).Msg("Loading source")
	chunks, err := ingest.Ingest(ctx, loader, splitter)
	if err != nil {
		return err
	}
	added, err := store.IndexChunks(ctx, chunks)
	if err != nil {
		return err
	}
	log.Info().Int("chunks", len(chunks)).Int("added", added).Msg("Source indexed")
	return nil
}

func newChat(cfg *config.Config, store vectorStore) (*rag.Chat, func(), error) {
	backend := llmservice.BackendFromConfig(cfg)
	retriever := &rag.StoreRetriever{Store: store, TopK: cfg.Retriever.TopK}
	if cfg.TrackQueriesOnLangsmith {
		tracer := llmservice.NewTracingHandler(log.Logger, cfg.LangchainProjectName)
		backend.Callbacks = tracer
		retriever.Callbacks = tracer
	}
	model, err := llmservice.NewChatModel(backend)
	if err != nil {
		return nil, nil, err
	}

	var hist history.Store
	closeFn := func() {}
	switch cfg.HistoryStore.Type {
	case config.HistoryStoreBolt:
		bs, err := history.NewBoltStore(cfg.HistoryStore.Path)
		if err != nil {
			return nil, nil, err
		}
		hist = bs
		closeFn = func() {
			if err := bs.Close(); err != nil {
				log.Warn().Err(err).Msg("Error closing history store")
			}
		}
	default:
		hist = history.NewMemoryStore()
	}

	useHistory := cfg.HistoryEnabled()
	pipeline := rag.NewPipeline(rag.NewLLMContextualizer(model), retriever, rag.NewLLMAnswerer(model, useHistory))
	chat := rag.NewChat(pipeline, hist, rag.ChatOptions{
		Language:    cfg.Language,
		UseHistory:  useHistory,
		TurnTimeout: time.Duration(cfg.TurnTimeoutSeconds) * time.Second,
	})
	return chat, closeFn, nil
}

func resolveSession(flagValue, configured string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if configured != "" {
		return configured, nil
	}
	return helper.GenerateUUID()
}

// repl reads questions line by line until exit or end of input.
func repl(ctx context.Context, chat *rag.Chat, sessionID string, in io.Reader, out io.Writer, showSources bool) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "You: ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			fmt.Fprintln(out)
			return nil
		}
		question := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(question, models.ExitCommand) {
			return nil
		}
		if question == "" {
			continue
		}

		resp, err := chat.Ask(ctx, sessionID, question)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Bot: %s\n\n", resp.Content)
		if showSources {
			if resp.Rewritten {
				fmt.Fprintf(out, "Searched for: %s\n", resp.Query)
			}
			helper.PrettyPrint(out, resp.Sources)
		}
	}
}

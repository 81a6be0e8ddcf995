package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"ragchat/internal/ai"
	"ragchat/internal/app"
	"ragchat/internal/cache"
	"ragchat/internal/config"
	"ragchat/internal/engine"
	"ragchat/internal/index"
	"ragchat/internal/model"
	mysqlClient "ragchat/internal/platform/mysql"
	rabbitmqClient "ragchat/internal/platform/rabbitmq"
	redisClient "ragchat/internal/platform/redis"
	"ragchat/internal/repository"
	"ragchat/internal/worker"
)

type App struct {
	Config        *config.Config
	MySQL         *gorm.DB
	Redis         *redis.Client
	MQConn        *amqp.Connection
	Engine        *engine.Engine
	Conversations *app.ConversationService
	MessageWorker *worker.MessagePersistWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := mysqlDB.AutoMigrate(&model.User{}, &model.Document{}, &model.Conversation{}, &model.Message{}); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	messageRepo := repository.NewMessageRepository(mysqlDB)
	messageWorker := worker.NewMessagePersistWorker(mqConn, messageRepo, cfg.RabbitMQ.MessagePersistQueue)
	if err := messageWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start message worker failed: %w", err)
	}

	// a corrupt index is fatal at startup: refuse to serve rather than
	// answer from a truncated or misaligned row set
	idx, err := index.Load(cfg.Index.Dir, cfg.Embedding.Dimension)
	if err != nil {
		return nil, fmt.Errorf("restore vector index failed: %w", err)
	}

	publisher := rabbitmqClient.NewMessagePublisher(mqConn, cfg.RabbitMQ.MessagePersistQueue)
	historyCache := cache.NewHistoryCache(
		redisCli,
		time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)
	conversations := app.NewConversationService(
		repository.NewConversationRepository(mysqlDB),
		messageRepo,
		publisher,
		historyCache,
	)

	llmClient := ai.NewClient(
		ai.EmbeddingConfig{
			BaseURL:   cfg.Embedding.BaseURL,
			APIKey:    cfg.Embedding.APIKey,
			Model:     cfg.Embedding.Model,
			Dimension: cfg.Embedding.Dimension,
		},
		ai.ChatConfig{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
		},
	)

	ragEngine := engine.New(
		idx,
		llmClient,
		llmClient,
		repository.NewDocumentRepository(mysqlDB),
		conversations,
		engine.Options{
			IndexDir:            cfg.Index.Dir,
			ChunkSize:           cfg.Retrieval.ChunkSize,
			ChunkOverlap:        cfg.Retrieval.ChunkOverlap,
			DefaultTopK:         cfg.Retrieval.TopK,
			HistoryLoadLimit:    cfg.Retrieval.HistoryLoadLimit,
			HistoryContextLimit: cfg.Retrieval.HistoryContextLimit,
			Temperature:         cfg.LLM.Temperature,
			MaxTokens:           cfg.LLM.MaxTokens,
		},
	)

	return &App{
		Config:        cfg,
		MySQL:         mysqlDB,
		Redis:         redisCli,
		MQConn:        mqConn,
		Engine:        ragEngine,
		Conversations: conversations,
		MessageWorker: messageWorker,
		StartedAt:     time.Now(),
	}, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.Engine != nil {
		if err := a.Engine.SaveIndex(); err != nil {
			closeErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MessageWorker != nil {
		a.MessageWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}

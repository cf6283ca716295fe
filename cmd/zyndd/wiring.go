package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"ZyndAI-Connect/internal/config"
	"ZyndAI-Connect/internal/credentials"
	"ZyndAI-Connect/internal/n8n"
	"ZyndAI-Connect/internal/observability/alerting"
	"ZyndAI-Connect/internal/publisher"
	"ZyndAI-Connect/internal/registry"
	"ZyndAI-Connect/internal/storage/mysql"
	zredis "ZyndAI-Connect/internal/storage/redis"
	"ZyndAI-Connect/internal/task"
	"ZyndAI-Connect/internal/web3"
	"ZyndAI-Connect/internal/web3/provider"
	"ZyndAI-Connect/internal/x402"
)

// resources 记录需要在退出时释放的资源。
type resources struct {
	closers []func() error
}

func (r *resources) add(fn func() error) {
	r.closers = append(r.closers, fn)
}

func (r *resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		_ = r.closers[i]()
	}
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	return mysql.Open(ctx, mysql.Config{
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
	})
}

func buildCredentials(cfg *config.Config) (credentials.ZyndAIAPI, error) {
	cred := credentials.ZyndAIAPI{
		APIURL:    cfg.Credentials.APIURL,
		APIKey:    cfg.Credentials.APIKey,
		N8NAPIKey: cfg.Credentials.N8NAPIKey,
	}.Normalize()
	return cred, cred.Validate()
}

func buildPublications(ctx context.Context, cfg *config.Config, res *resources) (mysql.PublicationRepository, error) {
	switch cfg.Storage.Publications.Driver {
	case "", "memory":
		if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
			return nil, err
		}
		return mysql.NewMemoryPublicationRepository(cfg.Runtime.DataDir)
	case "mysql":
		db, err := openDatabase(ctx, cfg.Storage.Publications)
		if err != nil {
			return nil, err
		}
		repo := mysql.NewSQLPublicationRepository(db)
		res.add(repo.Close)
		return repo, nil
	default:
		return nil, fmt.Errorf("未知的发布记录存储驱动: %s", cfg.Storage.Publications.Driver)
	}
}

func buildPublisher(cfg *config.Config, cred credentials.ZyndAIAPI, publications mysql.PublicationRepository) *publisher.Publisher {
	workflows := n8n.NewClient(cfg.N8N.BaseURL, cred.N8NAPIKey, nil)
	reg := registry.FromCredentials(cred, nil)
	return publisher.New(workflows, reg, publisher.WithPublicationRepository(publications))
}

// buildJobService 组装任务存储与队列，关闭 Service 时一并释放。
func buildJobService(ctx context.Context, cfg *config.Config) (*task.Service, task.Store, task.Queue, error) {
	store, err := buildJobStore(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	queue, err := buildQueue(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, err
	}
	return task.NewService(store, queue, cfg.TaskQueue.MaxRetries), store, queue, nil
}

func buildJobStore(ctx context.Context, cfg *config.Config) (task.Store, error) {
	lease := task.WithLeaseTimeout(leaseTimeout(cfg))
	switch cfg.Storage.JobStore.Driver {
	case "", "memory":
		return task.NewMemoryStore(lease), nil
	case "mysql":
		db, err := openDatabase(ctx, cfg.Storage.JobStore)
		if err != nil {
			return nil, err
		}
		store, err := task.NewMySQLStore(db, lease)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("未知的任务存储驱动: %s", cfg.Storage.JobStore.Driver)
	}
}

func leaseTimeout(cfg *config.Config) time.Duration {
	return time.Duration(cfg.TaskQueue.LeaseTimeoutSeconds) * time.Second
}

func buildQueue(ctx context.Context, cfg *config.Config) (task.Queue, error) {
	switch cfg.TaskQueue.Driver {
	case "", "memory":
		return task.NewMemoryQueue(1024), nil
	case "redis":
		q, err := task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:   cfg.TaskQueue.Redis.Address,
			Password:  cfg.TaskQueue.Redis.Password,
			DB:        cfg.TaskQueue.Redis.DB,
			Queue:     cfg.TaskQueue.Redis.Queue,
			BlockWait: time.Duration(cfg.TaskQueue.Redis.BlockWait) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return q, nil
	case "rabbitmq":
		q, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.TaskQueue.RabbitMQ.URL,
			Queue:      cfg.TaskQueue.RabbitMQ.Queue,
			Prefetch:   cfg.TaskQueue.RabbitMQ.Prefetch,
			Durable:    cfg.TaskQueue.RabbitMQ.Durable,
			AutoDelete: cfg.TaskQueue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.TaskQueue.Driver)
	}
}

func buildAlerts(cfg *config.Config) alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if webhook := alerting.NewWebhookNotifier(cfg.Alerting.WebhookURL, nil); webhook != nil {
		notifiers = append(notifiers, webhook)
	}
	return alerting.NewFanout(notifiers...)
}

func buildSettler(ctx context.Context, cfg *config.Config, networks *web3.Networks, res *resources) (x402.Settler, error) {
	facilitator := x402.NewFacilitator(x402.FacilitatorConfig{
		URL:      cfg.Facilitator.URL,
		ClientID: cfg.Facilitator.ClientID,
		Timeout:  time.Duration(cfg.Facilitator.TimeoutSeconds) * time.Second,
		Networks: networks,
	})
	idem := cfg.Facilitator.Idempotency
	if !idem.Enabled {
		return facilitator, nil
	}

	var store x402.IdempotencyStore
	switch strings.ToLower(idem.Driver) {
	case "", "memory":
		store = x402.NewMemoryIdempotencyStore()
	case "redis":
		client, err := zredis.Connect(ctx, zredis.Config{
			Address:  idem.Redis.Address,
			Password: idem.Redis.Password,
			DB:       idem.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		res.add(client.Close)
		store = x402.NewRedisIdempotencyStore(client, idem.Redis.Prefix)
	default:
		return nil, fmt.Errorf("未知的结算缓存驱动: %s", idem.Driver)
	}
	return x402.NewIdempotentSettler(facilitator, store, time.Duration(idem.TTLSeconds)*time.Second), nil
}

func buildTrigger(ctx context.Context, cfg *config.Config, res *resources) (*x402.Trigger, error) {
	networks := web3.DefaultNetworks()
	if cfg.Web3.NetworksFile != "" {
		loaded, err := web3.LoadNetworks(cfg.Web3.NetworksFile)
		if err != nil {
			return nil, err
		}
		networks = loaded
	}

	opts := x402.OptionsFromConfig(cfg.Webhook)
	if opts.RequirePayment {
		if err := web3.ValidateAddress(opts.ServerWalletAddress); err != nil {
			return nil, err
		}
	}

	settler, err := buildSettler(ctx, cfg, networks, res)
	if err != nil {
		return nil, err
	}

	emitters := x402.Emitters{x402.NewAuditEmitter()}
	if forward := x402.NewHTTPEmitter(cfg.Webhook.ForwardURL, &http.Client{Timeout: 10 * time.Second}); forward != nil {
		emitters = append(emitters, forward)
	}
	triggerOpts := []x402.TriggerOption{x402.WithNetworks(networks), x402.WithEmitter(emitters)}

	if cfg.Web3.VerifyOnchain {
		chains, err := provider.NewRegistry(ctx, networks)
		if err != nil {
			return nil, err
		}
		res.add(func() error {
			chains.Close()
			return nil
		})
		triggerOpts = append(triggerOpts, x402.WithConfirmer(x402.NewConfirmer(chains)))
	}
	return x402.NewTrigger(opts, settler, triggerOpts...), nil
}

// Command seed bootstraps the broker topics and the vector collection the
// worker expects. It is idempotent and safe to run on every deploy.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/adapter/queue/kafka"
	qdrantcli "github.com/OmniNode-ai/omniintelligence-sub016/internal/adapter/vector/qdrant"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/config"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/observability"
)

func main() {
	partitions := flag.Int("partitions", 6, "partition count for created topics")
	replication := flag.Int("replication", 1, "replication factor for created topics")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.SetDefault(observability.SetupLogger(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	topics := kafka.NewTopics(cfg.KafkaTopicPrefix, cfg.ServiceName)
	client, err := kgo.NewClient(kgo.SeedBrokers(cfg.KafkaBrokers...))
	if err != nil {
		slog.Error("broker connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer client.Close()

	if err := kafka.EnsureTopics(ctx, client, topics.All(), int32(*partitions), int16(*replication)); err != nil {
		slog.Error("topic bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("topics ensured", slog.Any("topics", topics.All()))

	if cfg.VectorStoreURL != "" {
		store := qdrantcli.New(cfg.VectorStoreURL, cfg.VectorStoreAPIKey, cfg.VectorCollection, cfg.StoreTimeout())
		if err := store.EnsureCollection(ctx, cfg.VectorSize); err != nil {
			slog.Error("vector collection bootstrap failed", slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("vector collection ensured",
			slog.String("collection", cfg.VectorCollection),
			slog.Int("size", cfg.VectorSize))
	}
}

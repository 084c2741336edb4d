package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/chucky-1/venue/internal/config"
	"github.com/chucky-1/venue/internal/feed"
	"github.com/chucky-1/venue/internal/hub"
	"github.com/chucky-1/venue/internal/model"
	"github.com/chucky-1/venue/internal/repository"
	"github.com/chucky-1/venue/internal/server"
	"github.com/chucky-1/venue/internal/service"
	"github.com/chucky-1/venue/internal/simulator"
	"github.com/go-redis/cache/v8"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
)

func main() {
	// Configuration
	cfg := new(config.Config)
	if err := env.Parse(cfg); err != nil {
		log.Fatalf("%v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Postgres
	url := fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		cfg.UsernamePostgres, cfg.PasswordPostgres, cfg.HostPostgres, cfg.PortPostgres, cfg.DBNamePostgres)
	pool, err := pgxpool.Connect(ctx, url)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()
	rep := repository.NewRepository(pool)

	// Redis cache with the latest tick of every symbol
	hostAndPort := fmt.Sprint(cfg.HostRedisCache, ":", cfg.PortRedisCache)
	ring := redis.NewRing(&redis.RingOptions{Addrs: map[string]string{cfg.ServerRedisCache: hostAndPort}})
	c := cache.New(&cache.Options{Redis: ring})
	cch := repository.NewCache(c)

	// Simulator and hub
	chTick := make(chan *model.Tick)
	sim := simulator.NewSimulator(ctx, chTick, cch, rep, cfg.TickInterval,
		rand.New(rand.NewSource(time.Now().UnixNano())))
	h := hub.NewHub(sim)
	go h.Run(ctx, chTick)

	// Kafka feed with executed trades
	var pub service.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		writer := &kafka.Writer{
			Addr:     kafka.TCP(cfg.KafkaBrokers...),
			Topic:    cfg.KafkaTopic,
			Balancer: &kafka.LeastBytes{},
		}
		defer func(writer *kafka.Writer) {
			err = writer.Close()
			if err != nil {
				log.Error(err)
			}
		}(writer)
		pub = feed.NewPublisher(writer)
	}

	executor := service.NewExecutor(rep, sim, pub)
	valuator := service.NewValuator(rep, sim)

	// Http
	srv := server.NewServer(executor, valuator, rep, h, sim)
	hostAndPort = fmt.Sprint(cfg.HostHTTP, ":", cfg.PortHTTP)
	if err = srv.Router().Run(hostAndPort); err != nil {
		log.Fatalf("%v", err)
	}
}

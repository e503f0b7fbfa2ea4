package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/game-alerts/internal/config"
	"github.com/game-alerts/internal/domain"
	"github.com/game-alerts/internal/kafka"
	"github.com/game-alerts/internal/service"
)

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "game-subscriptions", "Kafka command topic")
	action := flag.String("action", "subscribe", "Command: subscribe, unsubscribe or unsubscribe_all")
	endpoint := flag.String("endpoint", "", "Push endpoint URL")
	p256dh := flag.String("p256dh", "", "Push p256dh key")
	auth := flag.String("auth", "", "Push auth secret")
	gameID := flag.String("game", "", "Game ID")
	league := flag.String("league", "nhl", "League tag")
	home := flag.String("home", "", "Home team abbreviation")
	away := flag.String("away", "", "Away team abbreviation")
	subscriptionID := flag.String("subscription", "", "Subscription ID (defaults to the one derived from -endpoint)")
	fanout := flag.Int("fanout", 1, "Number of synthetic endpoints to subscribe (load testing)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg := config.DefaultConfig().Kafka
	cfg.Brokers = strings.Split(*brokers, ",")
	cfg.CommandTopic = *topic

	producer, err := kafka.NewProducer(&cfg, logger)
	if err != nil {
		logger.Error("failed to create producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	commands, err := buildCommands(domain.CommandAction(*action), *endpoint, *p256dh, *auth, *gameID, *league, *home, *away, *subscriptionID, *fanout)
	if err != nil {
		logger.Error("invalid command", "error", err)
		os.Exit(2)
	}

	sent := 0
	for _, cmd := range commands {
		if err := producer.PublishCommand(ctx, cmd); err != nil {
			logger.Error("failed to publish command", "error", err, "sent", sent)
			os.Exit(1)
		}
		sent++
	}
	logger.Info("commands published", "action", *action, "topic", *topic, "count", sent)
}

func buildCommands(action domain.CommandAction, endpoint, p256dh, auth, gameID, league, home, away, subscriptionID string, fanout int) ([]domain.SubscriptionCommand, error) {
	if subscriptionID == "" && endpoint != "" {
		subscriptionID = service.SubscriptionID(endpoint)
	}

	switch action {
	case domain.ActionSubscribe:
		if endpoint == "" || gameID == "" {
			return nil, fmt.Errorf("subscribe needs -endpoint and -game")
		}
		if fanout < 1 {
			fanout = 1
		}
		commands := make([]domain.SubscriptionCommand, 0, fanout)
		for i := 0; i < fanout; i++ {
			target := endpoint
			if fanout > 1 {
				target = fmt.Sprintf("%s-%d", endpoint, i)
			}
			commands = append(commands, domain.SubscriptionCommand{
				Action: domain.ActionSubscribe,
				Subscribe: &domain.SubscribeRequest{
					Push:     domain.PushEndpoint{Endpoint: target, Keys: domain.PushKeys{P256dh: p256dh, Auth: auth}},
					GameID:   gameID,
					League:   domain.League(league),
					HomeTeam: home,
					AwayTeam: away,
				},
			})
		}
		return commands, nil

	case domain.ActionUnsubscribe:
		if subscriptionID == "" || gameID == "" {
			return nil, fmt.Errorf("unsubscribe needs -subscription (or -endpoint) and -game")
		}
		return []domain.SubscriptionCommand{{Action: action, SubscriptionID: subscriptionID, GameID: gameID}}, nil

	case domain.ActionUnsubscribeAll:
		if subscriptionID == "" {
			return nil, fmt.Errorf("unsubscribe_all needs -subscription (or -endpoint)")
		}
		return []domain.SubscriptionCommand{{Action: action, SubscriptionID: subscriptionID}}, nil

	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
}

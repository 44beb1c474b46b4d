package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bwmarrin/discordgo"

	"github.com/leoscribe/internal/bot"
	"github.com/leoscribe/internal/config"
	"github.com/leoscribe/internal/correct"
	"github.com/leoscribe/internal/logging"
	"github.com/leoscribe/internal/pipeline"
	"github.com/leoscribe/internal/store"
	"github.com/leoscribe/internal/stt"
)

func main() {
	sugar := logging.Init()
	if sugar == nil {
		l, _ := zap.NewProduction()
		defer l.Sync()
		sugar = l.Sugar()
	}
	defer logging.Sync()

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		sugar.Fatalf("config: %v", err)
	}
	sugar.Infow("configuration loaded", "path", *configPath, "environment", cfg.Environment)

	token := cfg.Token()
	if token == "" {
		sugar.Fatalf("%s required", cfg.Discord.TokenEnv)
	}
	ds, err := discordgo.New("Bot " + token)
	if err != nil {
		sugar.Fatalf("discordgo.New: %v", err)
	}
	// Guilds + GuildVoiceStates cover voice join/leave tracking and the
	// speaking updates that map SSRCs to users.
	if ds.Identify.Intents == 0 {
		ds.Identify = discordgo.Identify{Intents: discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates}
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		sugar.Fatalf("store: %v", err)
	}

	rules, err := correct.LoadRules(cfg.Correct.RulesPath)
	if err != nil {
		sugar.Fatalf("rules: %v", err)
	}
	engines, err := stt.NewEngines(cfg.STT)
	if err != nil {
		sugar.Fatalf("stt: %v", err)
	}

	pipe := pipeline.New(
		stt.NewCascade(engines...),
		correct.NewCorrector(rules, cfg.Correct.SimilarityThreshold),
		correct.NewCache(cfg.Correct.CacheCapacity),
		correct.NewLLMClient(cfg.Correct.LLM, rules.Glossary),
		cfg.Correct.ConfidenceThreshold,
	)

	sugar.Infow("opening discord session", "intents", ds.Identify.Intents)
	if err := ds.Open(); err != nil {
		sugar.Fatalf("discord session open failed: %v", err)
	}
	defer ds.Close()

	b := bot.New(ds, cfg, st, pipe)
	if err := b.RegisterCommands(); err != nil {
		sugar.Fatalf("slash commands: %v", err)
	}
	sugar.Infow("bot ready", "user.id", ds.State.User.ID, "engines", len(engines))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	sugar.Infow("shutting down", "signal", s.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := b.Close(ctx); err != nil {
		sugar.Warnw("shutdown drain incomplete", "err", err)
	}
	sugar.Infow("shutdown complete", "stats", b.Stats())
}

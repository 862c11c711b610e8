package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"github.com/theorogram/server/internal/auth"
	"github.com/theorogram/server/internal/reputation"
)

func main() {
	if err := run(os.Args); err != nil {
		logrus.WithError(err).Error("exiting")
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:    "theorogram",
		Usage:   "theory discussion server with automated moderation and reputation",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity (debug, info, warn, error)",
			Value:   "info",
			EnvVars: []string{"LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "postgres connection string; empty keeps everything in memory",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			Value:   20,
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis URL for the shared cache and rescan lock; empty uses process-local ones",
			EnvVars: []string{"REDIS_URL"},
		},
		&cli.IntFlag{
			Name:    "cache-size",
			Usage:   "entries held by the in-memory cache",
			Value:   10000,
			EnvVars: []string{"CACHE_SIZE"},
		},
		&cli.StringFlag{
			Name:    "llm-provider",
			Usage:   "content classifier backend (gemini, anthropic)",
			Value:   "gemini",
			EnvVars: []string{"LLM_PROVIDER"},
		},
		&cli.StringFlag{
			Name:    "llm-model",
			EnvVars: []string{"LLM_MODEL"},
		},
		&cli.StringFlag{
			Name:    "llm-api-key",
			EnvVars: []string{"LLM_API_KEY", "GEMINI_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "llm-api-url",
			Usage:   "override the provider base URL",
			EnvVars: []string{"LLM_API_URL"},
		},
		&cli.DurationFlag{
			Name:    "classify-timeout",
			Value:   20 * time.Second,
			EnvVars: []string{"CLASSIFY_TIMEOUT"},
		},
		&cli.BoolFlag{
			Name:    "moderation-fail-closed",
			Usage:   "refuse submissions while the classifier is unavailable",
			EnvVars: []string{"MODERATION_FAIL_CLOSED"},
		},
		&cli.BoolFlag{
			Name:    "reward-shadowbanned",
			Usage:   "award creation reputation for theories flagged for review",
			Value:   true,
			EnvVars: []string{"REWARD_SHADOWBANNED"},
		},
		&cli.IntFlag{
			Name:    "rescan-batch-size",
			Value:   100,
			EnvVars: []string{"RESCAN_BATCH_SIZE"},
		},
		&cli.DurationFlag{
			Name:    "rescan-delay",
			Usage:   "pause between theories within one rescan pass",
			Value:   500 * time.Millisecond,
			EnvVars: []string{"RESCAN_DELAY"},
		},
		&cli.StringFlag{
			Name:    "jwt-secret",
			Usage:   "HS256 secret shared with the identity provider",
			EnvVars: []string{"JWT_SECRET"},
		},
		&cli.StringFlag{
			Name:    "jwt-issuer",
			EnvVars: []string{"JWT_ISSUER"},
		},
	}

	app.Commands = []*cli.Command{
		serveCmd,
		rescanCmd,
		levelCmd,
		tokenCmd,
	}

	return app.Run(args)
}

var levelCmd = &cli.Command{
	Name:      "level",
	Usage:     "print the level a reputation score maps to",
	ArgsUsage: "<score>",
	Action: func(cctx *cli.Context) error {
		score, err := strconv.Atoi(cctx.Args().First())
		if err != nil {
			return fmt.Errorf("score must be an integer: %w", err)
		}
		out := struct {
			reputation.LevelInfo
			Formatted string `json:"formatted"`
		}{reputation.GetLevelInfo(score), reputation.FormatReputation(score)}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

var tokenCmd = &cli.Command{
	Name:      "token",
	Usage:     "sign a bearer token for an external user id (development only)",
	ArgsUsage: "<external-uid>",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "ttl",
			Value: 24 * time.Hour,
		},
	},
	Action: func(cctx *cli.Context) error {
		uid := cctx.Args().First()
		if uid == "" {
			return fmt.Errorf("external uid is required")
		}
		v := auth.NewVerifier(authConfig(cctx))
		token, err := v.Issue(uid)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func authConfig(cctx *cli.Context) auth.Config {
	cfg := auth.DefaultConfig()
	if s := cctx.String("jwt-secret"); s != "" {
		cfg.SecretKey = s
	}
	cfg.Issuer = cctx.String("jwt-issuer")
	if ttl := cctx.Duration("ttl"); ttl > 0 {
		cfg.TokenDuration = ttl
	}
	return cfg
}

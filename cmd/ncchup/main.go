package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/lgulliver/ncchup/internal/container"
	"github.com/lgulliver/ncchup/internal/transport"
	"github.com/lgulliver/ncchup/internal/upload"
	"github.com/lgulliver/ncchup/pkg/config"
	"github.com/lgulliver/ncchup/pkg/utils"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	cfg := config.LoadFromEnv()
	cfg.Logging.SetupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var progress io.Writer
	if term.IsTerminal(int(os.Stderr.Fd())) {
		progress = os.Stderr
	}

	code := run(ctx, cfg, os.Args[1:], os.Stdout, progress)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, args []string, stdout, progress io.Writer) int {
	if len(args) != 1 || args[0] == "" || args[0][0] == '-' {
		fmt.Fprintf(os.Stderr, "usage: ncchup <image>\n")
		return exitUsage
	}
	path := args[0]

	if err := cfg.Client.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return exitUsage
	}

	src, err := container.OpenFile(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to open image")
		return exitError
	}
	defer src.Close()

	opts := []upload.Option{
		upload.WithMaxAppends(cfg.Client.MaxAppends),
		upload.WithLogger(log.Logger.With().Str("image", path).Logger()),
	}
	if progress != nil {
		opts = append(opts, upload.WithExchangeHook(func(ex upload.Exchange) {
			fmt.Fprintf(progress, "\r%s", utils.FormatProgress(path, ex.BytesSent, src.Size(), string(ex.Status)))
		}))
	}
	client := upload.NewClient(transport.NewHTTP(cfg.Client.ServerURL, cfg.Client.RequestTimeout), opts...)

	if cfg.Client.AllPartitions {
		return uploadAll(ctx, client, src, path, stdout, progress)
	}

	layout, err := container.Detect(src)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to detect image layout")
		return exitError
	}
	log.Info().
		Str("path", path).
		Str("format", layout.Format.String()).
		Int64("base_offset", layout.BaseOffset).
		Msg("uploading image")

	res, err := client.Upload(ctx, src, layout)
	endProgress(progress)
	if err != nil {
		return exitError
	}

	fmt.Fprintf(stdout, "%s: %s %s\n", path, res.Status, res.NcchID)
	return exitOK
}

func uploadAll(ctx context.Context, client *upload.Client, src container.Source, path string, stdout, progress io.Writer) int {
	parts, err := container.Partitions(src)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to read partition table")
		return exitError
	}

	results, err := client.UploadPartitions(ctx, src, parts)
	endProgress(progress)

	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(stdout, "%s [%s]: failed: %v\n", path, r.Partition.Name, r.Err)
			continue
		}
		fmt.Fprintf(stdout, "%s [%s]: %s %s\n", path, r.Partition.Name, r.Result.Status, r.Result.NcchID)
	}

	if err != nil {
		return exitError
	}
	return exitOK
}

func endProgress(progress io.Writer) {
	if progress != nil {
		fmt.Fprintln(progress)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ScoreBoard/internal/client"
	"ScoreBoard/internal/config"
	sbnet "ScoreBoard/internal/net"
	"ScoreBoard/internal/state"
)

const discoverTimeout = 3 * time.Second

type joinOptions struct {
	server     string
	item       string
	name       string
	id         string
	discover   bool
	snapshot   string
	background string
	duration   time.Duration
	width      int
	height     int
}

func newJoinCmd() *cobra.Command {
	var opts joinOptions

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join an item's room as a headless participant",
		Long:  "join connects to a sync server, follows everyone's strokes and commands\nfor an item and can write the composite as a PNG when it leaves.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(true)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if opts.duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.duration)
				defer cancel()
			}

			target := opts.server
			if opts.discover {
				target, err = sbnet.Discover(ctx, discoverTimeout)
				if err != nil {
					return fmt.Errorf("discover server: %w", err)
				}
				log.Info().Str("server", target).Msg("discovered sync server")
			}
			if target == "" {
				return errors.New("either --server or --discover is required")
			}
			url, err := sbnet.JoinURL(target, opts.item)
			if err != nil {
				return err
			}

			c := client.New(clientConfig(cfg, opts, url), nil, log)
			if opts.background != "" {
				img, err := loadImage(opts.background)
				if err != nil {
					return err
				}
				c.SetBackground(img)
			}

			out := cmd.OutOrStdout()
			c.OnCommand = func(command state.Command) {
				fmt.Fprintf(out, "[%s] %s\n", command.SenderDisplayName, command.Message)
			}
			c.OnStatus = func(st client.Status) {
				fmt.Fprintf(out, "status: %s\n", st.Message)
			}

			err = c.Run(ctx)
			if opts.snapshot != "" {
				c.Tick()
				if werr := writePNG(opts.snapshot, c.Snapshot()); werr != nil {
					return werr
				}
				fmt.Fprintf(out, "snapshot written to %s\n", opts.snapshot)
			}
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.server, "server", "s", "", "share link or host:port of the sync server")
	f.StringVarP(&opts.item, "item", "i", "", "item to annotate")
	f.StringVarP(&opts.name, "name", "n", "", "display name")
	f.StringVar(&opts.id, "id", "", "participant id (random when empty)")
	f.BoolVar(&opts.discover, "discover", false, "find the server over mDNS")
	f.StringVar(&opts.snapshot, "snapshot", "", "write the composite to this PNG on exit")
	f.StringVar(&opts.background, "background", "", "PNG or JPEG drawn under the annotations")
	f.DurationVar(&opts.duration, "duration", 0, "leave after this long (0 waits for a signal)")
	f.IntVar(&opts.width, "width", 1240, "surface width in pixels")
	f.IntVar(&opts.height, "height", 1754, "surface height in pixels")
	_ = cmd.MarkFlagRequired("item")

	return cmd
}

func clientConfig(cfg *config.Config, opts joinOptions, url string) client.Config {
	return client.Config{
		URL:           url,
		ItemID:        opts.item,
		Participant:   state.Participant{ID: opts.id, DisplayName: opts.name},
		Width:         opts.width,
		Height:        opts.height,
		FrameInterval: cfg.FrameInterval,
		SweepInterval: cfg.SweepInterval,
		CursorTTL:     cfg.CursorTTL,
		StrokeTTL:     cfg.StrokeTTL,
		IdleTTL:       cfg.SurfaceIdleTTL,
		MemoryBudget:  cfg.MemoryBudget(),
		Reconnect: sbnet.ReconnectConfig{
			MaxAttempts: cfg.ReconnectAttempts,
			BaseDelay:   cfg.ReconnectBase,
			MaxDelay:    cfg.ReconnectMax,
		},
	}
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open background: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode background %s: %w", path, err)
	}
	return img, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return f.Close()
}

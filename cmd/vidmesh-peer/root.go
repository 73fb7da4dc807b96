package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vidmesh/vidmesh/internal/peerlink"
	"github.com/vidmesh/vidmesh/internal/roomclient"
)

var rootCmd = &cobra.Command{
	Use:   "vidmesh-peer",
	Short: "Headless vidmesh room peer",
	Long: `vidmesh-peer joins a vidmesh room as a headless participant: it connects
to the relay, negotiates a WebRTC link with every other member and bridges
room chat to stdin/stdout. Useful for soak testing a relay and for keeping a
room warm without a browser.`,
	RunE: run,
}

func init() {
	rootCmd.Flags().String("server", "ws://127.0.0.1:8080/ws", "relay websocket URL")
	rootCmd.Flags().String("room", "", "room to join (required)")
	rootCmd.Flags().StringSlice("stun", []string{"stun:stun.l.google.com:19302"}, "STUN server URLs")
	rootCmd.Flags().String("log-level", "info", "debug, info, warn or error")

	viper.SetEnvPrefix("VIDMESH_PEER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlags(rootCmd.Flags())
}

// Execute runs the command. Called once from main.
func Execute() {
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	roomID := viper.GetString("room")
	if roomID == "" {
		return errors.New("--room is required")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	var iceServers []webrtc.ICEServer
	for _, u := range viper.GetStringSlice("stun") {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{u}})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := roomclient.Dial(ctx, viper.GetString("server"), logger)
	if err != nil {
		return err
	}
	defer client.Close()

	ctrl := roomclient.NewController(roomclient.Config{
		Client:     client,
		API:        peerlink.NewAPI(logger),
		ICEServers: iceServers,
		Logger:     logger,
		Media:      roomclient.NopMedia{},
		OnChat: func(sender, text string, sentAt time.Time) {
			fmt.Printf("[%s] %s: %s\n", sentAt.Format(time.TimeOnly), sender, text)
		},
		OnPeerState: func(remoteID string, state peerlink.State) {
			logger.Info("peer", "remote_id", remoteID, "state", state.String())
		},
	})

	if err := ctrl.Join(roomID); err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	logger.Info("joined room", "room_id", roomID)

	// Lines typed on stdin become room chat.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if err := ctrl.SendChat(line); err != nil {
				return
			}
		}
	}()

	err = ctrl.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dkeye/VoiceMesh/internal/config"
)

var v *viper.Viper

var rootCmd = &cobra.Command{
	Use:   "peer",
	Short: "Headless full-mesh room participant",
	Long: `peer joins a room through the signaling relay (or redis), negotiates a
direct WebRTC connection with every other participant and reports the
state of the mesh until interrupted.`,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
	},
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	v = config.New()
	rootCmd.PersistentFlags().Bool("debug", false, "verbose logging")
	rootCmd.PersistentFlags().String("url", "", "relay websocket url")
	_ = v.BindPFlag("signaling.url", rootCmd.PersistentFlags().Lookup("url"))
	rootCmd.AddCommand(newJoinCmd(), newRoomsCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd.SilenceUsage = true
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("peer failed")
		os.Exit(1)
	}
}

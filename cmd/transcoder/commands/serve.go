// ABOUTME: serve command
// ABOUTME: Runs the ingest server with metrics, mDNS and an optional dashboard
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/ingest"
	"github.com/Resonate-Protocol/resonate-transcoder/internal/log"
	"github.com/Resonate-Protocol/resonate-transcoder/internal/metrics"
	"github.com/Resonate-Protocol/resonate-transcoder/internal/storage"
	"github.com/Resonate-Protocol/resonate-transcoder/internal/ui"
)

var (
	servePort    int
	serveName    string
	serveRTPPort int
	serveNoMDNS  bool
	serveStore   string
	serveCodec   string
	serveVAD     bool
	serveFormat  *formatFlags
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept remote capture streams over WebSocket and RTP",
	Long: `Start the ingest server. Clients connect to ws://host:port/ingest and
push PCM or Opus frames; RTP senders push Opus packets to --rtp-port.
Each stream becomes a capture session encoded to --codec and stored
under --store, a directory or s3://bucket/prefix. Prometheus metrics
are served on /metrics and the server is advertised over mDNS.

Examples:
  transcoder serve
  transcoder serve --rtp-port 5004 --store s3://recordings/ingest --codec flac --tui`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := getConfig()
		if err := serveFormat.apply(cmd, cfg); err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("port") {
			cfg.Ingest.Port = servePort
		}
		if flags.Changed("name") {
			cfg.Ingest.Name = serveName
		}
		if flags.Changed("rtp-port") {
			cfg.Ingest.RTPPort = serveRTPPort
		}
		if flags.Changed("no-mdns") {
			cfg.Ingest.MDNS = !serveNoMDNS
		}
		if flags.Changed("store") {
			cfg.Ingest.Store = serveStore
		}
		if flags.Changed("codec") {
			cfg.Ingest.Codec = serveCodec
		}
		if flags.Changed("vad") {
			cfg.VAD.Enabled = serveVAD
		}
		if err := cfg.Ingest.Validate(); err != nil {
			return fmt.Errorf("invalid ingest flags: %w", err)
		}
		ctx := cmd.Context()

		store, err := storage.Open(cfg.Ingest.Store, s3Options(cfg))
		if err != nil {
			return fmt.Errorf("failed to open store %s: %w", cfg.Ingest.Store, err)
		}

		m := metrics.New()
		engine := newEngine(cfg, m)
		defer engine.Close()

		id, err := engine.Registry().ParseID(cfg.Ingest.Codec)
		if err != nil {
			return err
		}

		policy := cfg.Policy()
		srv := ingest.New(ingest.Config{
			Port:      cfg.Ingest.Port,
			Name:      cfg.Ingest.Name,
			MDNS:      cfg.Ingest.MDNS,
			RTP:       ingest.RTPConfig{Port: cfg.Ingest.RTPPort},
			Codec:     id,
			Encode:    cfg.EncodeOptions(),
			Target:    cfg.Target(),
			VAD:       cfg.CaptureVAD(),
			VADWindow: cfg.VAD.Window(),
			Capacity:  cfg.Buffer.Capacity,
			Policy:    &policy,
			Recorder:  m,
		}, engine, store)
		srv.Handle("/metrics", m.Handler())

		errChan := make(chan error, 1)
		go func() {
			errChan <- srv.Start()
		}()
		log.Infof("Storing recordings in %s as %s; metrics on :%d/metrics", cfg.Ingest.Store, id, cfg.Ingest.Port)

		var quit <-chan struct{}
		var dash *ui.DashboardTUI
		if useTUI {
			dash = ui.NewDashboardTUI(srv.Snapshot)
			quit = dash.QuitChan()
			go func() {
				if err := dash.Run(); err != nil {
					log.Errorf("dashboard error: %v", err)
				}
			}()
		} else {
			log.Infof("Press Ctrl-C to stop")
		}

		select {
		case <-ctx.Done():
			log.Infof("Received signal, shutting down gracefully...")
		case <-quit:
		case err := <-errChan:
			if dash != nil {
				dash.Stop()
			}
			return err
		}

		srv.Stop()
		if dash != nil {
			dash.Stop()
		}
		return <-errChan
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8928, "WebSocket and metrics port")
	serveCmd.Flags().StringVar(&serveName, "name", "", "server name advertised over mDNS")
	serveCmd.Flags().IntVar(&serveRTPPort, "rtp-port", 0, "UDP port for RTP Opus senders (0 disables RTP)")
	serveCmd.Flags().BoolVar(&serveNoMDNS, "no-mdns", false, "disable mDNS advertisement")
	serveCmd.Flags().StringVar(&serveStore, "store", "", "directory or s3://bucket/prefix for recordings")
	serveCmd.Flags().StringVar(&serveCodec, "codec", "", "container for stored recordings")
	serveCmd.Flags().BoolVar(&serveVAD, "vad", false, "gate sessions on voice activity by default")
	serveFormat = addFormatFlags(serveCmd)
}

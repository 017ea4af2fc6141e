// Command tunnelserver runs the show driver: it advances a mixer on a
// fixed tick, publishes per-channel snapshots over the pub/sub transport,
// and answers time-sync probes, following the teacher's cmd/radar/radar.go
// CLI shape (package-level flags, signal.NotifyContext shutdown).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tunnelcast/tunnelcast/internal/config"
	"github.com/tunnelcast/tunnelcast/internal/mixer"
	"github.com/tunnelcast/tunnelcast/internal/pubsub"
	"github.com/tunnelcast/tunnelcast/internal/reqrep"
	"github.com/tunnelcast/tunnelcast/internal/show"
	"github.com/tunnelcast/tunnelcast/internal/timesync"
	"github.com/tunnelcast/tunnelcast/internal/timeutil"
	"github.com/tunnelcast/tunnelcast/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to JSON show configuration file (defaults if unset)")
	numLayers   = flag.Int("num-layers", 0, "Override the configured number of mixer layers (0 = use config)")
	renderPort  = flag.Int("render-port", 0, "Override the configured pub/sub render port (0 = use config)")
	syncPort    = flag.Int("timesync-port", 0, "Override the configured time-sync port (0 = use config)")
	adminPort   = flag.Int("admin-port", 0, "Override the configured admin HTTP port (0 = use config)")
	versionFlag = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if *versionFlag {
		fmt.Printf("tunnelserver %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	cfg := config.DefaultShowConfig()
	if *configFile != "" {
		loaded, err := config.LoadShowConfig(*configFile)
		if err != nil {
			log.Fatalf("loading show config: %v", err)
		}
		cfg = loaded
	}
	applyOverrides(&cfg)

	if err := run(cfg); err != nil {
		log.Fatalf("tunnelserver: %v", err)
	}
}

func applyOverrides(cfg *config.ShowConfig) {
	if *numLayers != 0 {
		n := *numLayers
		cfg.NumLayers = &n
	}
	if *renderPort != 0 {
		p := *renderPort
		cfg.RenderPort = &p
	}
	if *syncPort != 0 {
		p := *syncPort
		cfg.TimesyncPort = &p
	}
	if *adminPort != 0 {
		p := *adminPort
		cfg.AdminPort = &p
	}
}

func run(cfg config.ShowConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := timeutil.RealClock{}

	m := mixer.NewMixer(*cfg.NumLayers)
	m.PutBeamInLayer(0, mixer.NewDemoBeam())
	m.SetLevel(0, 1.0)
	m.ToggleVideoChannel(0, 0)

	publisher := pubsub.NewPublisher("tunnelcast-render", uint16(*cfg.RenderPort))
	if err := publisher.Start(); err != nil {
		return fmt.Errorf("starting publisher: %w", err)
	}
	defer publisher.Stop()

	tsServer := timesync.NewServer(clock)
	tsSocket := reqrep.NewServer("tunnelcast-timesync", uint16(*cfg.TimesyncPort), tsServer.Handle)
	if err := tsSocket.Start(); err != nil {
		return fmt.Errorf("starting time-sync server: %w", err)
	}
	defer tsSocket.Stop()

	tickPeriod := time.Duration(float64(time.Second) / *cfg.TickHz)
	driver := show.NewServerDriver(m, clock, publisher, tickPeriod)
	if err := driver.Start(); err != nil {
		return fmt.Errorf("starting show driver: %w", err)
	}
	defer driver.Stop()

	mux := http.NewServeMux()
	driver.AttachAdminRoutes(mux)
	adminServer := &http.Server{Addr: fmt.Sprintf(":%d", *cfg.AdminPort), Handler: mux}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("tunnelserver: admin debug surface listening on %s", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("tunnelserver: admin server error: %v", err)
		}
	}()

	log.Printf("tunnelserver: rendering %d layer(s) at %.1f Hz, publishing on port %d, time-sync on port %d",
		*cfg.NumLayers, *cfg.TickHz, *cfg.RenderPort, *cfg.TimesyncPort)

	<-ctx.Done()
	log.Printf("tunnelserver: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	adminServer.Shutdown(shutdownCtx)

	wg.Wait()
	return nil
}

// Command tunnelclient runs the client side of the show: either a
// standalone renderer for one video channel, a remote-controlled
// renderer waiting for its configuration over the admin socket, or an
// interactive controller for browsing and configuring remote clients.
// Mode dispatch follows the teacher's cmd/radar/radar.go subcommand
// pattern (flag.Arg(0)).
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/tunnelcast/tunnelcast/internal/config"
	"github.com/tunnelcast/tunnelcast/internal/pubsub"
	"github.com/tunnelcast/tunnelcast/internal/registry"
	"github.com/tunnelcast/tunnelcast/internal/reqrep"
	"github.com/tunnelcast/tunnelcast/internal/show"
	"github.com/tunnelcast/tunnelcast/internal/timesync"
	"github.com/tunnelcast/tunnelcast/internal/timeutil"
	"github.com/tunnelcast/tunnelcast/internal/version"
)

const (
	renderServiceName   = "tunnelcast-render"
	timesyncServiceName = "tunnelcast-timesync"
	adminServiceName    = "tunnelcast-client-admin"

	discoveryTimeout = 10 * time.Second
	renderTickPeriod = 16 * time.Millisecond // ~60Hz display refresh
)

var (
	adminPort   = flag.Int("admin-port", 15001, "Port this client's remote-admin endpoint binds in remote mode")
	versionFlag = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if *versionFlag {
		fmt.Printf("tunnelclient %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch mode := flag.Arg(0); mode {
	case "remote":
		err = runRemote(ctx)
	case "admin":
		err = runAdmin(ctx)
	case "":
		err = fmt.Errorf("usage: tunnelclient <remote|admin|channel> [config.json]")
	default:
		var channel uint64
		channel, err = strconv.ParseUint(mode, 10, 64)
		if err == nil {
			err = runLocal(ctx, channel, flag.Arg(1))
		}
	}

	if err != nil {
		log.Fatalf("tunnelclient: %v", err)
	}
}

// buildClientDriver discovers the render and time-sync services, performs
// the fatal-if-it-fails initial synchronization, and starts a
// ClientDriver. It is the show.Builder used by the local-channel and
// remote modes; the admin mode builds no driver.
func buildClientDriver(ctx context.Context, cfg config.ClientConfig) (*show.ClientDriver, error) {
	channel := byte(0)
	if cfg.Channel != nil {
		channel = byte(*cfg.Channel)
	}

	renderRec, err := waitForInstance(renderServiceName, discoveryTimeout)
	if err != nil {
		return nil, fmt.Errorf("discovering %s: %w", renderServiceName, err)
	}
	sub, err := pubsub.NewSubscriber(renderRec.Host, renderRec.Port, channel)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", renderServiceName, err)
	}

	tsController, err := reqrep.NewController(timesyncServiceName)
	if err != nil {
		return nil, fmt.Errorf("browsing %s: %w", timesyncServiceName, err)
	}
	peer, err := waitForPeer(tsController, discoveryTimeout)
	if err != nil {
		return nil, fmt.Errorf("discovering %s: %w", timesyncServiceName, err)
	}

	clock := timeutil.RealClock{}
	transport := &reqrep.PeerTransport{Controller: tsController, InstanceName: peer}
	tsClient := timesync.NewClient(transport, clock)

	log.Printf("tunnelclient: synchronizing clock, estimated duration %s", tsClient.SynchronizationDuration())
	initial, err := tsClient.Synchronize(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial time synchronization: %w", err)
	}

	renderDelay := time.Duration(0)
	if cfg.RenderDelayMs != nil {
		renderDelay = time.Duration(*cfg.RenderDelayMs * float64(time.Millisecond))
	}
	resyncPeriod := 5 * time.Second
	if cfg.TimesyncIntervalMs != nil {
		resyncPeriod = time.Duration(*cfg.TimesyncIntervalMs) * time.Millisecond
	}

	sink := &show.NopRenderSink{}
	driver := show.NewClientDriver(clock, sub, tsClient, initial, sink,
		renderTickPeriod, renderDelay, resyncPeriod)
	driver.Start(ctx)
	return driver, nil
}

func runLocal(ctx context.Context, channel uint64, configPath string) error {
	cfg := config.DefaultClientConfig()
	if configPath != "" {
		loaded, err := config.LoadClientConfig(configPath)
		if err != nil {
			return fmt.Errorf("loading client config: %w", err)
		}
		cfg = loaded
	}
	ch := int(channel)
	cfg.Channel = &ch

	driver, err := buildClientDriver(ctx, cfg)
	if err != nil {
		return err
	}
	defer driver.Stop()

	log.Printf("tunnelclient: running locally on channel %d", channel)
	<-ctx.Done()
	log.Printf("tunnelclient: shutting down")
	return nil
}

func runRemote(ctx context.Context) error {
	manager := show.NewEmptyShowManager(ctx, buildClientDriver)
	defer manager.Close()

	server := reqrep.NewServer(adminServiceName, uint16(*adminPort), show.AdminHandler(manager))
	if err := server.Start(); err != nil {
		return fmt.Errorf("starting admin endpoint: %w", err)
	}
	defer server.Stop()

	log.Printf("tunnelclient: waiting for configuration on the admin socket (port %d)", *adminPort)
	<-ctx.Done()
	log.Printf("tunnelclient: shutting down")
	return nil
}

func runAdmin(ctx context.Context) error {
	ctrl, err := reqrep.NewController(adminServiceName)
	if err != nil {
		return fmt.Errorf("browsing %s: %w", adminServiceName, err)
	}
	defer ctrl.Close()

	reader := bufio.NewReader(os.Stdin)
	fmt.Println("tunnelcast admin controller. Commands: list, send <index> <config.json>, quit")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "quit", "exit":
			return nil
		case "list":
			for i, name := range ctrl.List() {
				fmt.Printf("  [%d] %s\n", i, name)
			}
		case "send":
			if len(fields) != 3 {
				fmt.Println("usage: send <index> <config.json>")
				continue
			}
			if err := sendConfig(ctrl, fields[1], fields[2]); err != nil {
				fmt.Printf("send failed: %v\n", err)
			}
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
}

func sendConfig(ctrl *reqrep.Controller, indexArg, path string) error {
	idx, err := strconv.Atoi(indexArg)
	if err != nil {
		return fmt.Errorf("invalid index %q: %w", indexArg, err)
	}
	names := ctrl.List()
	if idx < 0 || idx >= len(names) {
		return fmt.Errorf("index %d out of range (have %d peers)", idx, len(names))
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	reply, err := ctrl.Send(names[idx], payload)
	if err != nil {
		return fmt.Errorf("sending to %s: %w", names[idx], err)
	}
	fmt.Printf("reply: %s\n", reply)
	return nil
}

// waitForInstance blocks until at least one instance of serviceName is
// resolved, or timeout elapses.
func waitForInstance(serviceName string, timeout time.Duration) (registry.ServiceRecord, error) {
	found := make(chan registry.ServiceRecord, 1)
	browse, err := registry.Browse(serviceName, func(rec registry.ServiceRecord) {
		select {
		case found <- rec:
		default:
		}
	}, func(string) {})
	if err != nil {
		return registry.ServiceRecord{}, err
	}
	defer browse.Close()

	select {
	case rec := <-found:
		return rec, nil
	case <-time.After(timeout):
		return registry.ServiceRecord{}, fmt.Errorf("no instance of %q found within %s", serviceName, timeout)
	}
}

// waitForPeer blocks until a reqrep.Controller's browse has resolved at
// least one peer, or timeout elapses.
func waitForPeer(ctrl *reqrep.Controller, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if names := ctrl.List(); len(names) > 0 {
			return names[0], nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return "", fmt.Errorf("no peer found within %s", timeout)
}

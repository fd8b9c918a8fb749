package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iprivit/uhd/pkg/blocks"
	"github.com/iprivit/uhd/pkg/chdr"
	"github.com/iprivit/uhd/pkg/clientzero"
	"github.com/iprivit/uhd/pkg/config"
	"github.com/iprivit/uhd/pkg/graph"
	"github.com/iprivit/uhd/pkg/logging"
	"github.com/iprivit/uhd/pkg/metrics"
	"github.com/iprivit/uhd/pkg/node"
	"github.com/iprivit/uhd/pkg/streamer"
	"github.com/iprivit/uhd/pkg/transport"
)

func main() {
	configPath := flag.String("config", "", "Path to a device config YAML file (see pkg/config); defaults are used if empty")
	httpPort := flag.Int("http", 8080, "HTTP port for /health and /metrics")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	log := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(*logLevel)).
		With(logging.Component("chdr-host"))

	devCfg, err := loadDeviceConfig(*configPath, log)
	if err != nil {
		log.Error("failed to load device config", logging.Err(err))
		os.Exit(1)
	}

	codec, err := chdr.NewCodec(chdr.BusWidth(devCfg.BusWidthBits), toChdrEndianness(devCfg.Endianness))
	if err != nil {
		log.Error("failed to construct CHDR codec", logging.Err(err))
		os.Exit(1)
	}

	metricsReg := metrics.DefaultRegistry()

	g, cz, rx, tx, err := buildHost(codec, devCfg, metricsReg, log)
	if err != nil {
		log.Error("failed to build host graph", logging.Err(err))
		os.Exit(1)
	}
	_ = tx // wired for completeness; driven by a real application's send loop

	log.Info("graph committed",
		logging.Int("blocks", len(g.NodeIDs())),
		logging.Int("edges", len(g.Edges())))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metricsReg.GetPrometheusRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		info := cz.DeviceInfo()
		fmt.Fprintf(w, `{"status":"healthy","device_type":%q,"num_blocks":%d,"num_edges":%d}`,
			info.DeviceType, info.NumBlocks, info.NumEdges)
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", *httpPort), Handler: mux}
	go func() {
		log.Info("http server listening", logging.Int("port", *httpPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", logging.Err(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go runRecvLoop(ctx, rx, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}

func toChdrEndianness(e config.Endianness) chdr.Endianness {
	if e == config.BigEndian {
		return chdr.BigEndian
	}
	return chdr.LittleEndian
}

func loadDeviceConfig(path string, log logging.Logger) (*config.DeviceConfig, error) {
	if path == "" {
		log.Info("no -config given, using defaults")
		cfg := &config.DeviceConfig{
			BusWidthBits: 64,
			Endianness:   config.LittleEndian,
			TickRateHz:   200e6,
			Transport:    config.DefaultTransportConfig(),
		}
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

// buildHost assembles a minimal radio -> ddc -> sink graph, the rx/tx
// streamers serving its stream endpoints, and the client-zero endpoint that
// fronts it. Every link is an in-process transport.TestLink; building with
// the nng or zmq tag adds NNGLink/ZMQLink to pkg/transport, but this
// function does not use them.
func buildHost(codec *chdr.Codec, devCfg *config.DeviceConfig, metricsReg *metrics.Registry, log logging.Logger) (*graph.Graph, *clientzero.ClientZero, *streamer.RxStreamer, *streamer.TxStreamer, error) {
	g := graph.New()

	radio := node.New("radio0", 0, 1)
	ddc := blocks.NewDDC("ddc0", 4, log)
	sink := node.New("sink0", 1, 0)
	for _, n := range []*node.Node{radio, ddc, sink} {
		if err := g.AddNode(n); err != nil {
			return nil, nil, nil, nil, err
		}
	}
	if err := g.Connect("radio0", 0, "ddc0", 0, true); err != nil {
		return nil, nil, nil, nil, err
	}
	if err := g.Connect("ddc0", 0, "sink0", 0, true); err != nil {
		return nil, nil, nil, nil, err
	}
	if err := g.Commit(); err != nil {
		return nil, nil, nil, nil, err
	}

	conv, err := streamer.NewConverter(streamer.WireSC16, streamer.CPUFC32, 0)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	rxLink := transport.NewTestLink(devCfg.Transport.NumRecvFrames, devCfg.Transport.RecvFrameSize)
	txLink := transport.NewTestLink(devCfg.Transport.NumSendFrames, devCfg.Transport.SendFrameSize)
	credit := streamer.NewCreditWindow()
	credit.Replenish(int64(devCfg.Transport.SendBuffSize), int64(devCfg.Transport.NumSendFrames))

	sampRate := devCfg.TickRateHz // 1:1 unless a downstream DDC resamples
	rx := streamer.NewRxStreamer("radio0:rx", codec, conv, []transport.Link{rxLink}, devCfg.TickRateHz, sampRate, nil, metricsReg)
	tx := streamer.NewTxStreamer("radio0:tx", codec, conv, []transport.Link{txLink}, credit, metricsReg)

	radio.RegisterActionHandler(streamer.StreamCommandKey, func(acc node.Accessor, incoming node.EdgeSide, action node.Action) error {
		if cmd, ok := action.Payload.(streamer.StreamCommand); ok {
			rx.HandleStreamCommand(cmd)
		}
		return nil
	})

	regLink, _ := transport.NewTestLinkPair(8, devCfg.Transport.RecvFrameSize)
	reg := clientzero.NewRegisterLink(regLink, codec, 0)
	reg.Bind("radio0", clientzero.Endpoint{EPID: 0, Port: 0})
	reg.Bind("ddc0", clientzero.Endpoint{EPID: 0, Port: 1})
	reg.Bind("sink0", clientzero.Endpoint{EPID: 0, Port: 2})
	cz := clientzero.New(g, reg, 1, "chdr-host", 1, metricsReg)

	return g, cz, rx, tx, nil
}

// runRecvLoop drives the receive streamer until ctx is cancelled, logging
// overruns and returned errors; a timeout is not logged and the loop simply
// calls Recv again. A real application would hand the
// returned samples to a DSP pipeline; this loop exists to exercise the
// streamer end to end and to surface its error metadata in the host log.
func runRecvLoop(ctx context.Context, rx *streamer.RxStreamer, log logging.Logger) {
	buf := make([][]complex64, rx.NumChannels())
	for i := range buf {
		buf[i] = make([]complex64, 1024)
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, md, err := rx.Recv(ctx, buf, 1024, 100*time.Millisecond, false)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("recv error", logging.Err(err))
			continue
		}
		if md.ErrorCode == streamer.ErrorOverflow {
			log.Warn("streamer overrun", logging.Uint64("inferred_tsf", md.TimeSpec))
		}
		if n == 0 {
			continue
		}
	}
}

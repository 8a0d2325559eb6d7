// Command olanode runs a single Art-Net/RDM node: it answers ArtPoll,
// merges DMX onto its input ports, drives RDM TOD discovery and
// request/response correlation on its output ports, and exposes
// Prometheus metrics and a small JSON status API.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OpenLightingProject/ola-sub002/artnet"
	"github.com/OpenLightingProject/ola-sub002/config"
	"github.com/OpenLightingProject/ola-sub002/metrics"
	"github.com/OpenLightingProject/ola-sub002/rdm"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to config file")
	apiListen := flag.String("api-listen", ":8080", "HTTP API/metrics listen address (empty to disable)")
	discoveryInterval := flag.Duration("discovery-interval", 30*time.Second, "interval between full RDM TOD discovery passes")
	pcapIface := flag.String("pcap-iface", "", "optional network interface to also sniff Art-Net traffic on via libpcap")
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[config] %v", err)
	}
	log.Printf("[config] loaded ports=%d", len(cfg.Ports))

	node, err := artnet.New(cfg.NodeOptions())
	if err != nil {
		log.Fatalf("[artnet] %v", err)
	}

	collectors := metrics.New()
	collectors.MustRegister(prometheus.DefaultRegisterer)

	for _, p := range cfg.Ports {
		universe := p.ArtNetUniverse()
		if p.Input {
			node.AddInputPort(universe, p.MergeMode(), func(u artnet.Universe, data []byte) {
				collectors.PacketsReceived.WithLabelValues("ArtDmx").Inc()
				log.Printf("[artnet] merged frame universe=%s len=%d", u, len(data))
			})
		}
		if p.Output {
			node.AddOutputPort(universe)
		}
	}

	node.Discovery().SetCompletionCallback(func(universe artnet.Universe, added, removed []rdm.UID, timedOut bool) {
		outcome := "completed"
		if timedOut {
			outcome = "timeout"
		}
		collectors.DiscoveryPasses.WithLabelValues("full", outcome).Inc()
		if !timedOut {
			if port, ok := node.OutputPort(universe); ok {
				collectors.DiscoveredUIDs.WithLabelValues(universe.String()).Set(float64(len(port.KnownUIDs())))
			}
		}
		if len(added) > 0 || len(removed) > 0 {
			log.Printf("[rdm] discovery universe=%s added=%d removed=%d", universe, len(added), len(removed))
		}
	})

	var pcap *artnet.PcapReceiver
	if *pcapIface != "" {
		pcap, err = artnet.NewPcapReceiver(*pcapIface, node)
		if err != nil {
			log.Printf("[artnet] pcap receiver disabled: %v", err)
			pcap = nil
		} else {
			pcap.Start()
			log.Printf("[artnet] pcap receiver listening iface=%s", *pcapIface)
		}
	}

	node.Start()
	log.Printf("[artnet] node started listen=%s", cfg.ListenAddr)

	stopDiscovery := make(chan struct{})
	go runDiscoveryLoop(node, cfg, *discoveryInterval, stopDiscovery)

	var server *http.Server
	if *apiListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/api/status", statusHandler(node, cfg))
		server = &http.Server{Addr: *apiListen, Handler: mux}
		go func() {
			log.Printf("[api] listening addr=%s", *apiListen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("[api] server error: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[main] shutting down")
	close(stopDiscovery)
	if pcap != nil {
		pcap.Stop()
	}
	if server != nil {
		_ = server.Close()
	}
	node.Stop()
}

func runDiscoveryLoop(node *artnet.Node, cfg *config.Config, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, p := range cfg.Ports {
				if !p.Output {
					continue
				}
				universe := p.ArtNetUniverse()
				if status := node.RunFullDiscovery(universe); status != rdm.OK {
					log.Printf("[rdm] discovery error universe=%s status=%v", universe, status)
				}
			}
		}
	}
}

type portStatus struct {
	Universe string   `json:"universe"`
	Role     string   `json:"role"`
	UIDs     []string `json:"uids,omitempty"`
}

func statusHandler(node *artnet.Node, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		statuses := make([]portStatus, 0, len(cfg.Ports))
		for _, p := range cfg.Ports {
			role := ""
			if p.Input {
				role += "input"
			}
			if p.Output {
				if role != "" {
					role += "+"
				}
				role += "output"
			}
			statuses = append(statuses, portStatus{
				Universe: p.ArtNetUniverse().String(),
				Role:     role,
			})
		}
		_ = json.NewEncoder(w).Encode(statuses)
	}
}

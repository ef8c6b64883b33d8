// Command lwm2m-server runs a standalone LWM2M Server Engine, logging
// registration events and exposing Prometheus metrics over HTTP.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/lwm2m-go/engine/coap"
	"github.com/lwm2m-go/engine/metrics"
	"github.com/lwm2m-go/engine/server"
)

var (
	coapAddr    = flag.String("coap-addr", ":5683", "CoAP UDP listen address")
	metricsAddr = flag.String("metrics-addr", ":9100", "Prometheus /metrics HTTP listen address")
	nosec       = flag.Bool("nosec", true, "Run without DTLS (NoSec mode)")
)

type logAdapter struct{}

func (logAdapter) Printf(format string, v ...interface{}) {
	logrus.Infof(format, v...)
}

func main() {
	flag.Parse()

	var modes []coap.SecurityMode
	if !*nosec {
		logrus.Fatal("this sample binary only wires NoSec; use a custom build for PSK/RPK")
	}
	transport, err := coap.NewUDPTransport(modes)
	if err != nil {
		logrus.WithError(err).Fatal("building transport")
	}
	transport.ListenAddr = *coapAddr
	transport.Log = logAdapter{}

	s := server.New(transport, server.WithLogger(logAdapter{}))
	metrics.NewCollectors(s, prometheus.DefaultRegisterer)

	s.AddRegistrationMonitor(func(ev server.RegistrationEvent, info *server.ClientInfo) {
		logrus.Infof("client %s: %s (location /rd/%s)", info.Name, ev, info.LocationPath)
	})

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		logrus.Infof("metrics listening on %s", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			logrus.WithError(err).Error("metrics server stopped")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sig:
		cancel()
	case err := <-runErr:
		if err != nil {
			logrus.WithError(err).Error("server stopped")
		}
		return
	}
	<-runErr
}

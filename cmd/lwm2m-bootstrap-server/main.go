// Command lwm2m-bootstrap-server runs a standalone Bootstrap Server Engine:
// on every accepted Bootstrap-Request it deletes every existing Object
// Instance, writes a single Security Object instance pointing the client
// at -target-server, and signals Bootstrap-Finish.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/lwm2m-go/engine/bootstrap"
	"github.com/lwm2m-go/engine/coap"
	"github.com/lwm2m-go/engine/config"
	"github.com/lwm2m-go/engine/object"
)

var (
	coapAddr     = flag.String("coap-addr", ":5683", "CoAP UDP listen address")
	configPath   = flag.String("config", "", "Path to a known_clients/security JSON config file, required")
	targetServer = flag.String("target-server", "", "coap:// URI the provisioned Security Object should point clients at, required")
)

type logAdapter struct{}

func (logAdapter) Printf(format string, v ...interface{}) {
	logrus.Infof(format, v...)
}

func main() {
	flag.Parse()
	if *configPath == "" {
		logrus.Fatal("-config is required")
	}
	if *targetServer == "" {
		logrus.Fatal("-target-server is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("loading config")
	}

	transport, err := coap.NewUDPTransport(nil)
	if err != nil {
		logrus.WithError(err).Fatal("building transport")
	}
	transport.ListenAddr = *coapAddr
	transport.Log = logAdapter{}

	b, err := bootstrap.New(transport, cfg.KnownClients, cfg.Security, bootstrap.WithLogger(logAdapter{}))
	if err != nil {
		logrus.WithError(err).Fatal("building bootstrap server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.AddRequestMonitor(func(client *bootstrap.BootstrapClientInfo) {
		runBootstrapSequence(ctx, b, client, *targetServer)
	})

	runErr := make(chan error, 1)
	go func() { runErr <- b.Run(ctx) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		cancel()
	case err := <-runErr:
		if err != nil {
			logrus.WithError(err).Error("bootstrap server stopped")
		}
		return
	}
	<-runErr
}

// runBootstrapSequence drives the DELETE -> WRITE Security -> Finish
// sequence, logging each step's outcome.
func runBootstrapSequence(ctx context.Context, b *bootstrap.BootstrapServer, client *bootstrap.BootstrapClientInfo, serverURI string) {
	logrus.Infof("bootstrapping %s from %s", client.Name, client.RemoteAddr)

	b.DeleteObjectInstance(ctx, client, coap.RootPath(), func(code coap.ResponseCode) {
		if !code.IsSuccess() {
			logrus.Errorf("bootstrap %s: delete-all failed: %s", client.Name, code)
			return
		}
		security := []object.Resource{
			{ID: 0, Arity: object.AritySingle, Value: object.Value{Type: object.DataTypeString, String: serverURI}},
			{ID: 1, Arity: object.AritySingle, Value: object.Value{Type: object.DataTypeBool, Bool: false}},
			{ID: 10, Arity: object.AritySingle, Value: object.Value{Type: object.DataTypeInt, Int: 101}},
		}
		b.WriteObject(ctx, client, 0, []bootstrap.Instance{{ID: 0, Resources: security}}, func(code coap.ResponseCode) {
			if !code.IsSuccess() {
				logrus.Errorf("bootstrap %s: write security failed: %s", client.Name, code)
				return
			}
			b.SendFinish(ctx, client, func(code coap.ResponseCode) {
				if !code.IsSuccess() {
					logrus.Errorf("bootstrap %s: send-finish failed: %s", client.Name, code)
					return
				}
				logrus.Infof("bootstrap %s: finished", client.Name)
			})
		})
	})
}

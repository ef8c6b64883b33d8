// Command lwm2m-client runs a single LWM2M Client Engine instance against
// a Server (and, optionally, a Bootstrap Server), advertising a minimal
// Device Object alongside the mandatory Security Object.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/lwm2m-go/engine/client"
	"github.com/lwm2m-go/engine/coap"
	"github.com/lwm2m-go/engine/object"
)

var (
	name          = flag.String("name", "", "Endpoint name (ep), required")
	serverAddr    = flag.String("server", "", "Server host:port, required unless -bootstrap is set")
	bootstrapAddr = flag.String("bootstrap", "", "Bootstrap Server host:port, for a client-initiated bootstrap instead of direct registration")
	lifetime      = flag.Int("lifetime", 3600, "Registration lifetime in seconds")
	manufacturer  = flag.String("manufacturer", "lwm2m-go", "Device Object manufacturer resource value")
)

// logAdapter funnels the engine's optional Printf logger into logrus.
type logAdapter struct{}

func (logAdapter) Printf(format string, v ...interface{}) {
	logrus.Infof(format, v...)
}

func main() {
	flag.Parse()
	if *name == "" {
		logrus.Fatal("-name is required")
	}
	if *serverAddr == "" && *bootstrapAddr == "" {
		logrus.Fatal("one of -server or -bootstrap is required")
	}

	transport, err := coap.NewUDPTransport(nil)
	if err != nil {
		logrus.WithError(err).Fatal("building transport")
	}
	transport.Log = logAdapter{}

	security := buildSecurityObject(*serverAddr, *bootstrapAddr)
	device := buildDeviceObject(*manufacturer)

	c := client.New(*name, []*object.Object{security, device},
		client.WithTransport(transport),
		client.WithLogger(logAdapter{}),
		client.WithLifetime(*lifetime),
	)
	if err := c.AddObjectInstance(client.SecurityObjectID, 0, nil); err != nil {
		logrus.WithError(err).Fatal("registering security instance")
	}
	if err := c.AddObjectInstance(3, 0, nil); err != nil {
		logrus.WithError(err).Fatal("registering device instance")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.AddBootstrapFinishMonitor(func() {
		logrus.Info("bootstrap finished, re-registering")
		go func() {
			if err := c.Start(ctx); err != nil {
				logrus.WithError(err).Error("re-registering after bootstrap")
			}
		}()
	})
	go c.Run(ctx)

	if err := c.Start(ctx); err != nil {
		logrus.WithError(err).Fatal("starting client")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	if err := c.Stop(ctx); err != nil {
		logrus.WithError(err).Error("stopping client")
	}
	cancel()
}

// buildSecurityObject advertises one Security Object instance: either a
// direct Server account (-server) or a bootstrap entry (-bootstrap) for
// the startup scan to find.
func buildSecurityObject(serverAddr, bootstrapAddr string) *object.Object {
	uri := serverAddr
	isBootstrap := false
	if serverAddr == "" {
		uri = bootstrapAddr
		isBootstrap = true
	}
	return &object.Object{
		ID:            client.SecurityObjectID,
		ResourceCount: 11,
		Read: func(inst object.InstanceState, resourceID uint16) (object.Resource, error) {
			switch resourceID {
			case client.SecurityResourceServerURI:
				return object.Resource{ID: resourceID, Type: object.DataTypeString, Value: object.Value{Type: object.DataTypeString, String: uri}}, nil
			case client.SecurityResourceIsBootstrap:
				return object.Resource{ID: resourceID, Type: object.DataTypeBool, Value: object.Value{Type: object.DataTypeBool, Bool: isBootstrap}}, nil
			default:
				return object.Resource{}, coap.ErrNotFound
			}
		},
	}
}

// buildDeviceObject is a minimal read-only Device Object (id 3), resource 0
// (Manufacturer) only, just enough to exercise registration and a GET.
func buildDeviceObject(manufacturer string) *object.Object {
	return &object.Object{
		ID:            3,
		ResourceCount: 1,
		Read: func(inst object.InstanceState, resourceID uint16) (object.Resource, error) {
			if resourceID != 0 {
				return object.Resource{}, coap.ErrNotFound
			}
			return object.Resource{ID: 0, Type: object.DataTypeString, Value: object.Value{Type: object.DataTypeString, String: manufacturer}}, nil
		},
	}
}

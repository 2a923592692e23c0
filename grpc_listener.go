// grpc_listener.go: forwarding of module events over gRPC
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	moduleEventsServiceName = "modhub.v1.ModuleEvents"
	publishMethod           = "/" + moduleEventsServiceName + "/Publish"

	// DefaultPublishTimeout bounds one Publish call when no timeout is set.
	DefaultPublishTimeout = 5 * time.Second
)

// GRPCListenerConfig describes the remote endpoint of a GRPCListener.
type GRPCListenerConfig struct {
	Endpoint string        `json:"endpoint" yaml:"endpoint"`
	Timeout  time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// TLS is enabled when CAFile is set. CertFile and KeyFile add a client
	// certificate for mutual TLS.
	CAFile   string `json:"ca_file,omitempty" yaml:"ca_file,omitempty"`
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
}

// GRPCListener is a Listener that publishes every module event to a remote
// ModuleEvents service.
//
// Example usage:
//
//	listener, err := modhub.NewGRPCListener(modhub.GRPCListenerConfig{
//	    Endpoint: "events.internal:9443",
//	    CAFile:   "/etc/ssl/certs/ca.crt",
//	}, logger)
//	if err != nil {
//	    return err
//	}
//	defer listener.Close()
//	manager.AddListener(listener)
type GRPCListener struct {
	conn    *grpc.ClientConn
	owned   bool
	timeout time.Duration
	logger  Logger
}

// NewGRPCListener dials cfg.Endpoint. The connection is established lazily
// on the first event.
func NewGRPCListener(cfg GRPCListenerConfig, logger any) (*GRPCListener, error) {
	if cfg.Endpoint == "" {
		return nil, NewInvalidConfigError("gRPC listener requires an endpoint")
	}

	var opts []grpc.DialOption
	if cfg.CAFile != "" {
		creds, err := buildListenerTLSCredentials(cfg)
		if err != nil {
			return nil, NewInvalidConfigError("invalid gRPC listener TLS configuration").
				WithContext("cause", err.Error())
		}
		opts = append(opts, grpc.WithTransportCredentials(creds))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(cfg.Endpoint, opts...)
	if err != nil {
		return nil, NewInvalidConfigError("failed to create gRPC client").
			WithContext("endpoint", cfg.Endpoint).
			WithContext("cause", err.Error())
	}
	l := NewGRPCListenerFromConn(conn, cfg.Timeout, logger)
	l.owned = true
	return l, nil
}

// NewGRPCListenerFromConn publishes over an existing connection, which the
// caller keeps ownership of.
func NewGRPCListenerFromConn(conn *grpc.ClientConn, timeout time.Duration, logger any) *GRPCListener {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &GRPCListener{conn: conn, timeout: timeout, logger: NewLogger(logger)}
}

// HandleModuleEvent implements Listener.
func (g *GRPCListener) HandleModuleEvent(event ModuleEvent) error {
	payload, err := encodeModuleEvent(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	if err := g.conn.Invoke(ctx, publishMethod, payload, &emptypb.Empty{}); err != nil {
		g.logger.Debug("Module event publish failed",
			"event", event.Type.String(),
			"module", event.Module.String(),
			"error", err)
		return err
	}
	return nil
}

// Close releases the connection when the listener created it.
func (g *GRPCListener) Close() error {
	if !g.owned {
		return nil
	}
	return g.conn.Close()
}

func buildListenerTLSCredentials(cfg GRPCListenerConfig) (credentials.TransportCredentials, error) {
	config := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}

	caCert, err := os.ReadFile(cfg.CAFile) // #nosec G304 - CA path from listener configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}
	config.RootCAs = pool

	return credentials.NewTLS(config), nil
}

// RemoteModuleEvent is a module event as received by the ModuleEvents
// service.
type RemoteModuleEvent struct {
	Type       string
	ModuleID   string
	Version    uint32
	ModuleType string
	Group      string
	Path       string
	Timestamp  time.Time
}

// Key returns the module identity carried by the event.
func (e RemoteModuleEvent) Key() ModuleKey {
	return ModuleKey{ID: e.ModuleID, Version: e.Version}
}

// RemoteEventHandler consumes events received by the ModuleEvents service.
type RemoteEventHandler func(ctx context.Context, event RemoteModuleEvent) error

// RegisterModuleEventService exposes the ModuleEvents service on server.
func RegisterModuleEventService(server *grpc.Server, handler RemoteEventHandler) {
	server.RegisterService(&moduleEventsServiceDesc, &moduleEventsService{handler: handler})
}

func encodeModuleEvent(event ModuleEvent) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"type":      event.Type.String(),
		"timestamp": event.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if def := event.Module; def != nil {
		fields["id"] = def.ID()
		fields["version"] = float64(def.Version())
		fields["module_type"] = def.Type()
		fields["group"] = def.Group()
		fields["path"] = def.Path()
	}
	payload, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode module event: %w", err)
	}
	return payload, nil
}

func decodeModuleEvent(payload *structpb.Struct) (RemoteModuleEvent, error) {
	fields := payload.GetFields()
	event := RemoteModuleEvent{
		Type:       fields["type"].GetStringValue(),
		ModuleID:   fields["id"].GetStringValue(),
		Version:    uint32(fields["version"].GetNumberValue()),
		ModuleType: fields["module_type"].GetStringValue(),
		Group:      fields["group"].GetStringValue(),
		Path:       fields["path"].GetStringValue(),
	}
	if event.Type == "" || event.ModuleID == "" {
		return event, fmt.Errorf("event type and module id are required")
	}
	if ts := fields["timestamp"].GetStringValue(); ts != "" {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return event, fmt.Errorf("invalid timestamp: %w", err)
		}
		event.Timestamp = parsed
	}
	return event, nil
}

type moduleEventsServer interface {
	publish(ctx context.Context, payload *structpb.Struct) (*emptypb.Empty, error)
}

type moduleEventsService struct {
	handler RemoteEventHandler
}

func (s *moduleEventsService) publish(ctx context.Context, payload *structpb.Struct) (*emptypb.Empty, error) {
	event, err := decodeModuleEvent(payload)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if s.handler != nil {
		if err := s.handler(ctx, event); err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
	}
	return &emptypb.Empty{}, nil
}

func publishHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(moduleEventsServer).publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: publishMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(moduleEventsServer).publish(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var moduleEventsServiceDesc = grpc.ServiceDesc{
	ServiceName: moduleEventsServiceName,
	HandlerType: (*moduleEventsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: publishHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "modhub/v1/events.proto",
}

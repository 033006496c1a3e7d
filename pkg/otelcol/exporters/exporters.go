// Package exporters builds the OTLP trace exporter the scoring API and the
// worker ship spans through.
package exporters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"helpdesk-gamification/pkg/config"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
)

// Settings is the resolved OTEL.* block.
type Settings struct {
	Endpoint string
	Insecure bool
	Gzip     bool
	Timeout  time.Duration
}

func Resolve(cfg *config.Config) (Settings, error) {
	s := Settings{
		Endpoint: cfg.Otel.Addr,
		Insecure: cfg.Otel.Insecure,
		Timeout:  cfg.Otel.Timeout,
	}
	if s.Endpoint == "" {
		return s, errors.New("OTEL.ADDR is empty")
	}
	switch cfg.Otel.Compression {
	case "gzip":
		s.Gzip = true
	case "", "none":
	default:
		return s, fmt.Errorf("unsupported OTEL.COMPRESSION %q", cfg.Otel.Compression)
	}
	if s.Timeout <= 0 {
		s.Timeout = 10 * time.Second
	}
	return s, nil
}

func ProvideHttp(cfg *config.Config) (*otlptrace.Exporter, error) {
	s, err := Resolve(cfg)
	if err != nil {
		return nil, err
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(s.Endpoint),
		otlptracehttp.WithTimeout(s.Timeout),
	}
	if s.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if s.Gzip {
		opts = append(opts, otlptracehttp.WithCompression(otlptracehttp.GzipCompression))
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()
	return otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
}

func ProvideGrpc(cfg *config.Config) (*otlptrace.Exporter, error) {
	s, err := Resolve(cfg)
	if err != nil {
		return nil, err
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(s.Endpoint),
		otlptracegrpc.WithTimeout(s.Timeout),
	}
	if s.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if s.Gzip {
		opts = append(opts, otlptracegrpc.WithCompressor("gzip"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()
	return otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
}

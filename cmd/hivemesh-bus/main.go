// Copyright 2026 The Hivemesh Authors
// SPDX-License-Identifier: Apache-2.0

// Hivemesh-bus is a debugging tool for the service bus. It can call a
// service, publish to a topic, watch a topic's broadcasts, or serve a
// trivial echo service, which is enough to exercise every router code
// path from a shell.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/hivemesh/hivemesh/client"
	"github.com/hivemesh/hivemesh/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

const usage = `Usage: hivemesh-bus <command> [flags]

Commands:
  call <address> [data]    call a service and print its reply
  publish <topic> <data>   publish a broadcast to a topic
  watch <topic>            print broadcasts on a topic until interrupted
  serve <service-id>       register an echo service and serve calls
  version                  print version information

Connection flags (every command):
  --network string    transport: tcp or unix (default "unix")
  --address string    router address (default "/run/hivemesh/bus.sock")
  --timeout duration  per-operation timeout (default 30s)
`

// connFlags registers the shared connection flags on a command's flag
// set and returns the destinations.
func connFlags(flags *pflag.FlagSet) (network, address *string, timeout *time.Duration) {
	network = flags.String("network", "unix", "transport: tcp or unix")
	address = flags.String("address", "/run/hivemesh/bus.sock", "router address")
	timeout = flags.Duration("timeout", 30*time.Second, "per-operation timeout")
	return network, address, timeout
}

func dial(ctx context.Context, network, address string) (*client.Conn, error) {
	return client.Dial(ctx, client.Config{
		Network: network,
		Address: address,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func run(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("command required")
	}

	switch args[0] {
	case "call":
		return runCall(args[1:])
	case "publish":
		return runPublish(args[1:])
	case "watch":
		return runWatch(args[1:])
	case "serve":
		return runServe(args[1:])
	case "version":
		fmt.Printf("hivemesh-bus %s\n", version.Info())
		return nil
	case "help", "--help", "-h":
		fmt.Fprint(os.Stderr, usage)
		return nil
	}
	return fmt.Errorf("unknown command %q\n\n%s", args[0], usage)
}

func runCall(args []string) error {
	flags := pflag.NewFlagSet("call", pflag.ContinueOnError)
	network, address, timeout := connFlags(flags)
	stream := flags.Bool("stream", false, "print each reply chunk on its own line as it arrives")
	if err := flags.Parse(args); err != nil {
		return err
	}
	positional := flags.Args()
	if len(positional) < 1 || len(positional) > 2 {
		return fmt.Errorf("usage: hivemesh-bus call <address> [data]")
	}
	var data []byte
	if len(positional) == 2 {
		data = []byte(positional[1])
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := dial(ctx, *network, *address)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !*stream {
		result, err := conn.Call(ctx, positional[0], data)
		if err != nil {
			return err
		}
		os.Stdout.Write(result)
		fmt.Println()
		return nil
	}

	replies, err := conn.CallStream(ctx, positional[0], data)
	if err != nil {
		return err
	}
	for {
		chunk, final, err := replies.Next(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", chunk)
		if final {
			return nil
		}
	}
}

func runPublish(args []string) error {
	flags := pflag.NewFlagSet("publish", pflag.ContinueOnError)
	network, address, timeout := connFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}
	positional := flags.Args()
	if len(positional) != 2 {
		return fmt.Errorf("usage: hivemesh-bus publish <topic> <data>")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := dial(ctx, *network, *address)
	if err != nil {
		return err
	}
	defer conn.Close()

	return conn.Publish(ctx, positional[0], []byte(positional[1]))
}

func runWatch(args []string) error {
	flags := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	network, address, timeout := connFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}
	positional := flags.Args()
	if len(positional) != 1 {
		return fmt.Errorf("usage: hivemesh-bus watch <topic>")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	conn, err := dial(dialCtx, *network, *address)
	if err != nil {
		return err
	}
	defer conn.Close()

	events, err := conn.Subscribe(dialCtx, positional[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "watching %s (ctrl-c to stop)\n", positional[0])

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return fmt.Errorf("connection lost")
			}
			fmt.Printf("%s\n", event.Data)
		case <-ctx.Done():
			return nil
		}
	}
}

func runServe(args []string) error {
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	network, address, timeout := connFlags(flags)
	reply := flags.String("reply", "", "fixed reply payload (default: echo the request data)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	positional := flags.Args()
	if len(positional) != 1 {
		return fmt.Errorf("usage: hivemesh-bus serve <service-id>")
	}
	serviceID := positional[0]

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	conn, err := dial(dialCtx, *network, *address)
	if err != nil {
		return err
	}
	defer conn.Close()

	err = conn.Register(dialCtx, serviceID, func(callAddress string, data []byte, w *client.ReplyWriter) {
		fmt.Fprintf(os.Stderr, "call %s (%d bytes)\n", callAddress, len(data))
		payload := data
		if *reply != "" {
			payload = []byte(*reply)
		}
		if err := w.Full(payload); err != nil {
			fmt.Fprintf(os.Stderr, "reply failed: %v\n", err)
		}
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "serving %s (ctrl-c to stop)\n", serviceID)

	<-ctx.Done()
	return nil
}

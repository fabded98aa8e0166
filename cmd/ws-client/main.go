// Command ws-client sends the sample reading to the websocket API once
// and prints the reply.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gurre/segspeed/segment"
	"github.com/gurre/segspeed/wsclient"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("ws-client", flag.ExitOnError)
	url := fs.String("url", wsclient.DefaultURL, "Websocket API URL")
	action := fs.String("action", wsclient.DefaultAction, "Route selected by the action field")
	timeout := fs.Duration("timeout", 10*time.Second, "Time to wait for the reply")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	msg := wsclient.NewMessage(segment.SampleReading())
	msg.Action = *action

	reply, err := wsclient.New(*url).Exchange(ctx, msg)
	if err != nil {
		return err
	}
	fmt.Printf("Received: %s\n", reply)
	return nil
}

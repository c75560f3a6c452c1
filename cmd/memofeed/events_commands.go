package main

import (
	"context"
	"encoding/json"
	"fmt"

	natspkg "github.com/brojonat/memofeed/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand subscribes to memo events straight from JetStream.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to memo events for an account (or all accounts)",
		ArgsUsage: "[address]",
		Description: `Subscribe to memo events published to NATS JetStream.

Events are published to the subject: memos.{address}
Both confirmed submissions and newly archived memos are published.

Example:
  memofeed events subscribe Vote111111111111111111111111111111111111111 --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "memofeed-cli",
			},
		},
		Action: func(c *cli.Context) error {
			subject := natspkg.SubjectPrefix + ">"
			if c.NArg() > 0 {
				subject = natspkg.SubjectPrefix + c.Args().First()
			}
			jsonOutput := c.Bool("json")

			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			consumerConfig := jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
				DeliverPolicy: jetstream.DeliverNewPolicy,
			}
			if c.Bool("durable") {
				consumerConfig.Durable = c.String("consumer-name")
				consumerConfig.Name = c.String("consumer-name")
			}

			ctx, cancel := interruptContext(c.Context)
			defer cancel()

			cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			if !jsonOutput {
				fmt.Fprintf(c.App.ErrWriter, "📡 Subscribing to: %s\n", subject)
				fmt.Fprintf(c.App.ErrWriter, "\nWaiting for memos... (Ctrl-C to exit)\n\n")
			}

			msgChan := make(chan jetstream.Msg, 10)
			consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
				msgChan <- msg
			})
			if err != nil {
				return fmt.Errorf("failed to start consumer: %w", err)
			}
			defer consumeCtx.Stop()

			count := 0
			for {
				select {
				case msg := <-msgChan:
					var event natspkg.MemoEvent
					if err := json.Unmarshal(msg.Data(), &event); err != nil {
						fmt.Fprintf(c.App.ErrWriter, "Error parsing event: %v\n", err)
						_ = msg.Ack()
						continue
					}
					count++
					if err := printEvent(c.App.Writer, &event, jsonOutput); err != nil {
						return err
					}
					_ = msg.Ack()

				case <-ctx.Done():
					if !jsonOutput {
						fmt.Fprintf(c.App.ErrWriter, "\n✅ Received %d memos\n", count)
					}
					return nil
				}
			}
		},
	}
}

// inspectStreamCommand shows information about the memo JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the MEMOS JetStream stream",
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(context.Background(), natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}
			info, err := stream.Info(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, info)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Stream: %s\n", info.Config.Name)
			fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
			fmt.Fprintf(w, "Subjects:     %v\n", info.Config.Subjects)
			fmt.Fprintf(w, "Messages:     %d\n", info.State.Msgs)
			fmt.Fprintf(w, "Bytes:        %d\n", info.State.Bytes)
			fmt.Fprintf(w, "First Seq:    %d\n", info.State.FirstSeq)
			fmt.Fprintf(w, "Last Seq:     %d\n", info.State.LastSeq)
			fmt.Fprintf(w, "Consumers:    %d\n", info.State.Consumers)
			fmt.Fprintf(w, "Max Age:      %s\n", info.Config.MaxAge)
			fmt.Fprintf(w, "Duplicates:   %s\n", info.Config.Duplicates)
			return nil
		},
	}
}

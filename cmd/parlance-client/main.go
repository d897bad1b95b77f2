// Command parlance-client is a small terminal client: it joins a server,
// prints what happens, and can stream audio read from stdin through a
// registered source.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parlance/pkg/client"
	"parlance/pkg/protocol"
)

func main() {
	var (
		serverURL = flag.String("server", "ws://localhost:8090/ws", "server websocket URL")
		nickname  = flag.String("nick", "", "nickname to join under (required)")
		phonetic  = flag.String("phonetic", "", "phonetic nickname")
		password  = flag.String("password", "", "server password")
		username  = flag.String("user", "", "account username (optional)")
		userPass  = flag.String("user-password", "", "account password")
		channelID = flag.Uint("channel", 0, "channel to move into after joining (0 = stay)")
		stream    = flag.String("stream", "", "source name; audio payloads are read from stdin")
		bitrate   = flag.Int("bitrate", 0, "requested source bitrate (0 = server default)")
	)
	flag.Parse()

	if *nickname == "" {
		fmt.Fprintln(os.Stderr, "a nickname is required (-nick)")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		cancel()
	}()

	c := client.New(client.Config{
		ServerURL:  *serverURL,
		ClientName: "parlance-client/1.0",
	})

	if err := c.Connect(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer c.Close()
	log.Printf("connected to %s", c.ServerInfo().Name)

	if *username != "" {
		res, err := c.Login(ctx, *username, *userPass)
		if err != nil {
			log.Fatalf("login: %v", err)
		}
		if res.Result != protocol.LoginSucceeded {
			log.Fatalf("login failed: %s", res.Result)
		}
		log.Printf("logged in as %s", res.Username)
	}

	join, err := c.Join(ctx, *nickname, *phonetic, *password)
	if err != nil {
		log.Fatalf("join: %v", err)
	}
	if join.Result != protocol.JoinSucceeded {
		log.Fatalf("join failed: %s", join.Result)
	}
	log.Printf("joined as %s (user %d)", join.User.Nickname, join.User.UserID)

	if *channelID != 0 {
		move, err := c.JoinChannel(ctx, uint32(*channelID))
		if err != nil {
			log.Fatalf("move: %v", err)
		}
		if move.Result != protocol.ChannelChangeSucceeded {
			log.Fatalf("move failed: %s", move.Result)
		}
	}

	if *stream != "" {
		if err := streamFromStdin(ctx, c, *stream, *bitrate); err != nil && ctx.Err() == nil {
			log.Fatalf("stream: %v", err)
		}
		return
	}

	select {
	case <-ctx.Done():
	case <-c.Done():
		log.Printf("server closed the connection")
	}
}

// streamFromStdin registers a source and relays stdin in fixed-size chunks
// to the client's current channel until EOF or cancellation.
func streamFromStdin(ctx context.Context, c *client.Client, name string, bitrate int) error {
	res, err := c.RequestSource(ctx, name, protocol.CodecArgs{Bitrate: bitrate})
	if err != nil {
		return err
	}
	if res.Result != protocol.SourceSucceeded {
		return fmt.Errorf("source request failed: %s", res.Result)
	}
	src := res.Source
	log.Printf("streaming as source %d (%s)", src.SourceID, src.Name)

	if err := c.SetAudioState(src.SourceID, true); err != nil {
		return err
	}
	defer func() { _ = c.SetAudioState(src.SourceID, false) }()

	me := c.Me()
	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if err := c.SendAudioToChannels(src.SourceID, []uint32{me.ChannelID}, chunk); err != nil {
				return err
			}
			// crude pacing so a fast pipe does not flood the server
			time.Sleep(20 * time.Millisecond)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

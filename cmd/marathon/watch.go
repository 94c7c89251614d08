package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"marathon/pkg/models"
)

func watchCmd() *cobra.Command {
	var server string
	var readerID int64

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print live progress events from a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := url.Parse(server)
			if err != nil {
				return fmt.Errorf("invalid server url: %w", err)
			}
			switch u.Scheme {
			case "http":
				u.Scheme = "ws"
			case "https":
				u.Scheme = "wss"
			}
			u.Path = "/ws/progress"
			if readerID > 0 {
				u.RawQuery = "reader_id=" + strconv.FormatInt(readerID, 10)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
			if err != nil {
				return fmt.Errorf("connect %s: %w", u, err)
			}
			defer conn.Close()

			fmt.Println("Connected to progress feed:", u.String())
			fmt.Println("Waiting for progress updates...")

			go func() {
				<-ctx.Done()
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				conn.Close()
			}()

			for {
				var evt models.ProgressEvent
				if err := conn.ReadJSON(&evt); err != nil {
					if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						fmt.Println("Disconnected.")
						return nil
					}
					return fmt.Errorf("read event: %w", err)
				}
				fmt.Println(formatEvent(evt))
			}
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "base URL of the marathon server")
	cmd.Flags().Int64Var(&readerID, "reader", 0, "only show events for this reader id")
	return cmd
}

func formatEvent(evt models.ProgressEvent) string {
	at := time.Unix(evt.Timestamp, 0).UTC().Format(time.RFC3339)
	switch evt.Type {
	case "verse_marked":
		state := "read"
		if !evt.IsRead {
			state = "unread"
		}
		return fmt.Sprintf("%s  %s marked verse %d %s", at, evt.ReaderName, evt.VerseID, state)
	case "chapter_marked":
		return fmt.Sprintf("%s  %s read %s %d (%d verses)", at, evt.ReaderName, evt.BookKey, evt.ChapterNumber, evt.Count)
	case "chapter_unmarked":
		return fmt.Sprintf("%s  %s unmarked %s %d (%d verses)", at, evt.ReaderName, evt.BookKey, evt.ChapterNumber, evt.Count)
	default:
		return fmt.Sprintf("%s  %s reader=%d count=%d", at, evt.Type, evt.ReaderID, evt.Count)
	}
}

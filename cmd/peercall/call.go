package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"peercall/internal/core/domain"

	"github.com/spf13/cobra"
)

var flagLink string

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a room and wait for the other party",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCall(cmd, func(ctx context.Context, s *session) error {
			id, err := s.call.CreateRoom(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Room %s created. Share %s\n", id, s.shareURL(id))
			return nil
		})
	},
}

var joinCmd = &cobra.Command{
	Use:   "join [room-id]",
	Short: "Join an existing room by id or share link",
	Long: `Join an existing room.

Examples:
  peercall join abc1234
  peercall join --link "http://localhost:3001/video-chat?room=abc1234"`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := roomFromArgs(args, flagLink)
		if err != nil {
			return err
		}
		return runCall(cmd, func(ctx context.Context, s *session) error {
			if err := s.call.JoinRoom(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Joined room %s\n", id)
			return nil
		})
	},
}

func init() {
	joinCmd.Flags().StringVar(&flagLink, "link", "", "share link carrying the room id")
}

func roomFromArgs(args []string, link string) (domain.RoomID, error) {
	switch {
	case link != "" && len(args) > 0:
		return "", errors.New("pass either a room id or --link, not both")
	case link != "":
		id, ok := domain.RoomIDFromURL(link)
		if !ok {
			return "", fmt.Errorf("no room id in link %q", link)
		}
		return id, nil
	case len(args) == 1:
		return domain.RoomID(strings.TrimSpace(args[0])), nil
	}
	return "", errors.New("room id or --link required")
}

// runCall starts a session with start and then relays stdin commands and
// call events until the call ends or the user interrupts.
func runCall(cmd *cobra.Command, start func(ctx context.Context, s *session) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	events, unsubscribe := s.call.Subscribe()
	defer unsubscribe()

	if err := start(ctx, s); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Commands: /audio /video /stats /hangup. Anything else is sent as chat.")

	lines := readLines(cmd.InOrStdin())
	for {
		select {
		case <-ctx.Done():
			s.call.HangUp()
			return nil
		case ev := <-events:
			printEvent(out, ev)
			if ev.Type == domain.EventStateChanged && ev.State == domain.CallIdle {
				return nil
			}
		case line, ok := <-lines:
			if !ok {
				s.call.HangUp()
				return nil
			}
			if done := handleLine(out, s, line); done {
				return nil
			}
		}
	}
}

func handleLine(out io.Writer, s *session, line string) bool {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return false
	case "/hangup", "/quit":
		s.call.HangUp()
		fmt.Fprintln(out, "Call ended")
		return true
	case "/audio":
		printToggle(out, "audio", s.call.ToggleAudio)
	case "/video":
		printToggle(out, "video", s.call.ToggleVideo)
	case "/stats":
		for _, kind := range []domain.MediaKind{domain.MediaAudio, domain.MediaVideo} {
			st := s.counter.Stats(kind)
			fmt.Fprintf(out, "%s: %d packets, %d bytes received\n", kind, st.Packets, st.Bytes)
		}
	default:
		if !s.call.SendChat(line) {
			fmt.Fprintln(out, "Chat is not open yet")
		}
	}
	return false
}

func printToggle(out io.Writer, kind string, toggle func() (bool, bool)) {
	enabled, ok := toggle()
	switch {
	case !ok:
		fmt.Fprintf(out, "No %s track\n", kind)
	case enabled:
		fmt.Fprintf(out, "%s on\n", kind)
	default:
		fmt.Fprintf(out, "%s muted\n", kind)
	}
}

func printEvent(out io.Writer, ev domain.CallEvent) {
	switch ev.Type {
	case domain.EventStateChanged:
		fmt.Fprintf(out, "[%s]\n", ev.State)
	case domain.EventError:
		fmt.Fprintf(out, "error: %v\n", ev.Err)
	case domain.EventChatMessage:
		if ev.Message != nil && ev.Message.Direction != domain.DirectionSelf {
			fmt.Fprintf(out, "%s %s: %s\n", ev.Message.Clock(), ev.Message.Direction, ev.Message.Text)
		}
	case domain.EventRemoteStream:
		fmt.Fprintf(out, "Receiving %s\n", describeTracks(ev.Tracks))
	case domain.EventMediaDegraded:
		fmt.Fprintf(out, "Local media limited to %s\n", describeTracks(ev.Tracks))
	case domain.EventPeerLeft:
		fmt.Fprintln(out, "The other party left")
	}
}

func describeTracks(tracks []domain.TrackInfo) string {
	if len(tracks) == 0 {
		return "nothing"
	}
	kinds := make([]string, 0, len(tracks))
	for _, t := range tracks {
		kinds = append(kinds, string(t.Kind))
	}
	return strings.Join(kinds, "+")
}

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}

// Command mediatorctl is a terminal client for joining a decision session:
// it connects to the mediator WebSocket for pushed messages and submits
// responses and votes over the HTTP API.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
)

// pushMessage mirrors the hub wire format.
type pushMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	MemberID  string `json:"member_id"`
	Text      string `json:"text"`
}

// Client holds the two legs of a participant connection: the WebSocket for
// pushed mediator messages and the HTTP API for actions.
type Client struct {
	apiBase   string
	sessionID string
	memberID  string
	conn      *websocket.Conn
	done      chan struct{}
}

// NewClient connects the WebSocket leg.
func NewClient(apiBase, wsBase, sessionID, memberID string) (*Client, error) {
	addr := fmt.Sprintf("%s/ws?session_id=%s&member_id=%s", strings.TrimSuffix(wsBase, "/"), sessionID, memberID)
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &Client{
		apiBase:   strings.TrimSuffix(apiBase, "/"),
		sessionID: sessionID,
		memberID:  memberID,
		conn:      conn,
		done:      make(chan struct{}),
	}, nil
}

// Close closes the WebSocket connection.
func (c *Client) Close() error {
	close(c.done)
	return c.conn.Close()
}

// ReadMessages prints pushed mediator messages until the connection drops.
func (c *Client) ReadMessages() {
	for {
		select {
		case <-c.done:
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Printf("Read error: %v", err)
				}
				return
			}

			var msg pushMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Printf("Unmarshal error: %v", err)
				continue
			}
			fmt.Printf("\n--- mediator ---\n%s\n> ", msg.Text)
		}
	}
}

// post sends one JSON action to the HTTP API and prints the outcome.
func (c *Client) post(path string, payload map[string]interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Marshal error: %v", err)
		return
	}

	resp, err := http.Post(c.apiBase+path, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("Request error: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		fmt.Printf("Rejected (%d): %s\n", resp.StatusCode, strings.TrimSpace(string(data)))
		return
	}
	fmt.Println("OK")
}

// SubmitResponse sends the line as the member's answer for the current round.
func (c *Client) SubmitResponse(answer string) {
	c.post("/v1/sessions/"+c.sessionID+"/responses", map[string]interface{}{
		"member_id": c.memberID,
		"answer":    answer,
	})
}

// SubmitVote sends a vote for option n.
func (c *Client) SubmitVote(n int) {
	c.post("/v1/sessions/"+c.sessionID+"/votes", map[string]interface{}{
		"member_id": c.memberID,
		"option":    n,
	})
}

func main() {
	apiBase := flag.String("api", "http://localhost:8080", "mediator HTTP API base URL")
	wsBase := flag.String("ws", "ws://localhost:8080", "mediator WebSocket base URL")
	sessionID := flag.String("session", "", "session id")
	memberID := flag.String("member", "", "member id")
	flag.Parse()

	log.SetFlags(log.Ltime)

	if *sessionID == "" || *memberID == "" {
		log.Fatal("both -session and -member are required (create or join via the HTTP API first)")
	}

	fmt.Printf("Connecting to %s...\n", *wsBase)
	client, err := NewClient(*apiBase, *wsBase, *sessionID, *memberID)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	fmt.Println("Connected.")
	fmt.Println("Type a message and press Enter to submit it as your answer.")
	fmt.Println("Commands: /vote N to vote, /quit to exit")
	fmt.Println()

	go client.ReadMessages()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			return
		default:
			if !scanner.Scan() {
				return
			}

			input := strings.TrimSpace(scanner.Text())
			if input == "" {
				continue
			}
			if input == "/quit" {
				fmt.Println("Bye!")
				return
			}
			if rest, ok := strings.CutPrefix(input, "/vote "); ok {
				n, err := strconv.Atoi(strings.TrimSpace(rest))
				if err != nil {
					fmt.Println("Usage: /vote N")
					continue
				}
				client.SubmitVote(n)
				continue
			}

			client.SubmitResponse(input)
		}
	}
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-sync/internal/proto"
)

func main() {
	base := flag.String("addr", "http://localhost:8080", "server base URL")
	participant := flag.String("participant", "tester", "participant id to start the session with")
	channel := flag.String("channel", "Main", "channel to post to")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	token, err := startSession(ctx, *base, *participant)
	if err != nil {
		log.Fatalf("session: %v", err)
	}

	wsURL := strings.Replace(*base, "http", "ws", 1) + "/ws?token=" + url.QueryEscape(token)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	payload, _ := json.Marshal(proto.MsgData{Channel: *channel, Text: *text})
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeMsg, Data: payload}); err != nil {
		log.Fatalf("send: %v", err)
	}

	for {
		var outbound struct {
			Type  string          `json:"type"`
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error,omitempty"`
		}
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			log.Fatalf("read: %v", err)
		}

		fmt.Printf("Received outbound: type=%s", outbound.Type)
		if outbound.Event != "" {
			fmt.Printf(" event=%s", outbound.Event)
		}
		fmt.Println()
		if outbound.Error != nil {
			log.Fatalf("error: %s: %s", outbound.Error.Code, outbound.Error.Msg)
		}
		if len(outbound.Data) > 0 {
			fmt.Printf("Raw data: %s\n", string(outbound.Data))
		}
		if outbound.Type == proto.OutboundTypeAck {
			return
		}
	}
}

func startSession(ctx context.Context, base, participant string) (string, error) {
	body, _ := json.Marshal(map[string]string{"participant_id": participant})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/session/anonymous", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var session struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", err
	}
	return session.Token, nil
}

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	BaseURL   = "http://localhost:8080"
	WSURL     = "ws://localhost:8080/ws"
	PairCount = 50 // Pairs of users chatting with each other.
	MsgCount  = 20 // Messages per user.
)

type AuthResponse struct {
	Token    string `json:"access_token"`
	Username string `json:"username"`
}

func main() {
	log.Printf("🔥 STARTING STRESS TEST: %d users, %d messages each...", PairCount*2, MsgCount)
	var wg sync.WaitGroup

	// Pairs: user 0 talks to user 1, user 2 talks to user 3...
	for i := 0; i < PairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}

	wg.Wait()
	log.Println("✅ LOAD TEST COMPLETE")
}

func runPair(pairID int) {
	userA := fmt.Sprintf("loadtestUser%dA", pairID)
	userB := fmt.Sprintf("loadtestUser%dB", pairID)
	pass := "password12345"

	tokenA := authenticate(userA, pass)
	tokenB := authenticate(userB, pass)
	if tokenA == "" || tokenB == "" {
		return
	}

	var wsWg sync.WaitGroup
	wsWg.Add(2)

	go spamChat(&wsWg, tokenA, userA, userB)
	go spamChat(&wsWg, tokenB, userB, userA)

	wsWg.Wait()
}

// authenticate registers (ignoring "already exists") and logs in.
func authenticate(username, password string) string {
	postJSON("/register", map[string]string{"username": username, "password": password})

	resp, err := postJSON("/login", map[string]string{"username": username, "password": password})
	if err != nil {
		log.Printf("❌ Login failed [%s]: %v", username, err)
		return ""
	}
	defer resp.Body.Close()

	var data AuthResponse
	json.NewDecoder(resp.Body).Decode(&data)
	return data.Token
}

func spamChat(wg *sync.WaitGroup, token, user, peer string) {
	defer wg.Done()

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s?token=%s", WSURL, token), nil)
	if err != nil {
		log.Printf("❌ WS connect failed [%s]: %v", user, err)
		return
	}
	defer conn.Close()

	// Drain inbound frames so the server never sees us as stale.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeEvent(conn, "join", map[string]string{"username": user}); err != nil {
		log.Printf("❌ Join failed [%s]: %v", user, err)
		return
	}

	for i := 0; i < MsgCount; i++ {
		payload := map[string]string{
			"text":     fmt.Sprintf("load test message %d from %s", i, user),
			"sender":   user,
			"receiver": peer,
		}
		if err := writeEvent(conn, "sendMessage", payload); err != nil {
			log.Printf("❌ Send failed [%s]: %v", user, err)
			break
		}
		// Small sleep to prevent an instant localhost bottleneck.
		time.Sleep(10 * time.Millisecond)
	}
	log.Printf("✅ %s finished sending %d msgs", user, MsgCount)
}

func writeEvent(conn *websocket.Conn, event string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return conn.WriteJSON(struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}{Event: event, Data: body})
}

func postJSON(endpoint string, data interface{}) (*http.Response, error) {
	jsonData, _ := json.Marshal(data)
	return http.Post(BaseURL+endpoint, "application/json", bytes.NewBuffer(jsonData))
}

package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type loginResponse struct {
	Token    string `json:"access_token"`
	ID       int    `json:"id"`
	Username string `json:"username"`
}

type frame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Sender  string `json:"sender"`
}

var (
	baseURL  = flag.String("base", "http://localhost:8080", "server base URL")
	jobID    = flag.Int("job", 1, "job the applicants write to; its owner must exist")
	users    = flag.Int("users", 100, "number of applicants")
	msgCount = flag.Int("msgs", 20, "messages per applicant")
	pause    = flag.Duration("pause", 10*time.Millisecond, "delay between messages")

	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
)

func main() {
	flag.Parse()
	log.Info().Int("users", *users).Int("msgs", *msgCount).Int("job", *jobID).Msg("starting load test")

	var sent, received atomic.Int64
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *users; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s, r := runApplicant(n)
			sent.Add(int64(s))
			received.Add(int64(r))
		}(i)
	}
	wg.Wait()

	log.Info().
		Int64("sent", sent.Load()).
		Int64("echoed", received.Load()).
		Dur("elapsed", time.Since(start)).
		Msg("load test complete")
}

// runApplicant opens a private chat with the job owner over a websocket and
// sends msgCount messages, counting its own echoes.
func runApplicant(n int) (sent, received int) {
	username := fmt.Sprintf("loadtest%d", n)
	token := authenticate(username, "password123")
	if token == "" {
		return 0, 0
	}

	wsURL := strings.Replace(*baseURL, "http", "ws", 1) +
		fmt.Sprintf("/ws/private/job/%d?token=%s", *jobID, url.QueryEscape(token))
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		log.Error().Err(err).Str("user", username).Int("status", status).Msg("websocket connect failed")
		return 0, 0
	}
	defer conn.Close()

	done := make(chan int)
	go func() {
		count := 0
		for count < *msgCount {
			conn.SetReadDeadline(time.Now().Add(10 * time.Second))
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				break
			}
			if f.Sender == username {
				count++
			}
		}
		done <- count
	}()

	for i := 0; i < *msgCount; i++ {
		if err := conn.WriteJSON(map[string]string{"message": fmt.Sprintf("load test message %d from %s", i, username)}); err != nil {
			log.Error().Err(err).Str("user", username).Msg("send failed")
			break
		}
		sent++
		time.Sleep(*pause)
	}

	received = <-done
	log.Debug().Str("user", username).Int("sent", sent).Int("echoed", received).Msg("applicant finished")
	return sent, received
}

// authenticate registers (ignoring "already taken") and logs in.
func authenticate(username, password string) string {
	creds := map[string]string{"username": username, "password": password}
	if resp, err := postJSON("/register", creds); err == nil {
		resp.Body.Close()
	}

	resp, err := postJSON("/login", creds)
	if err != nil {
		log.Error().Err(err).Str("user", username).Msg("login failed")
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Error().Int("status", resp.StatusCode).Str("user", username).Msg("login rejected")
		return ""
	}

	var data loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		log.Error().Err(err).Str("user", username).Msg("bad login response")
		return ""
	}
	return data.Token
}

func postJSON(endpoint string, data interface{}) (*http.Response, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return http.Post(*baseURL+endpoint, "application/json", bytes.NewBuffer(body))
}
